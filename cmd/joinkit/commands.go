package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/joinkit/internal/field"
	"github.com/johndauphine/joinkit/internal/format"
	"github.com/johndauphine/joinkit/internal/ingest"
	"github.com/johndauphine/joinkit/internal/logging"
	"github.com/johndauphine/joinkit/internal/util"
)

func loadFiles(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("load: at least one FILE is required")
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	indexes := util.SplitCSV(c.String("index"))
	for _, path := range c.Args().Slice() {
		conv, err := s.materialize(c.Context, path)
		if err != nil {
			return err
		}
		if len(indexes) > 0 {
			if err := s.ensureIndexes(c.Context, conv, indexes); err != nil {
				return err
			}
		}
		rows, err := s.store.RowCount(c.Context, conv.Table())
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s\t%s\t%d rows\n", conv.Alias(), path, rows)
	}
	return nil
}

// updater is implemented by formats that record when a file was last
// written.
type updater interface {
	Updated() time.Time
}

func showFields(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("fields: exactly one FILE is required")
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	alias, err := s.reg.Acquire(c.Args().First())
	if err != nil {
		return err
	}
	src, err := s.reg.Lookup(alias)
	if err != nil {
		return err
	}

	summary := fmt.Sprintf("%s\t%s", src.Path(), src.Adapter().Format())
	if n, known := src.Adapter().Count(); known {
		summary += fmt.Sprintf("\t%d records", n)
	}
	if u, ok := src.Adapter().(updater); ok && !u.Updated().IsZero() {
		summary += "\tupdated " + u.Updated().Format("2006-01-02")
	}
	fmt.Fprintln(s.out, summary)
	fmt.Fprintf(s.out, "%-24s %-9s %6s %4s\n", "NAME", "TYPE", "LENGTH", "DEC")
	for _, f := range src.Fields() {
		fmt.Fprintf(s.out, "%-24s %-9s %6d %4d\n", f.Name, f.Type(), f.Length(), f.Decimals())
	}
	return nil
}

func indexFile(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("index: exactly one FILE is required")
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	conv, err := s.materialize(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	return s.ensureIndexes(c.Context, conv, util.SplitCSV(c.String("field")))
}

func (s *session) ensureIndexes(ctx context.Context, conv *ingest.Conversion, names []string) error {
	fields, err := findFields(conv.Fields(), names)
	if err != nil {
		return err
	}
	for _, f := range fields {
		index, err := s.store.EnsureIndex(ctx, conv.Table(), f)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s\t%s\n", conv.Table(), index)
	}
	return nil
}

func exportFile(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("export: exactly one FILE is required")
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	conv, err := s.materialize(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	n, err := s.export(c.Context, conv, c.String("out"))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s\t%s\t%d rows\n", conv.Alias(), c.String("out"), n)
	return nil
}

// export writes the rows of a materialized table to path. An existing
// file at path is backed up first.
func (s *session) export(ctx context.Context, conv *ingest.Conversion, path string) (int64, error) {
	if _, err := os.Stat(path); err == nil {
		backup, err := format.Backup(path)
		if err != nil {
			return 0, err
		}
		logging.Info("Backed up %s to %s", path, backup)
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}

	out, err := s.reg.CreateOutput(path)
	if err != nil {
		return 0, err
	}
	n, err := s.copyRows(ctx, conv, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("exporting %s: %w", conv.Table(), err)
	}
	return n, nil
}

func (s *session) copyRows(ctx context.Context, conv *ingest.Conversion, out format.Adapter) (int64, error) {
	fields := conv.Fields()
	if err := out.DefineFields(fields); err != nil {
		return 0, err
	}
	columns := make([]string, len(fields))
	types := make([]field.Type, len(fields))
	for i, f := range fields {
		columns[i] = f.Column
		types[i] = field.Negotiate(f, out.Format()).Type()
	}

	rows, err := s.store.Select(ctx, conv.Table(), columns)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	var n int64
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, err
		}
		rec := make(format.Record, len(fields))
		for i, f := range fields {
			rec[f.Name] = exportValue(values[i], types[i])
		}
		if err := out.Append(rec); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
}

// exportValue turns a scanned store value into one the output accepts.
// NULL becomes the blank value of the field type.
func exportValue(v any, t field.Type) any {
	if v == nil {
		return field.BlankValue(t)
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch t {
	case field.Date, field.DateTime:
		if s, ok := v.(string); ok {
			for _, layout := range timeLayouts {
				if parsed, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
					return parsed
				}
			}
		}
	case field.Logical:
		switch b := v.(type) {
		case int64:
			return b != 0
		case string:
			if b == "" {
				return field.BlankValue(t)
			}
		}
	}
	return v
}

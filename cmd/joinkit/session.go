package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/joinkit/internal/config"
	"github.com/johndauphine/joinkit/internal/field"
	"github.com/johndauphine/joinkit/internal/format"
	"github.com/johndauphine/joinkit/internal/ingest"
	"github.com/johndauphine/joinkit/internal/logging"
	"github.com/johndauphine/joinkit/internal/progress"
	"github.com/johndauphine/joinkit/internal/registry"
	"github.com/johndauphine/joinkit/internal/store"
)

// session is the store and registry one command works against.
type session struct {
	cfg    *config.Config
	store  *store.Store
	reg    *registry.Registry
	out    io.Writer
	errOut io.Writer
}

// loadConfig reads --config, or the defaults, and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	// Override from flags
	if c.IsSet("db") {
		cfg.Store.Driver = config.DefaultDriver
		cfg.Store.Path = c.String("db")
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Logging.Format = c.String("log-format")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openSession(c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(level)
	logging.SetFormat(cfg.Logging.Format)

	st, err := store.Open(c.Context, cfg.Store.Driver, cfg.ConnString())
	if err != nil {
		return nil, err
	}
	if err := st.EnsureCatalog(c.Context); err != nil {
		st.Close()
		return nil, err
	}
	return &session{
		cfg:   cfg,
		store: st,
		reg: registry.New(
			registry.WithMaxAttempts(cfg.Registry.AliasAttempts),
			registry.WithAliasCheck(tableFree(c.Context, st)),
		),
		out:    c.App.Writer,
		errOut: c.App.ErrWriter,
	}, nil
}

// tableFree accepts an alias whose table was loaded from the same path,
// or whose table does not exist yet.
func tableFree(ctx context.Context, st *store.Store) registry.AliasCheck {
	return func(alias, canon string) (bool, error) {
		table := store.TableName(alias)
		prev, ok, err := st.LookupStamp(ctx, table)
		if err != nil {
			return false, err
		}
		if ok {
			return prev.Path == canon, nil
		}
		exists, err := st.TableExists(ctx, table)
		return !exists, err
	}
}

func (s *session) Close() error {
	return errors.Join(s.reg.Close(), s.store.Close())
}

// materialize acquires path and loads it into its table, drawing a
// progress bar while rows are inserted.
func (s *session) materialize(ctx context.Context, path string) (*ingest.Conversion, error) {
	alias, err := s.reg.Acquire(path)
	if err != nil {
		return nil, err
	}
	src, err := s.reg.Lookup(alias)
	if err != nil {
		return nil, err
	}
	enc, err := s.cfg.FallbackEncoding()
	if err != nil {
		return nil, err
	}
	stamp, err := s.refresh(ctx, store.TableName(alias), src.Path())
	if err != nil {
		return nil, err
	}

	conv := ingest.New(s.store, src, alias,
		ingest.WithBatchSize(s.cfg.Ingest.BatchSize),
		ingest.WithFallbackEncoding(enc),
		ingest.WithStamp(stamp),
	)

	var tracker *progress.Tracker
	err = conv.Run(ctx, func(p ingest.Progress) {
		if conv.Skipped() {
			return
		}
		if tracker == nil {
			logging.SetSimpleMode(true)
			tracker = progress.NewWithWriter(alias, s.errOut)
			tracker.SetTotal(p.Total, p.Known)
		}
		tracker.Set(p.Rows)
	})
	if tracker != nil {
		logging.SetSimpleMode(false)
		if err == nil {
			tracker.Finish()
		}
	}
	if err != nil {
		return nil, err
	}
	if conv.Skipped() {
		logging.Info("%s already materialized as %s", path, conv.Table())
		return conv, nil
	}
	stats := conv.Stats()
	logging.Debug("%s loaded in %s (%.0f rows/sec)", conv.Table(), stats.TotalTime().Round(time.Millisecond), stats.RowsPerSecond())
	return conv, nil
}

// refresh stamps path for table and drops the table when it was loaded
// from an older version of the file.
func (s *session) refresh(ctx context.Context, table, path string) (store.Stamp, error) {
	cur, err := store.StampFile(table, path)
	if err != nil {
		return store.Stamp{}, err
	}
	prev, ok, err := s.store.LookupStamp(ctx, table)
	if err != nil || !ok || prev.SameFile(cur) {
		return cur, err
	}
	logging.Info("%s changed since it was loaded, reloading %s", path, table)
	if err := s.store.DropTable(ctx, table); err != nil {
		return store.Stamp{}, err
	}
	if err := s.store.DeleteStamp(ctx, table); err != nil {
		return store.Stamp{}, err
	}
	return cur, nil
}

// findFields resolves comma-separated field names against the bound
// fields of a conversion. Matching ignores case.
func findFields(fields []*field.Field, names []string) ([]*field.Field, error) {
	out := make([]*field.Field, 0, len(names))
	for _, name := range names {
		var found *field.Field
		for _, f := range fields {
			if strings.EqualFold(f.OriginalName, name) || strings.EqualFold(f.Name, name) {
				found = f
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("%w: %q", format.ErrUnknownField, name)
		}
		out = append(out, found)
	}
	return out, nil
}

// Package xlsx implements the format adapter for Excel workbooks using
// excelize. Only the first sheet is read; its first row names the fields.
package xlsx

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/johndauphine/joinkit/internal/field"
	"github.com/johndauphine/joinkit/internal/format"
)

// Name is the format identifier.
const Name = "xlsx"

// defaultSheet is the sheet excelize.NewFile creates.
const defaultSheet = "Sheet1"

var zipMagic = []byte("PK\x03\x04")

func init() {
	format.Register(&Driver{})
}

// Driver implements format.Driver for XLSX workbooks.
type Driver struct{}

func (d *Driver) Name() string         { return Name }
func (d *Driver) Extensions() []string { return []string{".xlsx"} }
func (d *Driver) NameLimit() int       { return 0 }

// Sniff matches the zip local file header every workbook starts with.
func (d *Driver) Sniff(head []byte) bool {
	return bytes.HasPrefix(head, zipMagic)
}

func (d *Driver) Open(path string, mode format.Mode) (format.Adapter, error) {
	f, err := Open(path, mode)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Open opens a workbook for reading, or prepares one for writing. Writers
// create the workbook on disk when they are closed.
func Open(path string, mode format.Mode) (*Workbook, error) {
	if mode == format.ModeWrite {
		return &Workbook{path: path, mode: mode}, nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	xf, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: xlsx: %s: %v", format.ErrInvalidData, path, err)
	}
	sheet := xf.GetSheetName(0)
	if sheet == "" {
		list := xf.GetSheetList()
		if len(list) == 0 {
			xf.Close()
			return nil, fmt.Errorf("%w: xlsx: %s has no sheets", format.ErrInvalidData, path)
		}
		sheet = list[0]
	}

	wb := &Workbook{path: path, mode: mode, xf: xf, sheet: sheet}
	header, err := wb.readHeader()
	if err != nil {
		xf.Close()
		return nil, err
	}
	wb.header = header
	return wb, nil
}

// Workbook is an open XLSX file in read or write mode.
type Workbook struct {
	path   string
	mode   format.Mode
	closed atomic.Bool

	mu     sync.Mutex
	xf     *excelize.File
	sheet  string
	header []string

	// write mode
	sw      *excelize.StreamWriter
	columns map[string]int
	width   int
	rows    int64
}

var _ format.Adapter = (*Workbook)(nil)

func (w *Workbook) Path() string   { return w.path }
func (w *Workbook) Format() string { return Name }

// readHeader returns the first row with blank and duplicate names made
// unique, so every column is addressable by name.
func (w *Workbook) readHeader() ([]string, error) {
	rows, err := w.xf.Rows(w.sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: xlsx: reading rows: %v", format.ErrInvalidData, err)
	}
	defer rows.Close()

	var raw []string
	if rows.Next() {
		raw, err = rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("%w: xlsx: reading header: %v", format.ErrInvalidData, err)
		}
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("%w: xlsx: reading header: %v", format.ErrInvalidData, err)
	}

	renamer := field.NewRenamer(0)
	out := make([]string, len(raw))
	for i, name := range raw {
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		out[i] = renamer.Name(name)
	}
	return out, nil
}

// Fields returns one TEXT field of unknown length per header cell.
func (w *Workbook) Fields() ([]*field.Field, error) {
	if w.mode != format.ModeRead {
		return nil, fmt.Errorf("xlsx fields: %w", format.ErrWrongMode)
	}
	if w.closed.Load() {
		return nil, format.ErrFileClosed
	}
	out := make([]*field.Field, len(w.header))
	for i, name := range w.header {
		out[i] = field.Describe(name, Name, field.Attrs{Type: field.Text})
	}
	return out, nil
}

// Count is unknown for readers: the sheet dimension is not reliable until
// every row has been read. Writers report the rows appended so far.
func (w *Workbook) Count() (int64, bool) {
	if w.mode == format.ModeWrite {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.rows, true
	}
	return 0, false
}

// Records starts a streaming pass over the data rows, skipping the header.
func (w *Workbook) Records() (format.Iterator, error) {
	if w.mode != format.ModeRead {
		return nil, fmt.Errorf("xlsx records: %w", format.ErrWrongMode)
	}
	if w.closed.Load() {
		return nil, format.ErrFileClosed
	}
	w.mu.Lock()
	rows, err := w.xf.Rows(w.sheet)
	w.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", w.sheet, err)
	}
	it := &iterator{wb: w, rows: rows}
	if rows.Next() {
		// header row
		if _, err := rows.Columns(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: xlsx: reading header: %v", format.ErrInvalidData, err)
		}
	}
	return it, nil
}

func (w *Workbook) Backup() (string, error) {
	return format.Backup(w.path)
}

// DefineFields starts the sheet and writes the header row.
func (w *Workbook) DefineFields(fields []*field.Field) error {
	if w.mode != format.ModeWrite {
		return fmt.Errorf("xlsx define fields: %w", format.ErrWrongMode)
	}
	if w.closed.Load() {
		return format.ErrFileClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.xf != nil {
		return fmt.Errorf("xlsx: fields already defined for %s", w.path)
	}
	if len(fields) == 0 {
		return fmt.Errorf("xlsx: no fields to define for %s", w.path)
	}

	xf := excelize.NewFile()
	sw, err := xf.NewStreamWriter(defaultSheet)
	if err != nil {
		xf.Close()
		return fmt.Errorf("creating stream writer: %w", err)
	}

	header := make([]any, len(fields))
	columns := make(map[string]int, len(fields))
	names := make([]string, len(fields))
	renamer := field.NewRenamer(0)
	for i, f := range fields {
		name := renamer.Name(f.Name)
		header[i] = name
		names[i] = name
		columns[f.Name] = i
		columns[name] = i
	}
	if err := sw.SetRow("A1", header); err != nil {
		xf.Close()
		return fmt.Errorf("writing header row: %w", err)
	}

	w.xf = xf
	w.sw = sw
	w.sheet = defaultSheet
	w.header = names
	w.columns = columns
	w.width = len(fields)
	return nil
}

// Append writes one row after the last one written.
func (w *Workbook) Append(rec format.Record) error {
	if w.mode != format.ModeWrite {
		return fmt.Errorf("xlsx append: %w", format.ErrWrongMode)
	}
	if w.closed.Load() {
		return format.ErrFileClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sw == nil {
		return fmt.Errorf("xlsx: append before fields were defined for %s", w.path)
	}

	row := make([]any, w.width)
	for key, v := range rec {
		i, ok := w.columns[key]
		if !ok {
			return fmt.Errorf("%w: %q", format.ErrUnknownField, key)
		}
		row[i] = cellValue(v)
	}
	// Row 1 holds the header.
	cell, err := excelize.CoordinatesToCellName(1, int(w.rows)+2)
	if err != nil {
		return err
	}
	if err := w.sw.SetRow(cell, row); err != nil {
		return fmt.Errorf("writing row %d: %w", w.rows+1, err)
	}
	w.rows++
	return nil
}

// cellValue converts values excelize cannot store as-is.
func cellValue(v any) any {
	switch t := v.(type) {
	case [3]int:
		if t == [3]int{} {
			return nil
		}
		return time.Date(t[0], time.Month(t[1]), t[2], 0, 0, 0, 0, time.UTC)
	case []byte:
		return string(t)
	}
	return v
}

// Close saves a writer's workbook and releases the file. Closing twice
// does nothing.
func (w *Workbook) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.xf == nil {
		return nil
	}
	if w.mode == format.ModeWrite {
		if err := w.sw.Flush(); err != nil {
			w.xf.Close()
			return fmt.Errorf("flushing %s: %w", w.path, err)
		}
		if err := w.save(); err != nil {
			w.xf.Close()
			return err
		}
	}
	return w.xf.Close()
}

// save writes through an os.File rather than SaveAs, which rejects paths
// without a workbook extension.
func (w *Workbook) save() error {
	out, err := os.Create(w.path)
	if err != nil {
		return err
	}
	if err := w.xf.Write(out); err != nil {
		out.Close()
		return fmt.Errorf("saving %s: %w", w.path, err)
	}
	return out.Close()
}

type iterator struct {
	wb   *Workbook
	rows *excelize.Rows
	rec  format.Record
	err  error
	done bool
}

func (it *iterator) Next() bool {
	if it.done {
		return false
	}
	if it.wb.closed.Load() {
		return it.fail(format.ErrFileClosed)
	}
	if !it.rows.Next() {
		if err := it.rows.Error(); err != nil {
			return it.fail(fmt.Errorf("%w: xlsx: %v", format.ErrInvalidData, err))
		}
		it.done = true
		it.rows.Close()
		return false
	}
	cols, err := it.rows.Columns()
	if err != nil {
		return it.fail(fmt.Errorf("%w: xlsx: %v", format.ErrInvalidData, err))
	}

	header := it.wb.header
	rec := make(format.Record, len(header))
	for i, name := range header {
		if i < len(cols) {
			rec[name] = cols[i]
		} else {
			rec[name] = ""
		}
	}
	it.rec = rec
	return true
}

func (it *iterator) fail(err error) bool {
	if it.err == nil {
		it.err = err
	}
	if !it.done {
		it.done = true
		if cerr := it.rows.Close(); cerr != nil && !errors.Is(err, format.ErrFileClosed) {
			it.err = errors.Join(it.err, cerr)
		}
	}
	return false
}

func (it *iterator) Record() format.Record { return it.rec }
func (it *iterator) Err() error            { return it.err }

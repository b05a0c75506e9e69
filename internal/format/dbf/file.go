package dbf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/encoding"

	"github.com/johndauphine/joinkit/internal/field"
	"github.com/johndauphine/joinkit/internal/format"
)

// File is an open DBF file in read or write mode.
type File struct {
	path   string
	mode   format.Mode
	closed atomic.Bool

	mu  sync.Mutex
	f   *os.File
	hdr *header

	// write mode
	w       *bufio.Writer
	columns map[string]int
	blank   []byte
}

var (
	_ format.Adapter = (*File)(nil)
	_ format.Charset = (*File)(nil)
)

// Path returns the file path.
func (d *File) Path() string { return d.path }

// Format returns "dbf".
func (d *File) Format() string { return Name }

// Version returns the header version byte.
func (d *File) Version() byte {
	if d.hdr == nil {
		return 0
	}
	return d.hdr.version
}

// Updated returns the last-update date stored in the header.
func (d *File) Updated() time.Time {
	if d.hdr == nil {
		return time.Time{}
	}
	return d.hdr.updated
}

// Charset returns the code page named by the header's language driver
// byte, or nil when the byte is unset or unknown.
func (d *File) Charset() encoding.Encoding {
	if d.hdr == nil {
		return nil
	}
	return codePages[d.hdr.langDriver]
}

// Fields returns the file's field definitions in header order.
func (d *File) Fields() ([]*field.Field, error) {
	if d.mode != format.ModeRead {
		return nil, fmt.Errorf("dbf fields: %w", format.ErrWrongMode)
	}
	if d.closed.Load() {
		return nil, format.ErrFileClosed
	}
	out := make([]*field.Field, len(d.hdr.fields))
	for i, desc := range d.hdr.fields {
		t, ok := TypeForCode(desc.code)
		if !ok {
			t = field.Text
		}
		out[i] = field.Describe(desc.name, Name, field.Attrs{
			Type:     t,
			Length:   desc.length,
			Decimals: desc.decimals,
		})
	}
	return out, nil
}

// Count returns the record count from the header, or the number of
// records appended so far for writers. DBF always knows its count.
func (d *File) Count() (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hdr == nil {
		return 0, true
	}
	return int64(d.hdr.count), true
}

// Records starts a pass over every physical record, deleted ones included,
// in file order. Each call starts an independent pass.
func (d *File) Records() (format.Iterator, error) {
	if d.mode != format.ModeRead {
		return nil, fmt.Errorf("dbf records: %w", format.ErrWrongMode)
	}
	if d.closed.Load() {
		return nil, format.ErrFileClosed
	}
	size := int64(d.hdr.count) * int64(d.hdr.recordLen)
	return &iterator{
		file: d,
		r:    bufio.NewReaderSize(io.NewSectionReader(d.f, int64(d.hdr.headerLen), size), 64*1024),
		buf:  make([]byte, d.hdr.recordLen),
	}, nil
}

// Backup renames the file to a non-colliding .old name.
func (d *File) Backup() (string, error) {
	return format.Backup(d.path)
}

// DefineFields negotiates fields into DBF types, shortens their names to
// ten characters and creates the file with an empty record set.
func (d *File) DefineFields(fields []*field.Field) error {
	if d.mode != format.ModeWrite {
		return fmt.Errorf("dbf define fields: %w", format.ErrWrongMode)
	}
	if d.closed.Load() {
		return format.ErrFileClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hdr != nil {
		return fmt.Errorf("dbf: fields already defined for %s", d.path)
	}
	if len(fields) == 0 {
		return fmt.Errorf("dbf: no fields to define for %s", d.path)
	}

	renamer := field.NewRenamer(NameLimit)
	descs := make([]descriptor, len(fields))
	columns := make(map[string]int, len(fields)*2)
	for i, f := range fields {
		nf := field.Negotiate(f, Name)
		name := renamer.Name(f.Name)
		descs[i] = sizeDescriptor(name, nf.Attrs())
		columns[f.Name] = i
		columns[name] = i
	}

	hdr, err := newHeader(descs, time.Now())
	if err != nil {
		return fmt.Errorf("dbf %s: %w", d.path, err)
	}
	out, err := os.OpenFile(d.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := out.Write(hdr.encode()); err != nil {
		out.Close()
		return fmt.Errorf("writing dbf header: %w", err)
	}

	d.f = out
	d.hdr = hdr
	d.w = bufio.NewWriter(out)
	d.columns = columns
	d.blank = blankRecord(hdr)
	return nil
}

// sizeDescriptor applies DBF width rules to a negotiated field.
func sizeDescriptor(name string, a field.Attrs) descriptor {
	d := descriptor{name: name, code: CodeForType(a.Type), length: a.Length, decimals: a.Decimals}
	switch d.code {
	case 'D', 'T':
		d.length, d.decimals = 8, 0
	case 'I':
		d.length, d.decimals = 4, 0
	case 'L':
		d.length, d.decimals = 1, 0
	case 'N', 'F':
		if d.length <= 0 || d.length > 20 {
			d.length = 20
		}
		if d.decimals > 15 {
			d.decimals = 15
		}
		if d.decimals > 0 && d.decimals > d.length-2 {
			d.decimals = d.length - 2
		}
		if d.decimals < 0 {
			d.decimals = 0
		}
	default:
		if d.length <= 0 || d.length > field.DefaultLength {
			d.length = field.DefaultLength
		}
		d.decimals = 0
	}
	return d
}

func blankRecord(h *header) []byte {
	rec := make([]byte, h.recordLen)
	rec[0] = ' '
	for _, d := range h.fields {
		fill := byte(' ')
		if d.code == 'I' || d.code == 'T' {
			fill = 0
		}
		for i := 0; i < d.length; i++ {
			rec[1+d.offset+i] = fill
		}
	}
	return rec
}

// Append writes one record. Keys may be the defined field names or the
// shortened on-disk names; fields missing from rec are left blank.
func (d *File) Append(rec format.Record) error {
	if d.mode != format.ModeWrite {
		return fmt.Errorf("dbf append: %w", format.ErrWrongMode)
	}
	if d.closed.Load() {
		return format.ErrFileClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hdr == nil {
		return fmt.Errorf("dbf: append before fields were defined for %s", d.path)
	}

	buf := make([]byte, len(d.blank))
	copy(buf, d.blank)
	for key, v := range rec {
		i, ok := d.columns[key]
		if !ok {
			return fmt.Errorf("%w: %q", format.ErrUnknownField, key)
		}
		desc := d.hdr.fields[i]
		if err := encodeValue(desc, v, buf[1+desc.offset:1+desc.offset+desc.length]); err != nil {
			return fmt.Errorf("field %s: %w", desc.name, err)
		}
	}
	if _, err := d.w.Write(buf); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	d.hdr.count++
	return nil
}

// Close flushes a writer (EOF marker, final record count) and releases the
// file. Closing an already closed file does nothing.
func (d *File) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	if d.mode == format.ModeWrite {
		if err := d.finish(); err != nil {
			d.f.Close()
			return err
		}
	}
	return d.f.Close()
}

func (d *File) finish() error {
	if err := d.w.WriteByte(eofMarker); err != nil {
		return fmt.Errorf("writing eof marker: %w", err)
	}
	if err := d.w.Flush(); err != nil {
		return fmt.Errorf("flushing records: %w", err)
	}
	d.hdr.updated = time.Now()
	if _, err := d.f.WriteAt(d.hdr.encode(), 0); err != nil {
		return fmt.Errorf("rewriting header: %w", err)
	}
	return nil
}

// iterator reads records sequentially through a buffered section reader.
type iterator struct {
	file  *File
	r     *bufio.Reader
	buf   []byte
	index uint32
	rec   format.Record
	err   error
}

func (it *iterator) Next() bool {
	if it.err != nil || it.index >= it.file.hdr.count {
		return false
	}
	if it.file.closed.Load() {
		it.err = format.ErrFileClosed
		return false
	}
	if _, err := io.ReadFull(it.r, it.buf); err != nil {
		switch {
		case errors.Is(err, os.ErrClosed):
			it.err = format.ErrFileClosed
		case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
			it.err = fmt.Errorf("%w: dbf: record %d is truncated", format.ErrInvalidData, it.index)
		default:
			it.err = fmt.Errorf("reading record %d: %w", it.index, err)
		}
		return false
	}

	fields := it.file.hdr.fields
	rec := make(format.Record, len(fields))
	for _, desc := range fields {
		rec[desc.name] = decodeValue(desc, it.buf[1+desc.offset:1+desc.offset+desc.length])
	}
	it.rec = rec
	it.index++
	return true
}

func (it *iterator) Record() format.Record { return it.rec }

func (it *iterator) Err() error { return it.err }

package dbf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/johndauphine/joinkit/internal/field"
	"github.com/johndauphine/joinkit/internal/format"
)

const (
	headerSize     = 32
	descriptorSize = 32
	terminator     = 0x0d
	eofMarker      = 0x1a
	backlinkSize   = 263 // Visual FoxPro stores a database container path after the descriptors

	versionDBase3 = 0x03
	versionVFP    = 0x30
)

var knownVersions = map[byte]bool{
	0x02: true, 0x03: true, 0x04: true, 0x05: true,
	0x30: true, 0x31: true, 0x32: true,
	0x43: true, 0x63: true, 0x83: true, 0x8b: true,
	0xcb: true, 0xe5: true, 0xf5: true, 0xfb: true,
}

// descriptor is one field definition from the header.
type descriptor struct {
	name     string
	code     byte
	offset   int // within the record, after the deletion flag
	length   int
	decimals int
}

type header struct {
	version    byte
	updated    time.Time
	count      uint32
	headerLen  uint16
	recordLen  uint16
	langDriver byte
	fields     []descriptor
}

func invalid(msg string, args ...any) error {
	return fmt.Errorf("%w: dbf: %s", format.ErrInvalidData, fmt.Sprintf(msg, args...))
}

// readHeader parses and validates the header of a file of the given size.
func readHeader(r io.ReaderAt, size int64) (*header, error) {
	if size < headerSize+1 {
		return nil, invalid("file is %d bytes, too short for a header", size)
	}
	fixed := make([]byte, headerSize)
	if _, err := r.ReadAt(fixed, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	h := &header{
		version:    fixed[0],
		count:      binary.LittleEndian.Uint32(fixed[4:8]),
		headerLen:  binary.LittleEndian.Uint16(fixed[8:10]),
		recordLen:  binary.LittleEndian.Uint16(fixed[10:12]),
		langDriver: fixed[29],
	}
	if !knownVersions[h.version] {
		return nil, invalid("unknown version byte 0x%02x", h.version)
	}
	h.updated = time.Date(1900+int(fixed[1]), time.Month(fixed[2]), int(fixed[3]), 0, 0, 0, 0, time.UTC)

	if int(h.headerLen) < headerSize+1 || int64(h.headerLen) > size {
		return nil, invalid("header length %d out of range", h.headerLen)
	}
	raw := make([]byte, h.headerLen)
	if _, err := r.ReadAt(raw, 0); err != nil {
		return nil, fmt.Errorf("reading field descriptors: %w", err)
	}

	offset := 0
	pos := headerSize
	for {
		if pos >= len(raw) {
			return nil, invalid("missing field descriptor terminator")
		}
		if raw[pos] == terminator {
			break
		}
		if pos+descriptorSize > len(raw) {
			return nil, invalid("truncated field descriptor at byte %d", pos)
		}
		d := parseDescriptor(raw[pos : pos+descriptorSize])
		if d.name == "" {
			return nil, invalid("empty field name at byte %d", pos)
		}
		d.offset = offset
		offset += d.length
		h.fields = append(h.fields, d)
		pos += descriptorSize
	}

	if len(h.fields) == 0 {
		return nil, invalid("no fields defined")
	}
	// Names that repeat, ignoring case, get a numeric suffix so records
	// and backing columns stay one per descriptor.
	renamer := field.NewRenamer(0)
	for i := range h.fields {
		h.fields[i].name = renamer.Name(h.fields[i].name)
	}
	if int(h.recordLen) != offset+1 {
		return nil, invalid("record length %d does not match field widths (%d)", h.recordLen, offset+1)
	}
	need := int64(h.headerLen) + int64(h.count)*int64(h.recordLen)
	if need > size {
		return nil, invalid("file is %d bytes, header promises %d records needing %d", size, h.count, need)
	}
	return h, nil
}

func parseDescriptor(b []byte) descriptor {
	name := b[:11]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	d := descriptor{
		name:     strings.TrimSpace(string(name)),
		code:     upper(b[11]),
		length:   int(b[16]),
		decimals: int(b[17]),
	}
	// FoxPro stores character widths above 255 in the decimals byte.
	if d.code == 'C' {
		d.length = int(b[16]) | int(b[17])<<8
		d.decimals = 0
	}
	return d
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

// encode renders the header, descriptors and terminator.
func (h *header) encode() []byte {
	buf := make([]byte, h.headerLen)
	buf[0] = h.version
	buf[1] = byte(h.updated.Year() - 1900)
	buf[2] = byte(h.updated.Month())
	buf[3] = byte(h.updated.Day())
	binary.LittleEndian.PutUint32(buf[4:8], h.count)
	binary.LittleEndian.PutUint16(buf[8:10], h.headerLen)
	binary.LittleEndian.PutUint16(buf[10:12], h.recordLen)
	buf[29] = h.langDriver

	pos := headerSize
	for _, d := range h.fields {
		b := buf[pos : pos+descriptorSize]
		copy(b[:10], d.name)
		b[11] = d.code
		binary.LittleEndian.PutUint32(b[12:16], uint32(d.offset+1))
		if d.code == 'C' {
			b[16] = byte(d.length)
			b[17] = byte(d.length >> 8)
		} else {
			b[16] = byte(d.length)
			b[17] = byte(d.decimals)
		}
		pos += descriptorSize
	}
	buf[pos] = terminator
	return buf
}

// newHeader lays out a header for the given descriptors.
func newHeader(fields []descriptor, now time.Time) (*header, error) {
	h := &header{version: versionDBase3, updated: now, fields: fields}
	for _, d := range fields {
		if d.code == 'I' || d.code == 'T' {
			h.version = versionVFP
		}
	}
	hl := headerSize + len(fields)*descriptorSize + 1
	if h.version == versionVFP {
		hl += backlinkSize
	}
	if hl > math.MaxUint16 {
		return nil, fmt.Errorf("%d fields need a %d byte header, more than dbf allows", len(fields), hl)
	}
	h.headerLen = uint16(hl)

	offset := 0
	for i := range h.fields {
		h.fields[i].offset = offset
		offset += h.fields[i].length
	}
	if offset+1 > math.MaxUint16 {
		return nil, fmt.Errorf("fields need a %d byte record, more than dbf allows (%d)", offset+1, math.MaxUint16)
	}
	h.recordLen = uint16(offset + 1)
	return h, nil
}

// Package dbf implements the format adapter for dBase/FoxPro table files.
// It registers itself with the format registry on import.
package dbf

import (
	"fmt"
	"os"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/johndauphine/joinkit/internal/field"
	"github.com/johndauphine/joinkit/internal/format"
)

// Name is the format identifier, also used as the field attribute view key.
const Name = "dbf"

// NameLimit is the historical DBF field name length.
const NameLimit = 10

func init() {
	format.Register(&Driver{})
}

// Driver implements format.Driver for DBF files.
type Driver struct{}

// Name returns the format name.
func (d *Driver) Name() string { return Name }

// Extensions returns the file extensions DBF files use.
func (d *Driver) Extensions() []string { return []string{".dbf"} }

// NameLimit returns the maximum field name length.
func (d *Driver) NameLimit() int { return NameLimit }

// Sniff checks the version byte and the last-update date in the header.
func (d *Driver) Sniff(head []byte) bool {
	if len(head) < headerSize {
		return false
	}
	if !knownVersions[head[0]] {
		return false
	}
	month, day := head[2], head[3]
	return month >= 1 && month <= 12 && day >= 1 && day <= 31
}

// Open opens a DBF file for reading, or prepares one for writing. Writers
// create the file when fields are defined.
func (d *Driver) Open(path string, mode format.Mode) (format.Adapter, error) {
	f, err := Open(path, mode)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Open is a convenience for (&Driver{}).Open.
func Open(path string, mode format.Mode) (*File, error) {
	if mode == format.ModeWrite {
		return &File{path: path, mode: mode}, nil
	}
	return openRead(path)
}

func openRead(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	hdr, err := readHeader(f, st.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &File{path: path, mode: format.ModeRead, f: f, hdr: hdr}, nil
}

// codeTypes maps DBF type codes to semantic types.
var codeTypes = map[byte]field.Type{
	'C': field.Text,
	'N': field.Numeric,
	'F': field.Real,
	'D': field.Date,
	'I': field.Integer,
	'T': field.DateTime,
	'L': field.Logical,
}

// typeCodes maps semantic types back to DBF type codes.
var typeCodes = map[field.Type]byte{
	field.Text:     'C',
	field.Numeric:  'N',
	field.Real:     'F',
	field.Date:     'D',
	field.Integer:  'I',
	field.DateTime: 'T',
	field.Logical:  'L',
	field.OID:      'I',
}

// TypeForCode returns the semantic type of a DBF type code.
func TypeForCode(code byte) (field.Type, bool) {
	t, ok := codeTypes[code]
	return t, ok
}

// CodeForType returns the DBF type code for a semantic type. Unknown types
// are stored as character fields.
func CodeForType(t field.Type) byte {
	if c, ok := typeCodes[t]; ok {
		return c
	}
	return 'C'
}

// codePages maps the language driver byte (header offset 29) to a charset.
var codePages = map[byte]encoding.Encoding{
	0x01: charmap.CodePage437,
	0x02: charmap.CodePage850,
	0x03: charmap.Windows1252,
	0x04: charmap.Macintosh,
	0x26: charmap.CodePage866,
	0x57: charmap.Windows1252,
	0x58: charmap.Windows1252,
	0x59: charmap.Windows1252,
	0x64: charmap.CodePage852,
	0x65: charmap.CodePage866,
	0x66: charmap.CodePage865,
	0x7d: charmap.Windows1255,
	0x7e: charmap.Windows1256,
	0xc8: charmap.Windows1250,
	0xc9: charmap.Windows1251,
	0xca: charmap.Windows1254,
	0xcb: charmap.Windows1253,
}

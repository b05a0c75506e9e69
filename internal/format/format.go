// Package format defines the contract every tabular file format implements.
// Each format (DBF, XLSX, ...) provides a Driver that opens files as Adapters.
//
// To add a new format:
// 1. Create a package under internal/format/<name>/
// 2. Implement the Driver and Adapter interfaces
// 3. Register via init(): format.Register(&MyDriver{})
package format

import (
	"errors"

	"golang.org/x/text/encoding"

	"github.com/johndauphine/joinkit/internal/field"
)

var (
	// ErrInvalidData means a file exists but its structure cannot be parsed.
	ErrInvalidData = errors.New("invalid data")

	// ErrFileClosed is returned by operations on a closed adapter,
	// including iterators that were still running when it was closed.
	ErrFileClosed = errors.New("file closed")

	// ErrWrongMode is returned when a read operation is used on a writer
	// or the other way around.
	ErrWrongMode = errors.New("operation not valid in this mode")

	// ErrUnknownFormat means no registered driver handles a file.
	ErrUnknownFormat = errors.New("unknown file format")

	// ErrUnknownField means a record names a field that was never defined.
	ErrUnknownField = errors.New("unknown field")
)

// Mode selects how a file is opened.
type Mode int

const (
	// ModeRead opens an existing file for introspection and iteration.
	ModeRead Mode = iota
	// ModeWrite creates a file. Fields must be defined before appending.
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// Record is one row keyed by field name.
type Record map[string]any

// Iterator walks the records of one pass over a file, in file order.
// It follows the database/sql Rows convention: call Next until it returns
// false, then check Err.
type Iterator interface {
	Next() bool
	Record() Record
	Err() error
}

// Adapter is an open tabular file.
type Adapter interface {
	// Path returns the file path the adapter was opened with.
	Path() string

	// Format returns the driver name, which is also the identifier of the
	// attribute view fields carry for this format.
	Format() string

	// Fields introspects the file's schema. Read mode only.
	Fields() ([]*field.Field, error)

	// DefineFields creates the on-disk schema. Write mode only, and only
	// before the first Append.
	DefineFields(fields []*field.Field) error

	// Append writes one record. Write mode only.
	Append(rec Record) error

	// Records starts a new pass over the file's records. Read mode only.
	Records() (Iterator, error)

	// Count returns the number of records, and false when the format
	// cannot know it without reading the whole file.
	Count() (int64, bool)

	// Backup renames the file out of the way; see Backup.
	Backup() (string, error)

	// Close releases the file. Closing twice is not an error.
	Close() error
}

// Charset is implemented by adapters that know the code page their text
// is stored in.
type Charset interface {
	Charset() encoding.Encoding
}

// Driver opens files of one format.
type Driver interface {
	// Name returns the format identifier (e.g., "dbf").
	Name() string

	// Extensions returns the lower-case file extensions, with dot.
	Extensions() []string

	// Sniff reports whether the leading bytes of a file look like this format.
	Sniff(head []byte) bool

	// NameLimit is the maximum field name length, 0 for unlimited.
	NameLimit() int

	// Open opens path in the given mode.
	Open(path string, mode Mode) (Adapter, error)
}

// Package field describes table columns independently of any file format.
//
// A Field keeps its original name, a current (possibly renamed) name, the
// backing-store column assigned during ingestion, and a bag of attribute
// views keyed by format identifier. Every format reads and writes its own
// view; "generic" is the format-neutral view every described field carries.
package field

import (
	"maps"
	"strings"
)

// Generic is the format identifier of the format-neutral attribute view.
const Generic = "generic"

// DefaultLength is used when negotiation finds no length to carry over.
const DefaultLength = 254

// Type is a semantic column type.
type Type string

const (
	Text     Type = "TEXT"
	Numeric  Type = "NUMERIC"
	Real     Type = "REAL"
	Integer  Type = "INTEGER"
	Date     Type = "DATE"
	DateTime Type = "DATETIME"
	Logical  Type = "LOGICAL"

	// OID is an autogenerated row identifier. Formats without a native
	// identity type store it as INTEGER.
	OID Type = "OID"
)

// ParseType converts a type name (case-insensitive) to a Type.
// Unknown names yield "" and false.
func ParseType(s string) (Type, bool) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case Text, Numeric, Real, Integer, Date, DateTime, Logical, OID:
		return t, true
	}
	return "", false
}

// Attrs is one format's view of a column. Zero values mean "unknown".
type Attrs struct {
	Type     Type
	Length   int
	Decimals int
}

// Field is one column definition.
type Field struct {
	// OriginalName is the name as read from the source. It never changes.
	OriginalName string

	// Name is the current name, possibly shortened to fit a format.
	Name string

	// Column is the backing-store column identifier, set by ingestion.
	Column string

	views  map[string]Attrs
	active string
}

// Describe maps a format-native column descriptor into a Field. The
// descriptor is stored both as the format's own view and as the generic view.
func Describe(name, format string, native Attrs) *Field {
	f := &Field{
		OriginalName: name,
		Name:         name,
		views:        map[string]Attrs{Generic: native},
		active:       format,
	}
	f.views[format] = native
	return f
}

// New creates a Field with only a generic view.
func New(name string, attrs Attrs) *Field {
	return Describe(name, Generic, attrs)
}

// Copy returns an independent copy of f.
func (f *Field) Copy() *Field {
	c := *f
	c.views = maps.Clone(f.views)
	if c.views == nil {
		c.views = map[string]Attrs{}
	}
	return &c
}

// Active returns the identifier of the view the accessors read from.
func (f *Field) Active() string { return f.active }

// Attrs returns the active view.
func (f *Field) Attrs() Attrs { return f.views[f.active] }

// Type returns the active view's type.
func (f *Field) Type() Type { return f.views[f.active].Type }

// Length returns the active view's length.
func (f *Field) Length() int { return f.views[f.active].Length }

// Decimals returns the active view's decimal count.
func (f *Field) Decimals() int { return f.views[f.active].Decimals }

// HasFormat reports whether f carries a view for format.
func (f *Field) HasFormat(format string) bool {
	_, ok := f.views[format]
	return ok
}

// Format returns the view stored for format.
func (f *Field) Format(format string) (Attrs, bool) {
	a, ok := f.views[format]
	return a, ok
}

// SetFormat stores attrs under format and makes it the active view.
func (f *Field) SetFormat(format string, attrs Attrs) {
	if f.views == nil {
		f.views = map[string]Attrs{}
	}
	f.views[format] = attrs
	f.active = format
}

// UseFormat switches the active view. It reports false, leaving f
// unchanged, when no such view exists.
func (f *Field) UseFormat(format string) bool {
	if _, ok := f.views[format]; !ok {
		return false
	}
	f.active = format
	return true
}

// ResetName restores Name to OriginalName.
func (f *Field) ResetName() { f.Name = f.OriginalName }

// Negotiate returns a copy of f whose active view suits target.
//
// An existing target view is reused verbatim. Otherwise one is derived from
// the active view: missing type becomes TEXT, missing length DefaultLength,
// OID becomes INTEGER. Negotiation never fails.
func Negotiate(f *Field, target string) *Field {
	out := f.Copy()
	if out.UseFormat(target) {
		return out
	}

	src := f.Attrs()
	attrs := Attrs{
		Type:     src.Type,
		Length:   src.Length,
		Decimals: src.Decimals,
	}
	switch attrs.Type {
	case "":
		attrs.Type = Text
	case OID:
		attrs.Type = Integer
	}
	if attrs.Length <= 0 {
		attrs.Length = DefaultLength
	}
	if attrs.Decimals < 0 {
		attrs.Decimals = 0
	}
	out.SetFormat(target, attrs)
	return out
}

// NegotiateAll negotiates every field for target.
func NegotiateAll(fields []*Field, target string) []*Field {
	out := make([]*Field, len(fields))
	for i, f := range fields {
		out[i] = Negotiate(f, target)
	}
	return out
}

package field

import (
	"strconv"
	"strings"
)

// Renamer shortens field names to a format's identifier limit and keeps them
// unique within one table. Comparison is case-insensitive because several
// formats (DBF among them) do not distinguish case in field names.
type Renamer struct {
	limit int
	used  map[string]bool
}

// NewRenamer creates a Renamer for names of at most limit runes.
// A limit of 0 or less disables truncation.
func NewRenamer(limit int) *Renamer {
	return &Renamer{limit: limit, used: make(map[string]bool)}
}

// Rename sets f.Name to a name that fits the limit and has not been
// handed out by this Renamer before, and returns it.
func (r *Renamer) Rename(f *Field) string {
	f.Name = r.Name(f.OriginalName)
	return f.Name
}

// Name returns a unique, limit-respecting version of name. When the limit
// leaves no room for the name, the counter alone is used, so a limit of n
// fits 10^n-1 renamed names.
func (r *Renamer) Name(name string) string {
	base := truncate(name, r.limit)
	if base == "" {
		base = "FIELD"
	}
	candidate := base
	for n := 1; r.used[strings.ToUpper(candidate)]; n++ {
		suffix := strconv.Itoa(n)
		switch keep := r.limit - len(suffix); {
		case r.limit <= 0:
			candidate = base + suffix
		case keep <= 0:
			candidate = suffix
		default:
			candidate = truncate(base, keep) + suffix
		}
	}
	r.used[strings.ToUpper(candidate)] = true
	return candidate
}

// RenameAll renames fields in order so that every name fits limit and no two
// names collide.
func RenameAll(fields []*Field, limit int) {
	r := NewRenamer(limit)
	for _, f := range fields {
		r.Rename(f)
	}
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

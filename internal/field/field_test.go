package field

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDescribeCarriesGenericAndNativeViews(t *testing.T) {
	f := Describe("PARCEL_ID", "dbf", Attrs{Type: Numeric, Length: 10, Decimals: 0})

	if !f.HasFormat(Generic) || !f.HasFormat("dbf") {
		t.Fatalf("views of %s lack generic or dbf", f.Name)
	}
	if f.Active() != "dbf" {
		t.Errorf("Active() = %q, want dbf", f.Active())
	}
	if f.Type() != Numeric || f.Length() != 10 {
		t.Errorf("active view = %+v", f.Attrs())
	}
	if f.Name != f.OriginalName {
		t.Errorf("Name = %q, want %q", f.Name, f.OriginalName)
	}
}

func TestNegotiateDefaults(t *testing.T) {
	tests := []struct {
		name  string
		attrs Attrs
		want  Attrs
	}{
		{"unknown everything", Attrs{}, Attrs{Type: Text, Length: DefaultLength, Decimals: 0}},
		{"known type only", Attrs{Type: Real}, Attrs{Type: Real, Length: DefaultLength}},
		{"identity becomes integer", Attrs{Type: OID, Length: 4}, Attrs{Type: Integer, Length: 4}},
		{"fully known", Attrs{Type: Numeric, Length: 12, Decimals: 3}, Attrs{Type: Numeric, Length: 12, Decimals: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Describe("X", "xlsx", tt.attrs)
			got := Negotiate(f, "dbf")
			if got.Active() != "dbf" {
				t.Fatalf("Active() = %q, want dbf", got.Active())
			}
			if got.Attrs() != tt.want {
				t.Errorf("Negotiate() attrs = %+v, want %+v", got.Attrs(), tt.want)
			}
			if f.HasFormat("dbf") {
				t.Error("Negotiate modified its input")
			}
		})
	}
}

func TestNegotiateReusesNativeView(t *testing.T) {
	f := Describe("AMOUNT", "dbf", Attrs{Type: Numeric, Length: 8, Decimals: 2})
	f.SetFormat("xlsx", Attrs{Type: Text})

	got := Negotiate(f, "dbf")
	if got.Attrs() != (Attrs{Type: Numeric, Length: 8, Decimals: 2}) {
		t.Errorf("native view not reused verbatim: %+v", got.Attrs())
	}
}

func TestNegotiateIsFixedPoint(t *testing.T) {
	inputs := []*Field{
		New("A", Attrs{}),
		New("B", Attrs{Type: OID}),
		Describe("C", "xlsx", Attrs{Type: Date, Length: 8}),
		Describe("D", "dbf", Attrs{Type: Logical, Length: 1}),
	}
	for _, f := range inputs {
		once := Negotiate(f, "dbf")
		twice := Negotiate(once, "dbf")
		if once.Attrs() != twice.Attrs() || once.Name != twice.Name || once.Active() != twice.Active() {
			t.Errorf("%s: Negotiate not idempotent: %+v vs %+v", f.OriginalName, once.Attrs(), twice.Attrs())
		}
	}
}

func TestRenameDisambiguatesTruncationCollisions(t *testing.T) {
	a := New("POPULATION_2010", Attrs{Type: Integer})
	b := New("POPULATION_2020", Attrs{Type: Integer})
	c := New("population_x", Attrs{Type: Integer})

	RenameAll([]*Field{a, b, c}, 10)

	seen := map[string]bool{}
	for _, f := range []*Field{a, b, c} {
		if utf8.RuneCountInString(f.Name) > 10 {
			t.Errorf("%q exceeds limit", f.Name)
		}
		key := strings.ToUpper(f.Name)
		if seen[key] {
			t.Errorf("duplicate name %q", f.Name)
		}
		seen[key] = true
	}
	if a.Name != "POPULATION" {
		t.Errorf("first name = %q, want POPULATION", a.Name)
	}
	if b.Name != "POPULATIO1" {
		t.Errorf("second name = %q, want POPULATIO1", b.Name)
	}
	if b.OriginalName != "POPULATION_2020" {
		t.Errorf("rename changed OriginalName to %q", b.OriginalName)
	}
}

func TestRenameUnlimited(t *testing.T) {
	r := NewRenamer(0)
	if got := r.Name("a_rather_long_column_name"); got != "a_rather_long_column_name" {
		t.Errorf("Name() = %q", got)
	}
	if got := r.Name("A_RATHER_LONG_COLUMN_NAME"); got != "A_RATHER_LONG_COLUMN_NAME1" {
		t.Errorf("case-insensitive duplicate = %q", got)
	}
}

func TestRenameTinyLimits(t *testing.T) {
	tests := []struct {
		limit int
		names []string
		want  []string
	}{
		{1, []string{"AB", "AC", "AD"}, []string{"A", "1", "2"}},
		{2, []string{"ABC", "ABD", "ABE"}, []string{"AB", "A1", "A2"}},
		{3, []string{"X", "x", "X"}, []string{"X", "x1", "X2"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit %d", tt.limit), func(t *testing.T) {
			r := NewRenamer(tt.limit)
			for i, name := range tt.names {
				got := r.Name(name)
				if got != tt.want[i] {
					t.Errorf("Name(%q) = %q, want %q", name, got, tt.want[i])
				}
				if utf8.RuneCountInString(got) > tt.limit {
					t.Errorf("Name(%q) = %q exceeds limit %d", name, got, tt.limit)
				}
			}
		})
	}

	r := NewRenamer(1)
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		got := r.Name("Q")
		if len(got) != 1 || seen[got] {
			t.Fatalf("name #%d = %q, want a fresh single character", i, got)
		}
		seen[got] = true
	}
}

func TestBlankValue(t *testing.T) {
	if got := BlankValue(Text); got != "" {
		t.Errorf("TEXT blank = %#v", got)
	}
	if got := BlankValue(Date); got != [3]int{0, 0, 0} {
		t.Errorf("DATE blank = %#v", got)
	}
	if got := BlankValue(DateTime); got != nil {
		t.Errorf("DATETIME blank = %#v", got)
	}
	if got := BlankValue(Integer); got != 0 {
		t.Errorf("INTEGER blank = %#v", got)
	}
	if got := BlankValue(Numeric); got != 0 {
		t.Errorf("NUMERIC blank = %#v", got)
	}
	if got := BlankValue(Real); got != 0.0 {
		t.Errorf("REAL blank = %#v", got)
	}
	if got := BlankValue(Logical); got != " " {
		t.Errorf("LOGICAL blank = %#v, want single space", got)
	}
	if len(Types()) != 7 {
		t.Errorf("Types() = %v", Types())
	}
}

func TestParseType(t *testing.T) {
	if got, ok := ParseType(" numeric "); !ok || got != Numeric {
		t.Errorf("ParseType(numeric) = %q, %v", got, ok)
	}
	if _, ok := ParseType("BLOB"); ok {
		t.Error("ParseType(BLOB) should fail")
	}
}

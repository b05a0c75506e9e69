package util

import (
	"reflect"
	"testing"
)

func TestSplitCSV(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single value",
			input:    "foo",
			expected: []string{"foo"},
		},
		{
			name:     "multiple values",
			input:    "foo,bar,baz",
			expected: []string{"foo", "bar", "baz"},
		},
		{
			name:     "with whitespace",
			input:    " foo , bar , baz ",
			expected: []string{"foo", "bar", "baz"},
		},
		{
			name:     "trailing comma",
			input:    "foo,bar,",
			expected: []string{"foo", "bar"},
		},
		{
			name:     "leading comma",
			input:    ",foo,bar",
			expected: []string{"foo", "bar"},
		},
		{
			name:     "multiple commas",
			input:    "foo,,bar",
			expected: []string{"foo", "bar"},
		},
		{
			name:     "only commas",
			input:    ",,,",
			expected: nil,
		},
		{
			name:     "only whitespace",
			input:    "   ",
			expected: nil,
		},
		{
			name:     "whitespace between commas",
			input:    " , , ",
			expected: nil,
		},
		{
			name:     "column names with spaces",
			input:    "Column A, Column B, Column C",
			expected: []string{"Column A", "Column B", "Column C"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SplitCSV(tt.input)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("SplitCSV(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFileStem(t *testing.T) {
	tests := map[string]string{
		"/data/parcels.dbf":        "parcels",
		"roads.2020.xlsx":          "roads.2020",
		"noext":                    "noext",
		"/tmp/dir.d/Customers.DBF": "Customers",
	}
	for in, want := range tests {
		if got := FileStem(in); got != want {
			t.Errorf("FileStem(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		limit int
		want  string
	}{
		{"lowercases", "Parcels", 16, "parcels"},
		{"separators collapse", "land use -- 2020", 16, "land_use_2020"},
		{"leading digit", "2020_roads", 16, "f2020_roads"},
		{"leading underscores dropped", "__tmp", 16, "tmp"},
		{"non ascii dropped", "Müller", 16, "m_ller"},
		{"empty", "", 16, "src"},
		{"only symbols", "$$$", 16, "src"},
		{"truncated", "a_very_long_table_name_indeed", 16, "a_very_long_tabl"},
		{"no trailing underscore after truncation", "abcdefghijklmno_p", 16, "abcdefghijklmno"},
		{"unlimited", "a_very_long_table_name_indeed", 0, "a_very_long_table_name_indeed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeIdentifier(tt.input, tt.limit); got != tt.want {
				t.Errorf("SanitizeIdentifier(%q, %d) = %q, want %q", tt.input, tt.limit, got, tt.want)
			}
		})
	}
}

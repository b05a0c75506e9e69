package progress

import (
	"bytes"
	"strings"
	"testing"
)

func TestTrackerKnownTotal(t *testing.T) {
	var buf bytes.Buffer
	tr := NewWithWriter("parcels", &buf)
	tr.SetTotal(500, true)
	tr.Set(250)
	tr.Add(250)
	if tr.Current() != 500 {
		t.Errorf("Current() = %d, want 500", tr.Current())
	}
	if tr.Total() != 500 {
		t.Errorf("Total() = %d, want 500", tr.Total())
	}
	tr.Finish()
	if !strings.Contains(buf.String(), "parcels: loaded 500 rows") {
		t.Errorf("summary missing from output: %q", buf.String())
	}
}

func TestTrackerUnknownTotal(t *testing.T) {
	var buf bytes.Buffer
	tr := NewWithWriter("sheet", &buf)
	tr.SetTotal(0, false)
	if tr.Total() != -1 {
		t.Errorf("Total() = %d, want -1 for spinner mode", tr.Total())
	}
	tr.Set(42)
	tr.Finish()
	if !strings.Contains(buf.String(), "loaded 42 rows") {
		t.Errorf("summary missing from output: %q", buf.String())
	}
}

func TestTrackerWithoutBar(t *testing.T) {
	var buf bytes.Buffer
	tr := NewWithWriter("x", &buf)
	tr.Add(3)
	tr.Finish()
	if tr.Current() != 3 {
		t.Errorf("Current() = %d, want 3", tr.Current())
	}
}

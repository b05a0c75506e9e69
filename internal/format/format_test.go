package format

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/johndauphine/joinkit/internal/field"
)

type stubDriver struct{}

func (stubDriver) Name() string           { return "stub" }
func (stubDriver) Extensions() []string   { return []string{".STB"} }
func (stubDriver) Sniff(head []byte) bool { return bytes.HasPrefix(head, []byte("STUB")) }
func (stubDriver) NameLimit() int         { return 0 }
func (stubDriver) Open(path string, mode Mode) (Adapter, error) {
	return &stubAdapter{path: path}, nil
}

type stubAdapter struct{ path string }

func (a *stubAdapter) Path() string                      { return a.path }
func (a *stubAdapter) Format() string                    { return "stub" }
func (a *stubAdapter) Fields() ([]*field.Field, error)   { return nil, nil }
func (a *stubAdapter) DefineFields([]*field.Field) error { return nil }
func (a *stubAdapter) Append(Record) error               { return nil }
func (a *stubAdapter) Records() (Iterator, error)        { return nil, ErrWrongMode }
func (a *stubAdapter) Count() (int64, bool)              { return 0, false }
func (a *stubAdapter) Backup() (string, error)           { return Backup(a.path) }
func (a *stubAdapter) Close() error                      { return nil }

func init() {
	Register(stubDriver{})
}

func TestForPathByExtension(t *testing.T) {
	d, err := ForPath("/nonexistent/dir/data.stb")
	if err != nil {
		t.Fatalf("ForPath() error: %v", err)
	}
	if d.Name() != "stub" {
		t.Errorf("ForPath() = %q, want stub", d.Name())
	}
}

func TestForPathBySniffing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no_extension")
	if err := os.WriteFile(path, []byte("STUB payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := ForPath(path)
	if err != nil {
		t.Fatalf("ForPath() error: %v", err)
	}
	if d.Name() != "stub" {
		t.Errorf("ForPath() = %q, want stub", d.Name())
	}
}

func TestForPathUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mystery.bin")
	if err := os.WriteFile(path, []byte("????"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ForPath(path); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("ForPath() error = %v, want ErrUnknownFormat", err)
	}
	if _, err := ForPath(filepath.Join(t.TempDir(), "missing.bin")); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("ForPath(missing) error = %v, want ErrUnknownFormat", err)
	}
}

func TestGet(t *testing.T) {
	if _, err := Get("STUB"); err != nil {
		t.Errorf("Get(STUB) error: %v", err)
	}
	if _, err := Get("nope"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Get(nope) error = %v, want ErrUnknownFormat", err)
	}
}

func TestBackupNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.dbf")

	want := []string{path + ".old", path + ".old1", path + ".old2"}
	for i, expected := range want {
		if err := os.WriteFile(path, []byte{byte('a' + i)}, 0o644); err != nil {
			t.Fatal(err)
		}
		got, err := Backup(path)
		if err != nil {
			t.Fatalf("Backup() #%d error: %v", i, err)
		}
		if got != expected {
			t.Errorf("Backup() #%d = %q, want %q", i, got, expected)
		}
	}

	for i, name := range want {
		data, err := os.ReadFile(name)
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if data[0] != byte('a'+i) {
			t.Errorf("%s holds %q, backup was overwritten", name, data)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("original still exists after backup")
	}
}

func TestModeString(t *testing.T) {
	if ModeRead.String() != "read" || ModeWrite.String() != "write" {
		t.Errorf("Mode strings = %q, %q", ModeRead, ModeWrite)
	}
}

package registry

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"testing"

	"github.com/johndauphine/joinkit/internal/field"
	"github.com/johndauphine/joinkit/internal/format"
	"github.com/johndauphine/joinkit/internal/format/dbf"
)

// countingAdapter counts Close calls on a real adapter.
type countingAdapter struct {
	format.Adapter
	closes *int
}

func (a *countingAdapter) Close() error {
	*a.closes++
	return a.Adapter.Close()
}

type tracker struct {
	opens  int
	closes int
}

func (tr *tracker) open(path string, mode format.Mode) (format.Adapter, error) {
	a, err := format.Open(path, mode)
	if err != nil {
		return nil, err
	}
	tr.opens++
	return &countingAdapter{Adapter: a, closes: &tr.closes}, nil
}

func writeDBF(t *testing.T, path string, rows int) {
	t.Helper()
	w, err := dbf.Open(path, format.ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.DefineFields([]*field.Field{
		field.New("ID", field.Attrs{Type: field.Numeric, Length: 6}),
		field.New("NAME", field.Attrs{Type: field.Text, Length: 12}),
	}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < rows; i++ {
		if err := w.Append(format.Record{"ID": i, "NAME": "row"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireSamePathTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parcels.dbf")
	writeDBF(t, path, 3)

	tr := &tracker{}
	r := New(WithOpener(tr.open))

	a1, err := r.Acquire(path)
	if err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}
	a2, err := r.Acquire(path)
	if err != nil {
		t.Fatalf("second Acquire() error: %v", err)
	}
	if a1 == a2 {
		t.Fatalf("aliases are equal: %q", a1)
	}
	if a1 != "parcels" {
		t.Errorf("first alias = %q, want parcels", a1)
	}
	if tr.opens != 1 {
		t.Errorf("file opened %d times, want 1", tr.opens)
	}
	if n := len(r.Sources()); n != 1 {
		t.Fatalf("%d sources, want 1", n)
	}
	s1, _ := r.Lookup(a1)
	s2, _ := r.Lookup(a2)
	if s1 != s2 {
		t.Error("aliases resolve to different sources")
	}
	if r.Refs(a1) != 2 {
		t.Errorf("Refs() = %d, want 2", r.Refs(a1))
	}

	if err := r.Release(a1); err != nil {
		t.Fatal(err)
	}
	if tr.closes != 0 {
		t.Fatalf("source closed while %s is live", a2)
	}
	if _, err := s2.Adapter().Records(); err != nil {
		t.Errorf("source unusable after releasing one alias: %v", err)
	}

	if err := r.Release(a2); err != nil {
		t.Fatal(err)
	}
	if tr.closes != 1 {
		t.Errorf("source closed %d times, want exactly 1", tr.closes)
	}
	if len(r.Sources()) != 0 || len(r.Aliases()) != 0 {
		t.Errorf("registry not empty: %v", r.Aliases())
	}
	if err := r.Release(a2); !errors.Is(err, ErrUnknownAlias) {
		t.Errorf("Release(released) = %v, want ErrUnknownAlias", err)
	}
}

func TestReacquireAfterEvictionOpensFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roads.dbf")
	writeDBF(t, path, 1)

	tr := &tracker{}
	r := New(WithOpener(tr.open))
	a1, _ := r.Acquire(path)
	a2, _ := r.Acquire(path)
	first, _ := r.Lookup(path)
	r.Release(a1)
	r.Release(a2)

	a3, err := r.Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Lookup(a3)
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Error("evicted source was reused")
	}
	if tr.opens != 2 {
		t.Errorf("opens = %d, want 2", tr.opens)
	}
	if _, err := second.Adapter().Records(); err != nil {
		t.Errorf("fresh source unusable: %v", err)
	}
}

func TestCorruptFileLeavesRegistryUnchanged(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.dbf")
	writeDBF(t, good, 2)
	bad := filepath.Join(dir, "bad.dbf")
	if err := os.WriteFile(bad, []byte{0x03, 0x7c, 0x01, 0x01, 0xff}, 0o644); err != nil {
		t.Fatal(err)
	}

	r := New()
	defer r.Close()
	alias, err := r.Acquire(good)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.Acquire(bad); !errors.Is(err, format.ErrInvalidData) {
		t.Fatalf("Acquire(corrupt) = %v, want ErrInvalidData", err)
	}
	if got := r.Aliases(); !reflect.DeepEqual(got, []string{alias}) {
		t.Errorf("Aliases() = %v, want only %q", got, alias)
	}
	if len(r.Sources()) != 1 {
		t.Errorf("%d sources, want 1", len(r.Sources()))
	}

	src, err := r.Lookup(alias)
	if err != nil {
		t.Fatal(err)
	}
	it, err := src.Adapter().Records()
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for it.Next() {
		n++
	}
	if it.Err() != nil || n != 2 {
		t.Errorf("previous source read %d rows, err %v", n, it.Err())
	}
}

func TestAliasExhaustion(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.dbf"), filepath.Join(dir, "b.dbf")
	writeDBF(t, a, 1)
	writeDBF(t, b, 1)

	tr := &tracker{}
	calls := 0
	r := New(
		WithOpener(tr.open),
		WithMaxAttempts(3),
		WithAliasFunc(func(string, int) string {
			calls++
			return "same"
		}),
	)
	if _, err := r.Acquire(a); err != nil {
		t.Fatal(err)
	}
	calls = 0
	_, err := r.Acquire(b)
	if !errors.Is(err, ErrAliasExhausted) {
		t.Fatalf("Acquire() = %v, want ErrAliasExhausted", err)
	}
	if calls != 3 {
		t.Errorf("alias attempts = %d, want 3", calls)
	}
	if tr.closes != 1 {
		t.Errorf("adapter for %s closed %d times, want 1", b, tr.closes)
	}
	if len(r.Sources()) != 1 || len(r.Aliases()) != 1 {
		t.Errorf("registry changed: sources %d, aliases %v", len(r.Sources()), r.Aliases())
	}
	if _, err := r.Lookup(b); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("Lookup(%s) = %v, want ErrUnknownSource", b, err)
	}
}

func TestAliasCheckSkipsTakenAliases(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parcels.dbf")
	writeDBF(t, path, 1)

	var checked []string
	r := New(WithAliasCheck(func(alias, canon string) (bool, error) {
		checked = append(checked, alias)
		if filepath.Base(canon) != "parcels.dbf" {
			t.Errorf("check got canon %q", canon)
		}
		return alias != "parcels", nil
	}))
	defer r.Close()

	alias, err := r.Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	if alias == "parcels" || !regexp.MustCompile(`^parcels_[0-9a-f]{4}$`).MatchString(alias) {
		t.Errorf("alias = %q, want a suffixed alias", alias)
	}
	if len(checked) != 2 || checked[0] != "parcels" {
		t.Errorf("checked = %v", checked)
	}
}

func TestAliasCheckErrorLeavesRegistryUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roads.dbf")
	writeDBF(t, path, 1)

	boom := errors.New("store offline")
	tr := &tracker{}
	r := New(WithOpener(tr.open), WithAliasCheck(func(string, string) (bool, error) {
		return false, boom
	}))
	if _, err := r.Acquire(path); !errors.Is(err, boom) {
		t.Fatalf("Acquire() = %v, want %v", err, boom)
	}
	if tr.closes != 1 || len(r.Aliases()) != 0 || len(r.Sources()) != 0 {
		t.Errorf("closes=%d aliases=%v sources=%d", tr.closes, r.Aliases(), len(r.Sources()))
	}
}

func TestDefaultAlias(t *testing.T) {
	if got := DefaultAlias("2020 Parcels", 0); got != "f2020_parcels" {
		t.Errorf("DefaultAlias(attempt 0) = %q", got)
	}
	if got := DefaultAlias("Parcels_of_the_whole_county", 0); got != "parcels_of_the_w" {
		t.Errorf("DefaultAlias(long) = %q", got)
	}
	retry := regexp.MustCompile(`^parcels_[0-9a-f]{4}$`)
	if got := DefaultAlias("parcels", 1); !retry.MatchString(got) {
		t.Errorf("DefaultAlias(attempt 1) = %q, want parcels_xxxx", got)
	}
}

func TestCollidingStemsGetDistinctAliases(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "parcels.dbf")
	p2 := filepath.Join(dir, "Parcels.xdbf")
	writeDBF(t, p1, 1)
	writeDBF(t, p2, 1)

	r := New()
	defer r.Close()
	a1, err := r.Acquire(p1)
	if err != nil {
		t.Fatal(err)
	}
	a2, err := r.Acquire(p2)
	if err != nil {
		t.Fatal(err)
	}
	if a1 == a2 {
		t.Fatalf("aliases collide: %q", a1)
	}
	if len(r.Sources()) != 2 {
		t.Errorf("%d sources, want 2", len(r.Sources()))
	}
}

func TestLookupAndOrder(t *testing.T) {
	dir := t.TempDir()
	names := []string{"zeta.dbf", "alpha.dbf", "mid.dbf"}
	r := New()
	defer r.Close()
	var aliases []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		writeDBF(t, p, 1)
		a, err := r.Acquire(p)
		if err != nil {
			t.Fatal(err)
		}
		aliases = append(aliases, a)
	}
	if !reflect.DeepEqual(r.Aliases(), []string{"zeta", "alpha", "mid"}) {
		t.Errorf("Aliases() = %v, want registration order", r.Aliases())
	}
	srcs := r.Sources()
	for i, s := range srcs {
		if filepath.Base(s.Path()) != names[i] {
			t.Errorf("Sources()[%d] = %s, want %s", i, s.Path(), names[i])
		}
	}

	byPath, err := r.Lookup(filepath.Join(dir, "alpha.dbf"))
	if err != nil {
		t.Fatal(err)
	}
	if byPath != srcs[1] {
		t.Error("Lookup(path) returned a different source than Lookup(alias)")
	}
	if f, ok := byPath.Field("NAME"); !ok || f.Type() != field.Text {
		t.Errorf("Field(NAME) = %v, %v", f, ok)
	}
	if _, err := r.Lookup("nope"); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("Lookup(nope) = %v, want ErrUnknownSource", err)
	}
}

func TestSymlinkSharesSource(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.dbf")
	writeDBF(t, target, 1)
	link := filepath.Join(dir, "link.dbf")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	r := New()
	defer r.Close()
	if _, err := r.Acquire(target); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Acquire(link); err != nil {
		t.Fatal(err)
	}
	if len(r.Sources()) != 1 {
		t.Errorf("%d sources for one file, want 1", len(r.Sources()))
	}
}

func TestCreateOutputIsNotRegistered(t *testing.T) {
	r := New()
	out, err := r.CreateOutput(filepath.Join(t.TempDir(), "out.dbf"))
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if out.Format() != dbf.Name {
		t.Errorf("output format = %s", out.Format())
	}
	if len(r.Aliases()) != 0 || len(r.Sources()) != 0 {
		t.Error("output was registered")
	}
}

func TestCloseClosesEverySource(t *testing.T) {
	dir := t.TempDir()
	tr := &tracker{}
	r := New(WithOpener(tr.open))
	for _, n := range []string{"a.dbf", "b.dbf"} {
		p := filepath.Join(dir, n)
		writeDBF(t, p, 1)
		if _, err := r.Acquire(p); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Acquire(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if tr.closes != 2 {
		t.Errorf("closes = %d, want 2", tr.closes)
	}
	if len(r.Aliases()) != 0 {
		t.Errorf("aliases left after Close: %v", r.Aliases())
	}
}

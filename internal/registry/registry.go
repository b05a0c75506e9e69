// Package registry tracks the tabular files a session has open. Each file
// is opened once per canonical path as a Source; callers hold it through
// one or more aliases, and the Source is closed when its last alias is
// released.
package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/johndauphine/joinkit/internal/field"
	"github.com/johndauphine/joinkit/internal/format"
	"github.com/johndauphine/joinkit/internal/logging"
)

var (
	// ErrUnknownAlias is returned when releasing an alias that is not
	// registered.
	ErrUnknownAlias = errors.New("unknown alias")

	// ErrUnknownSource is returned when an alias or path resolves to no
	// open Source.
	ErrUnknownSource = errors.New("unknown source")
)

// DefaultMaxAttempts bounds alias generation retries.
const DefaultMaxAttempts = 32

// Opener opens a file as a format adapter.
type Opener func(path string, mode format.Mode) (format.Adapter, error)

// Source is one open physical file.
type Source struct {
	path    string
	adapter format.Adapter
	fields  []*field.Field
	byName  map[string]*field.Field
	refs    int
}

// Path returns the canonical path.
func (s *Source) Path() string { return s.path }

// Adapter returns the open read-mode adapter.
func (s *Source) Adapter() format.Adapter { return s.adapter }

// Fields returns the file's fields in file order. The slice is shared;
// callers that change fields should negotiate or copy them first.
func (s *Source) Fields() []*field.Field { return s.fields }

// Field returns the field with the given original name.
func (s *Source) Field(name string) (*field.Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// Registry maps aliases to open Sources.
type Registry struct {
	open        Opener
	alias       AliasFunc
	check       AliasCheck
	maxAttempts int

	mu         sync.Mutex
	sources    map[string]*Source
	order      []*Source
	aliases    map[string]*Source
	aliasOrder []string
}

// Option configures a Registry.
type Option func(*Registry)

// WithOpener replaces format.Open as the way files are opened.
func WithOpener(open Opener) Option {
	return func(r *Registry) { r.open = open }
}

// WithAliasFunc replaces the alias generator.
func WithAliasFunc(fn AliasFunc) Option {
	return func(r *Registry) { r.alias = fn }
}

// WithAliasCheck rejects aliases that are free in the registry but taken
// elsewhere.
func WithAliasCheck(check AliasCheck) Option {
	return func(r *Registry) { r.check = check }
}

// WithMaxAttempts caps alias generation attempts per Acquire.
func WithMaxAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		open:        format.Open,
		alias:       DefaultAlias,
		maxAttempts: DefaultMaxAttempts,
		sources:     make(map[string]*Source),
		aliases:     make(map[string]*Source),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Canonical returns the absolute, symlink-resolved form of path. Paths
// that do not exist are only made absolute and cleaned.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

// Acquire returns a new alias for path, opening the file if no Source for
// it is open yet. On any failure the registry is left unchanged.
func (r *Registry) Acquire(path string) (string, error) {
	canon, err := Canonical(path)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	src, existing := r.sources[canon]
	if !existing {
		src, err = r.openSource(canon)
		if err != nil {
			return "", err
		}
	}

	alias, err := r.mintAlias(canon)
	if err != nil {
		if !existing {
			src.adapter.Close()
		}
		return "", err
	}

	if !existing {
		r.sources[canon] = src
		r.order = append(r.order, src)
	}
	src.refs++
	r.aliases[alias] = src
	r.aliasOrder = append(r.aliasOrder, alias)

	logging.Debug("Acquired %s as %s (refs=%d)", canon, alias, src.refs)
	return alias, nil
}

func (r *Registry) openSource(canon string) (*Source, error) {
	adapter, err := r.open(canon, format.ModeRead)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", canon, err)
	}
	fields, err := adapter.Fields()
	if err != nil {
		adapter.Close()
		return nil, fmt.Errorf("reading fields of %s: %w", canon, err)
	}
	byName := make(map[string]*field.Field, len(fields))
	for _, f := range fields {
		byName[f.OriginalName] = f
	}
	return &Source{path: canon, adapter: adapter, fields: fields, byName: byName}, nil
}

// Release drops alias. The Source it named is closed once no alias
// refers to it.
func (r *Registry) Release(alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.aliases[alias]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAlias, alias)
	}
	delete(r.aliases, alias)
	r.aliasOrder = remove(r.aliasOrder, alias)
	src.refs--
	if src.refs > 0 {
		logging.Debug("Released %s (refs=%d)", alias, src.refs)
		return nil
	}
	return r.evict(src)
}

// evict closes src and forgets it. Caller holds mu.
func (r *Registry) evict(src *Source) error {
	delete(r.sources, src.path)
	for i, s := range r.order {
		if s == src {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	logging.Debug("Closing %s", src.path)
	if err := src.adapter.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", src.path, err)
	}
	return nil
}

// Lookup resolves an alias, or else a path, to its open Source.
func (r *Registry) Lookup(aliasOrPath string) (*Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if src := r.resolve(aliasOrPath); src != nil {
		return src, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSource, aliasOrPath)
}

// Refs returns the number of aliases referring to the Source for
// aliasOrPath, 0 when none is open.
func (r *Registry) Refs(aliasOrPath string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if src := r.resolve(aliasOrPath); src != nil {
		return src.refs
	}
	return 0
}

// resolve finds a Source by alias, then by path. Caller holds mu.
func (r *Registry) resolve(aliasOrPath string) *Source {
	if src, ok := r.aliases[aliasOrPath]; ok {
		return src
	}
	if canon, err := Canonical(aliasOrPath); err == nil {
		return r.sources[canon]
	}
	return nil
}

// CreateOutput opens path for writing. The adapter is not registered;
// the caller owns and closes it.
func (r *Registry) CreateOutput(path string) (format.Adapter, error) {
	adapter, err := r.open(path, format.ModeWrite)
	if err != nil {
		return nil, fmt.Errorf("creating output %s: %w", path, err)
	}
	return adapter, nil
}

// Sources returns the open Sources in registration order.
func (r *Registry) Sources() []*Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Source, len(r.order))
	copy(out, r.order)
	return out
}

// Aliases returns the registered aliases in registration order.
func (r *Registry) Aliases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.aliasOrder))
	copy(out, r.aliasOrder)
	return out
}

// Close releases every alias and closes every Source.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, src := range append([]*Source(nil), r.order...) {
		if err := r.evict(src); err != nil {
			errs = append(errs, err)
		}
	}
	r.aliases = make(map[string]*Source)
	r.aliasOrder = nil
	return errors.Join(errs...)
}

func remove(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

package format

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// sniffLen is how many leading bytes drivers get to look at.
const sniffLen = 32

var (
	registryMu sync.RWMutex
	drivers    = map[string]Driver{}
	byExt      = map[string]Driver{}
)

// Register makes a driver available by name and by its extensions.
// Called from init() in each format package.
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	drivers[d.Name()] = d
	for _, ext := range d.Extensions() {
		byExt[strings.ToLower(ext)] = d
	}
}

// Get returns a registered driver by name.
func Get(name string) (Driver, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := drivers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return d, nil
}

// Drivers returns all registered drivers sorted by name.
func Drivers() []Driver {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Driver, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ForPath selects the driver for path: by extension first, then, for files
// that exist, by sniffing their first bytes.
func ForPath(path string) (Driver, error) {
	ext := strings.ToLower(filepath.Ext(path))
	registryMu.RLock()
	d, ok := byExt[ext]
	registryMu.RUnlock()
	if ok {
		return d, nil
	}

	head, err := readHead(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
		}
		return nil, err
	}
	for _, d := range Drivers() {
		if d.Sniff(head) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Open opens path with the driver ForPath selects.
func Open(path string, mode Mode) (Adapter, error) {
	d, err := ForPath(path)
	if err != nil {
		return nil, err
	}
	return d.Open(path, mode)
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

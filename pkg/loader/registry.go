package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry errors.
var (
	ErrImageNotFound = errors.New("loader: image not found")
	ErrInvalidName   = errors.New("loader: invalid image name")
)

// Registry maps program names to raw image bytes.
type Registry struct {
	mu     sync.RWMutex
	images map[string][]byte
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{images: make(map[string][]byte)}
}

// Register stores an image under name, replacing any previous one.
func (r *Registry) Register(name string, data []byte) error {
	if name == "" || strings.ContainsRune(name, 0) {
		return ErrInvalidName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images[name] = data
	return nil
}

// Get returns the image registered under name.
func (r *Registry) Get(name string) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.images[name]
	return data, ok
}

// Lookup is Get returning ErrImageNotFound on a miss.
func (r *Registry) Lookup(name string) ([]byte, error) {
	data, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrImageNotFound, name)
	}
	return data, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.images))
	for name := range r.images {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDir registers every regular file in dir, named after its base name
// without extension. It returns the number of images loaded.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return n, err
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if err := r.Register(name, data); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

package broker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrSpecNotFound indicates no removal spec is registered for a broker ID.
var ErrSpecNotFound = errors.New("removal spec not found")

// Registry provides read-only lookup of broker removal specs.
type Registry interface {
	// Get returns the removal spec for the given broker ID.
	// It returns ErrSpecNotFound if the broker is unknown.
	Get(ctx context.Context, brokerID string) (*RemovalSpec, error)

	// List returns all registered specs, ordered by broker ID.
	List(ctx context.Context) ([]*RemovalSpec, error)
}

// FileRegistry loads removal specs from a directory of YAML files, one spec
// per file. It is the default registry for local deployments.
//
// Thread-safety: all methods are safe for concurrent use.
type FileRegistry struct {
	mu    sync.RWMutex
	specs map[string]*RemovalSpec
}

// LoadDir reads every .yaml/.yml file under dir into a FileRegistry.
// Files that fail to parse or validate abort the load; a registry with a
// half-read broker set would silently skip removals.
func LoadDir(dir string) (*FileRegistry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read broker spec dir: %w", err)
	}

	reg := &FileRegistry{specs: make(map[string]*RemovalSpec)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		spec, err := LoadSpec(path)
		if err != nil {
			return nil, err
		}
		if _, dup := reg.specs[spec.BrokerID]; dup {
			return nil, fmt.Errorf("duplicate spec for broker %s in %s", spec.BrokerID, entry.Name())
		}
		reg.specs[spec.BrokerID] = spec
	}

	return reg, nil
}

// LoadSpec reads and validates a single YAML spec file.
func LoadSpec(path string) (*RemovalSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read broker spec %s: %w", path, err)
	}

	var spec RemovalSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse broker spec %s: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("validate broker spec %s: %w", path, err)
	}

	return &spec, nil
}

// NewStaticRegistry builds a FileRegistry from in-memory specs. Intended
// for tests and embedded spec sets. Specs are not validated here; the
// dispatcher validates every spec before executing against it.
func NewStaticRegistry(specs ...*RemovalSpec) *FileRegistry {
	reg := &FileRegistry{specs: make(map[string]*RemovalSpec, len(specs))}
	for _, spec := range specs {
		reg.specs[spec.BrokerID] = spec
	}
	return reg
}

// Get returns the spec for brokerID.
func (r *FileRegistry) Get(_ context.Context, brokerID string) (*RemovalSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[brokerID]
	if !ok {
		return nil, fmt.Errorf("broker %s: %w", brokerID, ErrSpecNotFound)
	}
	return spec, nil
}

// List returns all specs ordered by broker ID.
func (r *FileRegistry) List(_ context.Context) ([]*RemovalSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*RemovalSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BrokerID < out[j].BrokerID })
	return out, nil
}

package clip

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Model describes one appliance model: its field table and the metadata
// published in its discovery descriptor.
type Model struct {
	// ID is the model kind reported by the device (e.g. "RAC_056905_WW").
	ID string

	// Class is the hub entity class (e.g. "climate").
	Class string

	// Manufacturer and SoftwareVersion go into the discovery device block.
	Manufacturer    string
	SoftwareVersion string

	// Fields is the register table.
	Fields []Field

	// Discovery returns the model-specific part of the discovery descriptor.
	// It is merged over the availability/identity envelope.
	Discovery func(t DeviceTopics) map[string]any

	// Built by Registry.Register.
	byTag  map[uint16]*Field
	byName map[string]*Field
}

// FieldByTag returns the field for a register tag.
func (m *Model) FieldByTag(tag uint16) (*Field, bool) {
	f, ok := m.byTag[tag]
	return f, ok
}

// FieldByName returns the field for a property name.
func (m *Model) FieldByName(name string) (*Field, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// index validates the field table and builds the lookup maps.
func (m *Model) index() error {
	if m.ID == "" {
		return fmt.Errorf("%w: empty model id", ErrInvalidModel)
	}
	if m.Class == "" {
		return fmt.Errorf("%w: %s: empty class", ErrInvalidModel, m.ID)
	}

	m.byTag = make(map[uint16]*Field, len(m.Fields))
	m.byName = make(map[string]*Field, len(m.Fields))

	for i := range m.Fields {
		f := &m.Fields[i]
		if f.Tag > MaxTag {
			return fmt.Errorf("%w: %s: field %q tag 0x%x", ErrTagOutOfRange, m.ID, f.Name, f.Tag)
		}
		if f.Name == "" {
			return fmt.Errorf("%w: %s: field 0x%03x has no name", ErrInvalidModel, m.ID, f.Tag)
		}
		if _, dup := m.byTag[f.Tag]; dup {
			return fmt.Errorf("%w: %s: duplicate tag 0x%03x", ErrInvalidModel, m.ID, f.Tag)
		}
		if _, dup := m.byName[f.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate field %q", ErrInvalidModel, m.ID, f.Name)
		}
		m.byTag[f.Tag] = f
		m.byName[f.Name] = f
	}

	return nil
}

// Registry maps model IDs to their definitions.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Model
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// DefaultRegistry holds the built-in models. Packages register into it
// from init (see internal/bridges/clip/models).
var DefaultRegistry = NewRegistry()

// Register adds a model. The model must not be modified afterwards.
func (r *Registry) Register(m *Model) error {
	if m == nil {
		return fmt.Errorf("%w: nil model", ErrInvalidModel)
	}
	if err := m.index(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[m.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModel, m.ID)
	}
	r.models[m.ID] = m
	return nil
}

// MustRegister is Register for use in init; it panics on error.
func (r *Registry) MustRegister(m *Model) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Lookup returns the model registered under id.
func (r *Registry) Lookup(id string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// Models returns the registered model IDs, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.models))
}

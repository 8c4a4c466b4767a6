// Package registry holds the variables learned from one TOC, indexed by id
// and by "group/name", together with their last known values.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/danmuck/crtplink/internal/logging"
	"github.com/danmuck/crtplink/internal/protocol/scalar"
	"github.com/danmuck/crtplink/internal/protocol/toc"
)

// Variable is one registered param or log variable. Descriptor fields are
// immutable; the cached value is replaced atomically.
type Variable struct {
	toc.Descriptor

	value    atomic.Pointer[scalar.Value]
	expected atomic.Pointer[scalar.Value]
}

// Update casts b as the variable's kind and replaces the cached value.
func (v *Variable) Update(b []byte) (scalar.Value, error) {
	val, err := scalar.Cast(v.Kind, b)
	if err != nil {
		return scalar.Value{}, err
	}
	v.value.Store(&val)
	return val, nil
}

// Value returns the last received value, if any.
func (v *Variable) Value() (scalar.Value, bool) {
	p := v.value.Load()
	if p == nil {
		return scalar.Value{}, false
	}
	return *p, true
}

func (v *Variable) SetExpected(val scalar.Value) {
	v.expected.Store(&val)
}

// TakeExpected returns and clears the pending expected value.
func (v *Variable) TakeExpected() (scalar.Value, bool) {
	p := v.expected.Swap(nil)
	if p == nil {
		return scalar.Value{}, false
	}
	return *p, true
}

// Registry implements toc.Sink.
type Registry struct {
	name string

	mu     sync.RWMutex
	byID   map[uint16]*Variable
	byName map[string]*Variable
}

func New(name string) *Registry {
	return &Registry{
		name:   name,
		byID:   make(map[uint16]*Variable),
		byName: make(map[string]*Variable),
	}
}

func (r *Registry) Name() string {
	return r.name
}

// Register inserts d, replacing any variable with the same id.
func (r *Registry) Register(d toc.Descriptor) *Variable {
	v := &Variable{Descriptor: d}
	key := d.Key()

	r.mu.Lock()
	if old, ok := r.byID[d.ID]; ok {
		if cur := r.byName[old.Key()]; cur == old {
			delete(r.byName, old.Key())
		}
	}
	if other, ok := r.byName[key]; ok && other.ID != d.ID {
		logging.Warnf("registry.Registry.Register name=%s duplicate key=%q ids=%d,%d", r.name, key, other.ID, d.ID)
	}
	r.byID[d.ID] = v
	r.byName[key] = v
	r.mu.Unlock()
	return v
}

func (r *Registry) Put(d toc.Descriptor) {
	r.Register(d)
}

func (r *Registry) ByID(id uint16) (*Variable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byID[id]
	return v, ok
}

// ByName looks up a "group/name" key.
func (r *Registry) ByName(name string) (*Variable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byName[name]
	return v, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Variables returns every variable ordered by id.
func (r *Registry) Variables() []*Variable {
	r.mu.RLock()
	out := make([]*Variable, 0, len(r.byID))
	for _, v := range r.byID {
		out = append(out, v)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Descriptors() []toc.Descriptor {
	vars := r.Variables()
	out := make([]toc.Descriptor, len(vars))
	for i, v := range vars {
		out[i] = v.Descriptor
	}
	return out
}

func (r *Registry) Reset() {
	r.mu.Lock()
	r.byID = make(map[uint16]*Variable)
	r.byName = make(map[string]*Variable)
	r.mu.Unlock()
}

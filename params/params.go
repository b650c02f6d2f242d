// Package params implements the typed, transactional runtime
// configuration registry: an ordered mapping from dotted
// string key to a typed cell, updated in all-or-nothing batches.
package params

import (
	"fmt"
	"sort"
	"sync"
)

// Type is the declared kind of a parameter's value.
type Type int

const (
	TypeBool Type = iota
	TypeI32
	TypeF32
	TypeEnum
)

// MCUBinding, when non-nil, forwards a parameter's value to a Reflex
// SET_CONFIG command whenever it changes.
type MCUBinding struct {
	ParamID uint8
	Send    func(paramID uint8, value uint32) error
}

// Spec declares one parameter: its type, default, optional bounds, and
// whether it may be changed without a restart.
type Spec struct {
	Key        string
	Type       Type
	Default    any
	Min, Max   any // only meaningful for TypeI32/TypeF32
	EnumValues []string
	HotReload  bool
	Binding    *MCUBinding
}

// Listener is invoked after a key's value is applied.
type Listener func(key string, value any)

// FieldError names one failing key in a rejected batch.
type FieldError struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// BatchError wraps every failing key of a rejected Update call.
type BatchError struct {
	Errors []FieldError
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("params: batch rejected, %d invalid key(s)", len(e.Errors))
}

type cell struct {
	spec  Spec
	value any
}

// Registry is single-writer (the API goroutine); readers share an
// RWMutex read lock: Get takes it only to copy the current value, never
// holding it across any blocking call.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	cells     map[string]*cell
	listeners map[string][]Listener
}

func New() *Registry {
	return &Registry{cells: map[string]*cell{}, listeners: map[string][]Listener{}}
}

// Declare registers a parameter with its default value. Declare is
// called during startup wiring, before concurrent access begins.
func (r *Registry) Declare(spec Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cells[spec.Key]; !exists {
		r.order = append(r.order, spec.Key)
	}
	r.cells[spec.Key] = &cell{spec: spec, value: spec.Default}
}

// OnChange registers a listener fired whenever key's value is applied by
// Update.
func (r *Registry) OnChange(key string, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[key] = append(r.listeners[key], l)
}

// Get returns key's current value and whether it is declared.
func (r *Registry) Get(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cells[key]
	if !ok {
		return nil, false
	}
	return c.value, true
}

// Snapshot is one parameter's full public shape, for GET /params.
type Snapshot struct {
	Key       string `json:"key"`
	Type      Type   `json:"type"`
	Default   any    `json:"default"`
	Value     any    `json:"value"`
	Min       any    `json:"min,omitempty"`
	Max       any    `json:"max,omitempty"`
	HotReload bool   `json:"hot_reload"`
}

// All returns every declared parameter in declaration order.
func (r *Registry) All() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.order))
	for _, k := range r.order {
		c := r.cells[k]
		out = append(out, Snapshot{
			Key: k, Type: c.spec.Type, Default: c.spec.Default, Value: c.value,
			Min: c.spec.Min, Max: c.spec.Max, HotReload: c.spec.HotReload,
		})
	}
	return out
}

// Update validates every entry in batch against its declared type and
// bounds; if any entry fails, the whole batch is rejected (no partial
// apply). On success every entry is applied, MCU-bound
// entries are forwarded via SET_CONFIG, and per-key listeners fire, all
// while mu is held so the transition is observable as a single step.
func (r *Registry) Update(batch map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []FieldError
	coerced := make(map[string]any, len(batch))
	for k, v := range batch {
		c, ok := r.cells[k]
		if !ok {
			errs = append(errs, FieldError{Key: k, Reason: "unknown parameter"})
			continue
		}
		cv, err := coerceAndValidate(c.spec, v)
		if err != nil {
			errs = append(errs, FieldError{Key: k, Reason: err.Error()})
			continue
		}
		coerced[k] = cv
	}
	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Key < errs[j].Key })
		return &BatchError{Errors: errs}
	}

	type fired struct {
		key   string
		value any
	}
	var toFire []fired
	for k, v := range coerced {
		c := r.cells[k]
		c.value = v
		if c.spec.Binding != nil && c.spec.Binding.Send != nil {
			u32, err := toConfigU32(c.spec, v)
			if err == nil {
				_ = c.spec.Binding.Send(c.spec.Binding.ParamID, u32)
			}
		}
		toFire = append(toFire, fired{k, v})
	}
	for _, f := range toFire {
		for _, l := range r.listeners[f.key] {
			l(f.key, f.value)
		}
	}
	return nil
}

func coerceAndValidate(spec Spec, v any) (any, error) {
	switch spec.Type {
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool")
		}
		return b, nil
	case TypeI32:
		f, ok := asFloat(v)
		if !ok {
			return nil, fmt.Errorf("expected number")
		}
		i := int32(f)
		if spec.Min != nil {
			if min, ok := asFloat(spec.Min); ok && float64(i) < min {
				return nil, fmt.Errorf("below minimum %v", spec.Min)
			}
		}
		if spec.Max != nil {
			if max, ok := asFloat(spec.Max); ok && float64(i) > max {
				return nil, fmt.Errorf("above maximum %v", spec.Max)
			}
		}
		return i, nil
	case TypeF32:
		f, ok := asFloat(v)
		if !ok {
			return nil, fmt.Errorf("expected number")
		}
		if spec.Min != nil {
			if min, ok := asFloat(spec.Min); ok && f < min {
				return nil, fmt.Errorf("below minimum %v", spec.Min)
			}
		}
		if spec.Max != nil {
			if max, ok := asFloat(spec.Max); ok && f > max {
				return nil, fmt.Errorf("above maximum %v", spec.Max)
			}
		}
		return float32(f), nil
	case TypeEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string")
		}
		for _, allowed := range spec.EnumValues {
			if allowed == s {
				return s, nil
			}
		}
		return nil, fmt.Errorf("not one of %v", spec.EnumValues)
	default:
		return nil, fmt.Errorf("unknown type")
	}
}

func toConfigU32(spec Spec, v any) (uint32, error) {
	switch spec.Type {
	case TypeBool:
		if v.(bool) {
			return 1, nil
		}
		return 0, nil
	case TypeI32:
		return uint32(v.(int32)), nil
	case TypeF32:
		// MCU config cells are integral; forward the fixed-point
		// millis representation so firmware doesn't need floats.
		return uint32(v.(float32) * 1000), nil
	default:
		return 0, fmt.Errorf("type %v has no MCU binding representation", spec.Type)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

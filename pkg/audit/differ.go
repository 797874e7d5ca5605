package audit

import "fmt"

// Filter restricts which attributes appear in a diff. Exclude is applied
// first, then Include when it is non-empty.
type Filter struct {
	Include []string
	Exclude []string
}

func (f Filter) allows(key string) bool {
	for _, k := range f.Exclude {
		if k == key {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, k := range f.Include {
		if k == key {
			return true
		}
	}
	return false
}

// apply returns the filtered copy of attrs in insertion order
func (f Filter) apply(attrs *Attributes) *Attributes {
	out := NewAttributes()
	attrs.Range(func(k string, v Value) bool {
		if f.allows(k) {
			out.Set(k, cloneValue(v))
		}
		return true
	})
	return out
}

// Changes is the old/new value pair produced for one event
type Changes struct {
	Old *Attributes
	New *Attributes
}

// DiffStrategy computes the changes for one event kind
type DiffStrategy func(current, original *Attributes, f Filter) Changes

// DiffCreated reports every current attribute as new
func DiffCreated(current, _ *Attributes, f Filter) Changes {
	return Changes{Old: NewAttributes(), New: f.apply(current)}
}

// DiffDeleted reports every current attribute as removed
func DiffDeleted(current, _ *Attributes, f Filter) Changes {
	return Changes{Old: f.apply(current), New: NewAttributes()}
}

// DiffUpdated reports the attributes whose values differ between the two
// snapshots. A key missing on one side is reported as null on that side.
func DiffUpdated(current, original *Attributes, f Filter) Changes {
	changes := Changes{Old: NewAttributes(), New: NewAttributes()}

	current.Range(func(k string, v Value) bool {
		if !f.allows(k) {
			return true
		}
		ov, ok := original.Get(k)
		if ok && ov.Equal(v) {
			return true
		}
		changes.Old.Set(k, cloneValue(ov))
		changes.New.Set(k, cloneValue(v))
		return true
	})

	original.Range(func(k string, ov Value) bool {
		if current.Has(k) || !f.allows(k) {
			return true
		}
		changes.Old.Set(k, cloneValue(ov))
		changes.New.Set(k, Null())
		return true
	})

	return changes
}

// DiffRestored diffs a restored entity against its pre-deletion snapshot
func DiffRestored(current, original *Attributes, f Filter) Changes {
	return DiffUpdated(current, original, f)
}

var builtinStrategies = map[EventName]DiffStrategy{
	EventCreated:  DiffCreated,
	EventUpdated:  DiffUpdated,
	EventDeleted:  DiffDeleted,
	EventRestored: DiffRestored,
}

// Diff computes the changes for one of the built-in lifecycle events
func Diff(event EventName, current, original *Attributes, f Filter) (Changes, error) {
	strategy, ok := builtinStrategies[event]
	if !ok {
		return Changes{}, fmt.Errorf("%w: %q has no built-in diff", ErrInvalidEvent, event)
	}
	return strategy(current, original, f), nil
}

// BuiltinStrategy returns the diff strategy of a built-in event
func BuiltinStrategy(event EventName) (DiffStrategy, bool) {
	strategy, ok := builtinStrategies[event]
	return strategy, ok
}

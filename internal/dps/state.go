package dps

import (
	"reflect"
	"sort"
	"sync"
)

// Change is one property whose value differs from the last known state.
type Change struct {
	Property Property
	Value    any
	Previous any
	Known    bool // Previous is meaningful
}

// State tracks the last known value of every property of one device. It is
// safe for concurrent use.
type State struct {
	profile Profile

	mu     sync.Mutex
	values map[string]any
}

// NewState creates an empty state for profile.
func NewState(profile Profile) *State {
	return &State{
		profile: profile,
		values:  make(map[string]any),
	}
}

// Apply merges status into the state and calls fn for each property whose
// value changed, in data point order. Unknown data points and values that
// do not decode are skipped.
func (s *State) Apply(status Status, fn func(Change)) {
	dps := make([]string, 0, len(status.DPS))
	for dp := range status.DPS {
		dps = append(dps, dp)
	}
	sort.Slice(dps, func(i, j int) bool {
		if len(dps[i]) != len(dps[j]) {
			return len(dps[i]) < len(dps[j])
		}
		return dps[i] < dps[j]
	})

	var changes []Change

	s.mu.Lock()
	for _, dp := range dps {
		prop, ok := s.profile.ByDP(dp)
		if !ok {
			continue
		}
		value, err := prop.Decode(status.DPS[dp])
		if err != nil {
			continue
		}
		prev, known := s.values[prop.Name]
		if known && reflect.DeepEqual(prev, value) {
			continue
		}
		s.values[prop.Name] = value
		changes = append(changes, Change{Property: prop, Value: value, Previous: prev, Known: known})
	}
	s.mu.Unlock()

	if fn == nil {
		return
	}
	for _, c := range changes {
		fn(c)
	}
}

// Get returns the last known value of property.
func (s *State) Get(property string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[property]
	return v, ok
}

// Snapshot returns a copy of every known value keyed by property name.
func (s *State) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

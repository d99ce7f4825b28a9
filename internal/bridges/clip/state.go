package clip

import "maps"

// StateReader is the read-only view of a device's register cache handed to
// read transforms.
type StateReader interface {
	// Get returns the last raw value seen for tag.
	Get(tag uint16) (uint32, bool)
}

// State is the last-known raw value of every register a device reported.
//
// Thread Safety: not synchronised. A State is owned by exactly one Session,
// which serialises access.
type State struct {
	values map[uint16]uint32
}

// NewState returns an empty cache.
func NewState() *State {
	return &State{values: make(map[uint16]uint32)}
}

// Get returns the cached value for tag.
func (s *State) Get(tag uint16) (uint32, bool) {
	v, ok := s.values[tag]
	return v, ok
}

// Set stores value under tag.
func (s *State) Set(tag uint16, value uint32) {
	s.values[tag] = value
}

// Len returns the number of cached registers.
func (s *State) Len() int {
	return len(s.values)
}

// Snapshot returns a copy of the cache.
func (s *State) Snapshot() map[uint16]uint32 {
	return maps.Clone(s.values)
}

package lift

import (
	"sync"
	"time"
)

// DefaultMode is the coarse operating mode the record starts with.
const DefaultMode = "Idle"

// State is the bridge's view of the lift. JSON keys match the device's
// status lines exactly.
type State struct {
	Floor  int    `json:"floor"`
	Target int    `json:"target"`
	Dir    int    `json:"dir"`
	Door   int    `json:"door"`
	State  string `json:"state"`

	TotalTrips           int     `json:"totalTrips"`
	StopCount            int     `json:"stopCount"`
	DoorCycles           int     `json:"doorCycles"`
	AvgTripMs            float64 `json:"avgTripMs"`
	AvgWaitMs            float64 `json:"avgWaitMs"`
	TravelDistanceFloors float64 `json:"travelDistanceFloors"`
	UptimeMs             float64 `json:"uptimeMs"`
}

// Stats is the statistics subset of State, served on its own.
type Stats struct {
	TotalTrips           int     `json:"totalTrips"`
	StopCount            int     `json:"stopCount"`
	DoorCycles           int     `json:"doorCycles"`
	AvgTripMs            float64 `json:"avgTripMs"`
	AvgWaitMs            float64 `json:"avgWaitMs"`
	TravelDistanceFloors float64 `json:"travelDistanceFloors"`
	UptimeMs             float64 `json:"uptimeMs"`
}

// DefaultState returns the record every process starts with.
func DefaultState() State {
	return State{State: DefaultMode}
}

// Stats extracts the statistics fields.
func (s State) Stats() Stats {
	return Stats{
		TotalTrips:           s.TotalTrips,
		StopCount:            s.StopCount,
		DoorCycles:           s.DoorCycles,
		AvgTripMs:            s.AvgTripMs,
		AvgWaitMs:            s.AvgWaitMs,
		TravelDistanceFloors: s.TravelDistanceFloors,
		UptimeMs:             s.UptimeMs,
	}
}

// Update is a partial State decoded from one status line.
// A nil field means the key was absent (or unusable) and leaves the
// stored value alone.
type Update struct {
	Floor  *int
	Target *int
	Dir    *int
	Door   *int
	State  *string

	TotalTrips           *int
	StopCount            *int
	DoorCycles           *int
	AvgTripMs            *float64
	AvgWaitMs            *float64
	TravelDistanceFloors *float64
	UptimeMs             *float64
}

// Keys returns the JSON keys carried by the update, in record order.
func (u Update) Keys() []string {
	var keys []string
	for _, f := range updateFields {
		if f.present(u) {
			keys = append(keys, f.key)
		}
	}
	return keys
}

// Empty reports whether the update carries no known key.
func (u Update) Empty() bool {
	for _, f := range updateFields {
		if f.present(u) {
			return false
		}
	}
	return true
}

// apply overwrites every present field of s.
func (u Update) apply(s *State) {
	setInt(&s.Floor, u.Floor)
	setInt(&s.Target, u.Target)
	setInt(&s.Dir, u.Dir)
	setInt(&s.Door, u.Door)
	if u.State != nil {
		s.State = *u.State
	}
	setInt(&s.TotalTrips, u.TotalTrips)
	setInt(&s.StopCount, u.StopCount)
	setInt(&s.DoorCycles, u.DoorCycles)
	setFloat(&s.AvgTripMs, u.AvgTripMs)
	setFloat(&s.AvgWaitMs, u.AvgWaitMs)
	setFloat(&s.TravelDistanceFloors, u.TravelDistanceFloors)
	setFloat(&s.UptimeMs, u.UptimeMs)
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// Store holds the single State record shared by the update loop and the
// HTTP handlers.
//
// Thread Safety:
//   - Merge holds the write lock for the whole record, so readers never see
//     a partially applied update.
//   - Snapshot and Stats copy the record under the read lock.
type Store struct {
	mu        sync.RWMutex
	state     State
	merges    uint64
	updatedAt time.Time
}

// NewStore creates a Store holding DefaultState.
func NewStore() *Store {
	return &Store{state: DefaultState()}
}

// Merge applies u to the record and returns the resulting snapshot.
func (s *Store) Merge(u Update) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.apply(&s.state)
	s.merges++
	s.updatedAt = time.Now()
	return s.state
}

// Snapshot returns a copy of the full record.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stats returns a copy of the statistics fields.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Stats()
}

// Merges returns how many updates have been merged and when the last one
// landed. The time is zero before the first merge.
func (s *Store) Merges() (uint64, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.merges, s.updatedAt
}

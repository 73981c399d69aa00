package state

import (
	"sort"
	"sync"
	"time"
)

type zoneRec struct {
	zone Zone

	// Flags feeding status derivation. Status is never written directly:
	// irrigating wins over offline, offline wins over dry/ok.
	probeDown  bool
	everRead   bool
	irrigating bool
}

func (r *zoneRec) derive() {
	switch {
	case r.irrigating:
		r.zone.Status = ZoneIrrigating
	case r.probeDown || !r.everRead:
		r.zone.Status = ZoneOffline
	case r.zone.Moisture < r.zone.Threshold:
		r.zone.Status = ZoneDry
	default:
		r.zone.Status = ZoneOK
	}
}

// Store holds the shared runtime state behind one lock.
type Store struct {
	mu        sync.RWMutex
	zones     map[int]*zoneRec
	tanks     map[int]TankReading
	mode      Mode
	interlock Interlock
}

// NewStore returns a Store with the given number of zones, all offline
// until their probes are read, and no tank readings yet.
func NewStore(zones int, defaultThreshold float64) *Store {
	s := &Store{
		zones:     make(map[int]*zoneRec, zones),
		tanks:     make(map[int]TankReading, 2),
		mode:      ModeAuto,
		interlock: Interlock{Phase: PhaseIdle},
	}
	for id := 1; id <= zones; id++ {
		rec := &zoneRec{zone: Zone{ID: id, Threshold: defaultThreshold}}
		rec.derive()
		s.zones[id] = rec
	}
	return s
}

// HasZone reports whether the given zone id is configured.
func (s *Store) HasZone(id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.zones[id]
	return ok
}

// Zone returns a copy of one zone.
func (s *Store) Zone(id int) (Zone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.zones[id]
	if !ok {
		return Zone{}, false
	}
	return rec.zone, true
}

// Zones returns copies of all zones in ascending id order.
func (s *Store) Zones() []Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.zonesLocked()
}

func (s *Store) zonesLocked() []Zone {
	out := make([]Zone, 0, len(s.zones))
	for _, rec := range s.zones {
		out = append(out, rec.zone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetZoneReading records a successful probe read and rederives the status.
func (s *Store) SetZoneReading(id int, moisture, temperature, ec float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.zones[id]
	if !ok {
		return
	}
	rec.zone.Moisture = moisture
	rec.zone.Temperature = temperature
	rec.zone.EC = ec
	rec.zone.UpdatedAt = at
	rec.probeDown = false
	rec.everRead = true
	rec.derive()
}

// SetZoneOffline marks a zone's probe as unreadable. The cached values stay
// visible; only the status changes.
func (s *Store) SetZoneOffline(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.zones[id]
	if !ok {
		return
	}
	rec.probeDown = true
	rec.derive()
}

// SetZoneThreshold updates the dry/ok boundary of one zone. Returns false
// for unknown zones.
func (s *Store) SetZoneThreshold(id int, threshold float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.zones[id]
	if !ok {
		return false
	}
	rec.zone.Threshold = threshold
	rec.derive()
	return true
}

// SetZoneIrrigating flags a zone as holding the interlock. Clearing it
// rederives dry/ok/offline from the cached reading.
func (s *Store) SetZoneIrrigating(id int, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.zones[id]
	if !ok {
		return
	}
	rec.irrigating = on
	rec.derive()
}

// Tank returns the latest reading of one tank.
func (s *Store) Tank(tank int) (TankReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.tanks[tank]
	return r, ok
}

// Tanks returns all tank readings in ascending tank order.
func (s *Store) Tanks() []TankReading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tanksLocked()
}

func (s *Store) tanksLocked() []TankReading {
	out := make([]TankReading, 0, len(s.tanks))
	for _, r := range s.tanks {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tank < out[j].Tank })
	return out
}

// SetTank replaces the reading of one tank.
func (s *Store) SetTank(r TankReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tanks[r.Tank] = r
}

// MarkTankStale keeps the previous reading of a tank but flags it stale.
// Returns false when the tank has never been read, in which case there is
// nothing to retain.
func (s *Store) MarkTankStale(tank int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tanks[tank]
	if !ok {
		return false
	}
	r.Stale = true
	s.tanks[tank] = r
	return true
}

// Mode returns the current operating mode.
func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode switches between auto and manual.
func (s *Store) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// Interlock returns a copy of the interlock state.
func (s *Store) Interlock() Interlock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interlock
}

// SetInterlock replaces the interlock state. Only the executor calls this.
func (s *Store) SetInterlock(il Interlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interlock = il
}

// Snapshot returns a consistent view of everything for /status.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Mode:      s.mode,
		Interlock: s.interlock,
		Tanks:     s.tanksLocked(),
		Zones:     s.zonesLocked(),
	}
}

package schedule

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when an entry id does not exist.
var ErrNotFound = errors.New("schedule entry not found")

// Registry owns the in-memory entry list. Every mutation is written through
// to the persistence callback before it becomes visible, so the file on
// disk never lags behind what the scheduler sees.
type Registry struct {
	mu      sync.RWMutex
	entries map[int]Entry
	nextID  int
	persist func([]Entry) error
}

// NewRegistry seeds a Registry from persisted entries.
func NewRegistry(entries []Entry, persist func([]Entry) error) *Registry {
	r := &Registry{
		entries: make(map[int]Entry, len(entries)),
		nextID:  1,
		persist: persist,
	}
	for _, e := range entries {
		r.entries[e.ID] = e
		if e.ID >= r.nextID {
			r.nextID = e.ID + 1
		}
	}
	return r
}

// List returns all entries in ascending id order.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns one entry.
func (r *Registry) Get(id int) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Add assigns the next id to e, persists and returns the stored entry.
func (r *Registry) Add(e Entry) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.ID = r.nextID
	r.entries[e.ID] = e
	if err := r.persist(r.listLocked()); err != nil {
		delete(r.entries, e.ID)
		return Entry{}, err
	}
	r.nextID++
	return e, nil
}

// Delete removes an entry.
func (r *Registry) Delete(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.entries, id)
	if err := r.persist(r.listLocked()); err != nil {
		r.entries[id] = e
		return err
	}
	return nil
}

// SetEnabled toggles an entry and returns the updated copy.
func (r *Registry) SetEnabled(id int, enabled bool) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	prev := e
	e.Enabled = enabled
	r.entries[id] = e
	if err := r.persist(r.listLocked()); err != nil {
		r.entries[id] = prev
		return Entry{}, err
	}
	return e, nil
}

package schedule

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spinoza-lab/drip/pkg/events"
	"github.com/spinoza-lab/drip/pkg/hardware"
	"github.com/spinoza-lab/drip/pkg/irrigation"
	"github.com/spinoza-lab/drip/pkg/state"
)

const (
	// GraceWindow is how far around its start time an occurrence still
	// counts as due. It absorbs daemon restarts and clock drift.
	GraceWindow = 10 * time.Minute

	// MaxInterlockWait is how long an occurrence may wait for the pump
	// before it is abandoned. Counted from the first tick that matched.
	MaxInterlockWait = time.Hour
)

// Starter is the slice of the irrigation executor the scheduler calls.
type Starter interface {
	Start(zone int, duration time.Duration, trigger irrigation.Trigger) error
}

// Config is the slice of the daemon configuration the scheduler reads.
type Config interface {
	ScheduleTick() time.Duration
}

// pendingOccurrence is an occurrence that matched but could not start
// because the interlock was held.
type pendingOccurrence struct {
	key   string // occurrence date, one fire per entry per date
	zone  int
	since time.Time
}

// PendingRun describes a waiting occurrence for status queries.
type PendingRun struct {
	EntryID int       `json:"entry_id"`
	Zone    int       `json:"zone"`
	Date    string    `json:"date"`
	Since   time.Time `json:"since"`
}

// Scheduler evaluates the registry against the clock once per tick and
// negotiates starts with the executor. Entries are processed in ascending
// id order; since a successful start occupies the interlock, at most one
// run begins per tick and everything else due queues up as pending.
type Scheduler struct {
	cfg      Config
	registry *Registry
	starter  Starter
	store    *state.Store
	clock    hardware.Clock
	hub      *events.EventHub

	mu      sync.Mutex
	fired   map[int]string // entry id -> occurrence date already consumed
	pending map[int]*pendingOccurrence
}

// NewScheduler wires a scheduler. hub may be nil in tests.
func NewScheduler(
	cfg Config,
	registry *Registry,
	starter Starter,
	store *state.Store,
	clock hardware.Clock,
	hub *events.EventHub,
) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		starter:  starter,
		store:    store,
		clock:    clock,
		hub:      hub,
		fired:    map[int]string{},
		pending:  map[int]*pendingOccurrence{},
	}
}

// Run evaluates immediately and then once per tick until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	logrus.WithField("tick", s.cfg.ScheduleTick()).Info("Scheduler starting")

	ticker := time.NewTicker(s.cfg.ScheduleTick())
	defer ticker.Stop()

	s.evaluate(s.clock.Now())
	for {
		select {
		case <-ctx.Done():
			logrus.Debug("Scheduler exiting")
			return
		case <-ticker.C:
			s.evaluate(s.clock.Now())
		}
	}
}

// evaluate is one scheduler tick.
func (s *Scheduler) evaluate(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneFired(now)

	// Waiting occurrences go first so the oldest intent wins the pump.
	s.retryPending(now)

	manual := s.store.Mode() == state.ModeManual

	for _, e := range s.registry.List() {
		if !e.Enabled {
			continue
		}
		occ, ok := e.dueAt(now, GraceWindow)
		if !ok {
			continue
		}
		key := occ.Format(dateLayout)
		if s.fired[e.ID] == key {
			continue
		}
		if _, waiting := s.pending[e.ID]; waiting {
			continue
		}

		if manual {
			// Consume the occurrence so switching back to auto hours
			// later does not fire a stale entry.
			s.fired[e.ID] = key
			logrus.WithFields(logrus.Fields{
				"entry": e.ID,
				"zone":  e.ZoneID,
			}).Debug("Manual mode, consuming scheduled occurrence without a run")
			continue
		}

		s.tryStart(e, key, now)
	}
}

func (s *Scheduler) retryPending(now time.Time) {
	ids := make([]int, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		p := s.pending[id]

		e, ok := s.registry.Get(id)
		if !ok || !e.Enabled {
			delete(s.pending, id)
			logrus.WithField("entry", id).Debug("Waiting run dropped, entry gone or disabled")
			continue
		}
		if now.Sub(p.since) > MaxInterlockWait {
			s.abandon(e, p.key, "interlock still busy after "+MaxInterlockWait.String())
			continue
		}
		if s.store.Mode() == state.ModeManual {
			s.abandon(e, p.key, "switched to manual mode while waiting")
			continue
		}

		s.tryStart(e, p.key, p.since)
	}
}

// tryStart runs the moisture gate and asks the executor for the interlock.
// since is when this occurrence first matched; it is preserved across busy
// retries so the wait deadline does not slide.
func (s *Scheduler) tryStart(e Entry, key string, since time.Time) {
	if e.Kind == KindRoutine && e.CheckMoisture {
		z, ok := s.store.Zone(e.ZoneID)
		switch {
		case !ok || z.Status == state.ZoneOffline:
			s.abandon(e, key, "zone offline, cached moisture cannot be trusted")
			return
		case z.Moisture >= z.Threshold:
			s.fired[e.ID] = key
			delete(s.pending, e.ID)
			logrus.WithFields(logrus.Fields{
				"entry":     e.ID,
				"zone":      e.ZoneID,
				"moisture":  z.Moisture,
				"threshold": z.Threshold,
			}).Debug("Soil already wet, skipping scheduled run")
			return
		}
	}

	err := s.starter.Start(e.ZoneID, e.Duration(), irrigation.TriggerScheduled)

	var busy *irrigation.BusyError
	switch {
	case err == nil:
		s.fired[e.ID] = key
		delete(s.pending, e.ID)
		logrus.WithFields(logrus.Fields{
			"entry":    e.ID,
			"zone":     e.ZoneID,
			"duration": e.Duration(),
		}).Info("Scheduled irrigation started")

	case errors.As(err, &busy):
		if _, waiting := s.pending[e.ID]; waiting {
			logrus.WithField("entry", e.ID).Trace("Still waiting for the interlock")
			return
		}
		s.pending[e.ID] = &pendingOccurrence{key: key, zone: e.ZoneID, since: since}
		logrus.WithFields(logrus.Fields{
			"entry": e.ID,
			"zone":  e.ZoneID,
		}).Info("Interlock busy, scheduled run is waiting")
		s.hub.Publish(events.ScheduleWaiting, events.ScheduleEvent{
			EntryID: e.ID,
			Zone:    e.ZoneID,
			Reason:  busy.Reason,
			Ts:      s.clock.Now().Unix(),
		})

	default:
		s.abandon(e, key, err.Error())
	}
}

// abandon consumes the occurrence without a run. Nobody is there to retry
// an unattended start, so this is terminal for the date.
func (s *Scheduler) abandon(e Entry, key, reason string) {
	s.fired[e.ID] = key
	delete(s.pending, e.ID)

	logrus.WithFields(logrus.Fields{
		"entry": e.ID,
		"zone":  e.ZoneID,
		"date":  key,
	}).Warn("Abandoning scheduled run: " + reason)

	s.hub.Publish(events.ScheduleAbandoned, events.ScheduleEvent{
		EntryID: e.ID,
		Zone:    e.ZoneID,
		Reason:  reason,
		Ts:      s.clock.Now().Unix(),
	})
}

// pruneFired drops bookkeeping for dates the grace window can no longer
// reach. Occurrences may key to yesterday or tomorrow around midnight.
func (s *Scheduler) pruneFired(now time.Time) {
	keep := map[string]bool{
		now.AddDate(0, 0, -1).Format(dateLayout): true,
		now.Format(dateLayout):                   true,
		now.AddDate(0, 0, 1).Format(dateLayout):  true,
	}
	for id, key := range s.fired {
		if !keep[key] {
			delete(s.fired, id)
		}
	}
}

// CancelPending drops the waiting occurrence of an entry, if any. Called
// when an entry is disabled or deleted.
func (s *Scheduler) CancelPending(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[id]; ok {
		delete(s.pending, id)
		logrus.WithField("entry", id).Debug("Canceled waiting scheduled run")
	}
}

// Pending lists the occurrences currently waiting for the interlock in
// ascending entry order.
func (s *Scheduler) Pending() []PendingRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PendingRun, 0, len(s.pending))
	for id, p := range s.pending {
		out = append(out, PendingRun{EntryID: id, Zone: p.zone, Date: p.key, Since: p.since})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out
}

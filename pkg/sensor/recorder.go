package sensor

import (
	"sync"
	"time"
)

// CycleRecorder remembers when the last sampling cycles finished so the
// engine can tell whether cycles went missing, e.g. across a system
// suspend or while the bus was wedged.
type CycleRecorder struct {
	MaxRecordCount int
	CycleTimes     []time.Time
	mu             *sync.Mutex
}

// NewCycleRecorder returns an empty recorder keeping at most maxRecordCount
// completion times.
func NewCycleRecorder(maxRecordCount int) *CycleRecorder {
	return &CycleRecorder{
		MaxRecordCount: maxRecordCount,
		CycleTimes:     make([]time.Time, 0),
		mu:             &sync.Mutex{},
	}
}

// AddRecord appends a completion time, dropping the oldest record once the
// capacity is reached.
func (r *CycleRecorder) AddRecord(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip the monotonic clock reading so gaps across a suspend are
	// measured in wall clock time.
	t = t.Round(0)

	if len(r.CycleTimes) >= r.MaxRecordCount {
		r.CycleTimes = r.CycleTimes[1:]
	}
	r.CycleTimes = append(r.CycleTimes, t)
}

// ClearRecords drops all records.
func (r *CycleRecorder) ClearRecords() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.CycleTimes = make([]time.Time, 0)
}

// Last returns the newest record, or the zero time when none exist.
func (r *CycleRecorder) Last() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.CycleTimes) == 0 {
		return time.Time{}
	}
	return r.CycleTimes[len(r.CycleTimes)-1]
}

// RecordsIn returns the number of continuous records within the last
// window before now. Records count as continuous while adjacent
// completions are less than interval+1s apart; the run is counted from the
// newest record backwards.
func (r *CycleRecorder) RecordsIn(window, interval time.Duration, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The newest record itself must be fresh.
	if len(r.CycleTimes) > 0 && now.Sub(r.CycleTimes[len(r.CycleTimes)-1]) >= interval+time.Second {
		return 0
	}

	count := 0
	for i := len(r.CycleTimes) - 1; i >= 0; i-- {
		record := r.CycleTimes[i]
		if now.Sub(record) > window {
			break
		}

		theRecordAfter := record
		if i+1 < len(r.CycleTimes) {
			theRecordAfter = r.CycleTimes[i+1]
		}

		if theRecordAfter.Sub(record) >= interval+time.Second {
			break
		}
		count++
	}

	return count
}

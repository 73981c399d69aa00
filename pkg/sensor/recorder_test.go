package sensor

import (
	"sync"
	"testing"
	"time"
)

func TestCycleRecorder_RecordsIn(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	at := func(secondsAgo int) time.Time {
		return now.Add(-time.Duration(secondsAgo) * time.Second).Add(-10 * time.Millisecond)
	}

	type fields struct {
		maxRecordCount int
		cycleTimes     []time.Time
	}
	type args struct {
		window   time.Duration
		interval time.Duration
	}
	tests := []struct {
		name   string
		fields fields
		args   args
		want   int
	}{
		{
			name: "noncontinuous records",
			fields: fields{
				maxRecordCount: 10,
				cycleTimes:     []time.Time{at(31), at(20), at(10)},
			},
			args: args{window: 40 * time.Second, interval: 10 * time.Second},
			want: 2,
		},
		{
			name: "continuous records clipped by window",
			fields: fields{
				maxRecordCount: 10,
				cycleTimes:     []time.Time{at(70), at(60), at(40), at(30), at(20), at(10)},
			},
			args: args{window: 50 * time.Second, interval: 10 * time.Second},
			want: 4,
		},
		{
			name: "newest record already stale",
			fields: fields{
				maxRecordCount: 10,
				cycleTimes:     []time.Time{at(70), at(60), at(40), at(30), at(20), at(15)},
			},
			args: args{window: 50 * time.Second, interval: 10 * time.Second},
			want: 0,
		},
		{
			name: "no records",
			fields: fields{
				maxRecordCount: 10,
				cycleTimes:     []time.Time{},
			},
			args: args{window: 50 * time.Second, interval: 10 * time.Second},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &CycleRecorder{
				MaxRecordCount: tt.fields.maxRecordCount,
				CycleTimes:     tt.fields.cycleTimes,
				mu:             &sync.Mutex{},
			}
			if got := r.RecordsIn(tt.args.window, tt.args.interval, now); got != tt.want {
				t.Errorf("RecordsIn() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCycleRecorder_AddRecordCapacity(t *testing.T) {
	r := NewCycleRecorder(3)
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r.AddRecord(base.Add(time.Duration(i) * time.Second))
	}

	if len(r.CycleTimes) != 3 {
		t.Fatalf("expected 3 records, got %d", len(r.CycleTimes))
	}
	if !r.Last().Equal(base.Add(4 * time.Second)) {
		t.Errorf("Last() = %v, want %v", r.Last(), base.Add(4*time.Second))
	}
	if !r.CycleTimes[0].Equal(base.Add(2 * time.Second)) {
		t.Errorf("oldest = %v, want %v", r.CycleTimes[0], base.Add(2*time.Second))
	}
}

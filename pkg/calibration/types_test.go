package calibration

import (
	"math"
	"testing"
)

func TestPercentFrom(t *testing.T) {
	ch := Channel{EmptyVolts: 0.5, FullVolts: 4.5}

	cases := []struct {
		voltage float64
		want    float64
	}{
		{0.5, 0},
		{4.5, 100},
		{2.5, 50},
		{0.1, 0},   // below empty clamps
		{4.9, 100}, // above full clamps
		{1.5, 25},
	}

	for _, c := range cases {
		got := ch.PercentFrom(c.voltage)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("PercentFrom(%v) = %v, want %v", c.voltage, got, c.want)
		}
	}
}

func TestChannelValidate(t *testing.T) {
	cases := []struct {
		name    string
		ch      Channel
		wantErr bool
	}{
		{"defaults", Channel{EmptyVolts: 0.5, FullVolts: 4.5}, false},
		{"negative empty", Channel{EmptyVolts: -0.1, FullVolts: 4.5}, true},
		{"full above adc range", Channel{EmptyVolts: 0.5, FullVolts: 5.2}, true},
		{"identical voltages", Channel{EmptyVolts: 2.5, FullVolts: 2.5}, true},
		{"identical after rounding", Channel{EmptyVolts: 2.5001, FullVolts: 2.5004}, true},
		{"inverted", Channel{EmptyVolts: 4.5, FullVolts: 0.5}, true},
	}

	for _, c := range cases {
		err := c.ch.Validate()
		if (err != nil) != c.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr=%v", c.name, err, c.wantErr)
		}
	}
}

func TestRound3(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0.5894, 0.589},
		{0.5896, 0.59},
		{0.589, 0.589},
		{2.0004, 2.0},
		{4.9996, 5.0},
	}
	for _, c := range cases {
		if got := Round3(c.in); got != c.want {
			t.Errorf("Round3(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func parseIntArg(args []string, valueName string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	value, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}

	return value, nil
}

// parseDurationSecArg accepts plain seconds ("900") or a Go duration
// ("15m") and returns whole seconds.
func parseDurationSecArg(arg string) (int, error) {
	if secs, err := strconv.Atoi(arg); err == nil {
		return secs, nil
	}

	d, err := time.ParseDuration(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: use seconds or a duration like 15m", arg)
	}
	return int(d / time.Second), nil
}

// weekdayNames maps the names accepted on the command line onto Go weekday
// numbers, Sunday being 0.
var weekdayNames = map[string]int{
	"sun": 0, "sunday": 0,
	"mon": 1, "monday": 1,
	"tue": 2, "tuesday": 2,
	"wed": 3, "wednesday": 3,
	"thu": 4, "thursday": 4,
	"fri": 5, "friday": 5,
	"sat": 6, "saturday": 6,
}

// parseWeekdaysArg parses a comma-separated weekday list, by name ("mon,thu")
// or number ("1,4").
func parseWeekdaysArg(arg string) ([]int, error) {
	parts := strings.Split(arg, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if d, ok := weekdayNames[p]; ok {
			days = append(days, d)
			continue
		}
		d, err := strconv.Atoi(p)
		if err != nil || d < 0 || d > 6 {
			return nil, fmt.Errorf("invalid weekday %q: use names (mon) or 0-6 (0 = Sunday)", p)
		}
		days = append(days, d)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("no weekdays given")
	}
	return days, nil
}

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spinoza-lab/drip/pkg/client"
	"github.com/spinoza-lab/drip/pkg/schedule"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Aliases: []string{"sch", "sche", "sched"},
		Short:   "Manage irrigation schedules",
		Long: `Manage irrigation schedules.

Two kinds of entries exist: 'schedule' entries fire on fixed weekdays at a
fixed time, 'routine' entries fire every N days counted from a start date,
optionally only when the zone is below its moisture threshold. Entries fire
on their own in auto mode only (see 'drip mode').`,
		Example: `  drip schedule list
  drip schedule add --zone 3 --at 06:30 --days mon,thu --duration 15m
  drip schedule add --zone 1 --at 05:30 --every 2 --check-moisture
  drip schedule disable 4
  drip schedule next`,
		GroupID: gScheduling,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Bare 'drip schedule' lists the entries.
			if len(args) == 0 {
				return runScheduleList(cmd)
			}
			return fmt.Errorf("unknown subcommand %q", args[0])
		},
	}

	cmd.AddCommand(
		newScheduleListCommand(),
		newScheduleAddCommand(),
		newScheduleRemoveCommand(),
		newScheduleEnableCommand(),
		newScheduleDisableCommand(),
		newScheduleNextCommand(),
	)

	return cmd
}

func newScheduleListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all schedule entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleList(cmd)
		},
	}
}

func newScheduleAddCommand() *cobra.Command {
	var (
		zone          int
		at            string
		duration      string
		days          string
		every         int
		from          string
		checkMoisture bool
		disabled      bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a schedule entry",
		Long: `Add a schedule entry.

Give --days for a weekday entry or --every for an interval routine, not
both. The start time is local 24-hour HH:MM. Routines count days from
--from (default today) and can be made conditional on the zone being below
its moisture threshold with --check-moisture.`,
		Example: `  drip schedule add --zone 3 --at 06:30 --days mon,thu --duration 15m
  drip schedule add --zone 1 --at 05:30 --every 2 --from 2026-03-01
  drip schedule add --zone 2 --at 21:00 --days 0,3,5 --check-moisture`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (days == "") == (every == 0) {
				return fmt.Errorf("give exactly one of --days or --every")
			}

			entry := schedule.Entry{
				ZoneID:    zone,
				StartTime: at,
				Enabled:   !disabled,
			}

			if duration != "" {
				secs, err := parseDurationSecArg(duration)
				if err != nil {
					return err
				}
				entry.DurationSec = secs
			}

			if days != "" {
				entry.Kind = schedule.KindSchedule
				nums, err := parseWeekdaysArg(days)
				if err != nil {
					return err
				}
				for _, d := range nums {
					entry.Days = append(entry.Days, time.Weekday(d))
				}
				if checkMoisture {
					return fmt.Errorf("--check-moisture applies to routines only")
				}
			} else {
				entry.Kind = schedule.KindRoutine
				entry.IntervalDays = every
				entry.CheckMoisture = checkMoisture
				if from == "" {
					from = time.Now().Format("2006-01-02")
				}
				entry.StartDate = from
			}

			stored, err := apiClient.AddSchedule(entry)
			if err != nil {
				return fmt.Errorf("failed to add schedule: %v", err)
			}

			cmd.Printf("Added entry #%d: %s\n", stored.ID, entryText(*stored))
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&zone, "zone", 0, "zone to irrigate (required)")
	f.StringVar(&at, "at", "", "start time, local 24-hour HH:MM (required)")
	f.StringVar(&duration, "duration", "", "run duration, seconds or Go duration (default: daemon default)")
	f.StringVar(&days, "days", "", "weekdays, by name or 0-6 (weekday entry)")
	f.IntVar(&every, "every", 0, "fire every N days (interval routine)")
	f.StringVar(&from, "from", "", "routine start date, YYYY-MM-DD (default: today)")
	f.BoolVar(&checkMoisture, "check-moisture", false, "routine fires only when the zone is below its threshold")
	f.BoolVar(&disabled, "disabled", false, "store the entry disabled")
	_ = cmd.MarkFlagRequired("zone")
	_ = cmd.MarkFlagRequired("at")

	return cmd
}

func newScheduleRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove [id]",
		Aliases: []string{"rm", "delete"},
		Short:   "Remove a schedule entry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIntArg(args, "id")
			if err != nil {
				return err
			}

			if _, err := apiClient.DeleteSchedule(id); err != nil {
				return fmt.Errorf("failed to remove schedule %d: %v", id, err)
			}

			cmd.Printf("Removed entry #%d.\n", id)
			return nil
		},
	}
}

func newScheduleEnableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enable [id]",
		Short: "Enable a schedule entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleSetEnabled(cmd, args, true)
		},
	}
}

func newScheduleDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable [id]",
		Short: "Disable a schedule entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleSetEnabled(cmd, args, false)
		},
	}
}

func newScheduleNextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the next scheduled run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			next, err := apiClient.GetNextRun()
			if err != nil {
				if errors.Is(err, client.ErrNotFound) {
					cmd.Println("No upcoming runs: no enabled entries with an occurrence.")
					return nil
				}
				return err
			}

			cmd.Printf("Next run: entry #%d, zone %d at %s (in %s)\n",
				next.EntryID, next.ZoneID,
				next.At.Local().Format(time.DateTime),
				minutesText(next.MinutesUntil))
			return nil
		},
	}
}

func runScheduleList(cmd *cobra.Command) error {
	entries, err := apiClient.GetSchedules()
	if err != nil {
		return fmt.Errorf("failed to get schedules: %v", err)
	}

	if len(entries) == 0 {
		cmd.Println("No schedule entries. Add one with 'drip schedule add'.")
		return nil
	}

	for _, e := range entries {
		next := ""
		if e.NextAt != nil {
			next = "  next " + e.NextAt.Local().Format(time.DateTime)
		}
		cmd.Printf("  %s #%-3d %s%s\n", bool2Text(e.Enabled), e.ID, entryText(e.Entry), next)
	}
	return nil
}

func runScheduleSetEnabled(cmd *cobra.Command, args []string, enabled bool) error {
	id, err := parseIntArg(args, "id")
	if err != nil {
		return err
	}

	entry, err := apiClient.SetScheduleEnabled(id, enabled)
	if err != nil {
		return fmt.Errorf("failed to update schedule %d: %v", id, err)
	}

	if enabled {
		cmd.Printf("Enabled entry #%d: %s\n", entry.ID, entryText(*entry))
	} else {
		cmd.Printf("Disabled entry #%d. It will not fire until re-enabled.\n", entry.ID)
	}
	return nil
}

// entryText renders one entry the way it reads in 'drip schedule list'.
func entryText(e schedule.Entry) string {
	dur := (time.Duration(e.DurationSec) * time.Second).String()
	switch e.Kind {
	case schedule.KindSchedule:
		return fmt.Sprintf("zone %d at %s on %s for %s", e.ZoneID, e.StartTime, weekdaysText(e.Days), dur)
	case schedule.KindRoutine:
		s := fmt.Sprintf("zone %d at %s every %dd from %s for %s", e.ZoneID, e.StartTime, e.IntervalDays, e.StartDate, dur)
		if e.CheckMoisture {
			s += " (only when dry)"
		}
		return s
	default:
		return fmt.Sprintf("zone %d at %s", e.ZoneID, e.StartTime)
	}
}

func weekdaysText(days []time.Weekday) string {
	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, d.String()[:3])
	}
	return strings.Join(names, ",")
}

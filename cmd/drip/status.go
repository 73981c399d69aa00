package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spinoza-lab/drip/pkg/calibration"
	"github.com/spinoza-lab/drip/pkg/client"
	"github.com/spinoza-lab/drip/pkg/config"
	"github.com/spinoza-lab/drip/pkg/schedule"
	"github.com/spinoza-lab/drip/pkg/state"
)

type statusData struct {
	status *client.Status
	config *config.RawFileConfig
	next   *schedule.NextRun // nil when no enabled entry has an occurrence
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	st, err := apiClient.GetStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	next, err := apiClient.GetNextRun()
	if err != nil && !errors.Is(err, client.ErrNotFound) {
		return nil, fmt.Errorf("failed to get next run: %w", err)
	}

	return &statusData{
		status: st,
		config: conf,
		next:   next,
	}, nil
}

func NewStatusCommand() *cobra.Command {
	jsonOutput := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of drip",
		Long:    `Get interlock state, tank levels, zone moisture, schedules, and configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jsonOutput {
				// The daemon's status payload is already the full picture.
				raw, err := apiClient.Get("/status")
				if err != nil {
					return err
				}
				cmd.Println(raw)
				return nil
			}

			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			conf := config.NewFileFromConfig(data.config, "")
			st := data.status

			// Interlock.
			cmd.Println(bold("Irrigation status:"))

			if st.Mode == state.ModeAuto {
				cmd.Println("  Mode: " + color.GreenString("auto") + " (schedules will fire)")
			} else {
				cmd.Println("  Mode: " + color.YellowString("manual") + " (schedules are bookkept but will not fire)")
			}

			il := st.Interlock
			switch {
			case il.HoseGun:
				cmd.Println("  Interlock: " + color.CyanString("hose gun") + remainingNote(il))
			case il.Running:
				cmd.Printf("  Interlock: %s zone %d (%s)%s\n",
					color.CyanString("running"), il.CurrentZone, il.Trigger, remainingNote(il))
			default:
				cmd.Println("  Interlock: " + color.GreenString("idle"))
			}

			if len(st.Sequence) > 0 {
				cmd.Printf("  Sequence: zones %s\n", bold("%v", st.Sequence))
			}

			cmd.Println()

			// Tanks.
			cmd.Println(bold("Tanks:"))
			for _, t := range st.Tanks {
				cmd.Printf("  %s: %s (%.3f V)%s\n",
					tankName(t.Tank), tankLevel(t, conf), t.Voltage, staleNote(t))
			}
			if len(st.Tanks) == 0 {
				cmd.Println("  (no readings yet)")
			}
			cmd.Printf("  Minimum to irrigate: %s (tank 1)\n", bold("%.0f%%", conf.MinTankPercent()))

			cmd.Println()

			// Zones.
			cmd.Println(bold("Zones:"))
			for _, z := range st.Zones {
				cmd.Printf("  Zone %2d: %s  (threshold %.0f%%)  %s\n",
					z.ID, zoneMoisture(z), z.Threshold, zoneStatus(z.Status))
			}

			cmd.Println()

			// Schedules.
			cmd.Println(bold("Schedules:"))
			for _, w := range st.Waiting {
				cmd.Printf("  Waiting: entry %d (zone %d), queued %s, waiting for the interlock\n",
					w.EntryID, w.Zone, w.Since.Local().Format("15:04"))
			}
			if data.next != nil {
				cmd.Printf("  Next run: entry %d, zone %d at %s (%s)\n",
					data.next.EntryID, data.next.ZoneID,
					data.next.At.Local().Format(time.DateTime),
					bold("in %s", minutesText(data.next.MinutesUntil)))
			} else {
				cmd.Println("  Next run: none (no enabled entries)")
			}

			cmd.Println()

			// Daemon.
			cmd.Println(bold("Daemon:"))
			cmd.Printf("  Version: %s (up %s)\n", st.Version,
				(time.Duration(st.UptimeSec) * time.Second).Round(time.Second))

			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the raw status payload as JSON")

	return cmd
}

func tankName(tank int) string {
	switch tank {
	case calibration.TankWater:
		return "Tank 1 (water)   "
	case calibration.TankNutrient:
		return "Tank 2 (nutrient)"
	default:
		return fmt.Sprintf("Tank %d", tank)
	}
}

func tankLevel(t state.TankReading, conf config.Config) string {
	s := bold("%5.1f%%", t.Percent)
	if t.Tank == calibration.TankWater && t.Percent < conf.MinTankPercent() {
		s = color.New(color.Bold, color.FgRed).Sprintf("%5.1f%%", t.Percent)
	}
	return s
}

func staleNote(t state.TankReading) string {
	if t.Stale {
		return " " + color.YellowString("[stale]")
	}
	return ""
}

func zoneMoisture(z state.Zone) string {
	if z.UpdatedAt.IsZero() {
		return "   -- "
	}
	return bold("%5.1f%%", z.Moisture)
}

func zoneStatus(s state.ZoneStatus) string {
	switch s {
	case state.ZoneOK:
		return color.GreenString("ok")
	case state.ZoneDry:
		return color.YellowString("dry")
	case state.ZoneOffline:
		return color.RedString("offline")
	case state.ZoneIrrigating:
		return color.CyanString("irrigating")
	default:
		return string(s)
	}
}

func remainingNote(il state.Interlock) string {
	if il.ExpectedEndAt.IsZero() {
		return ""
	}
	left := time.Until(il.ExpectedEndAt).Round(time.Second)
	if left <= 0 {
		return ""
	}
	return fmt.Sprintf(", %s left", left)
}

func minutesText(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh%02dm", minutes/60, minutes%60)
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spinoza-lab/drip/pkg/alert"
)

func NewEventsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "events",
		Short:   "Show recent irrigation runs",
		GroupID: gAdvanced,
		Long:    `Show recent irrigation runs, newest first, from the daemon's history file.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			evs, err := apiClient.GetEvents(limit)
			if err != nil {
				return fmt.Errorf("failed to get events: %v", err)
			}

			if len(evs) == 0 {
				cmd.Println("No irrigation runs recorded yet.")
				return nil
			}

			for _, ev := range evs {
				dur := (time.Duration(ev.DurationSec) * time.Second).String()
				cmd.Printf("  %s  %s  zone %-2d  %-9s %-10s moisture before %.1f%%\n",
					ev.Timestamp.Local().Format(time.DateTime),
					bool2Text(ev.Success), ev.ZoneID, dur, ev.Trigger, ev.MoistureBefore)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")

	return cmd
}

func NewAlertsCommand() *cobra.Command {
	var (
		limit int
		level string
	)

	cmd := &cobra.Command{
		Use:     "alerts",
		Short:   "Show recent alerts",
		GroupID: gAdvanced,
		Long:    `Show recent alerts, newest first, with counts for the last 24 hours.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := apiClient.GetAlerts(limit, level)
			if err != nil {
				return fmt.Errorf("failed to get alerts: %v", err)
			}

			cmd.Printf("Last 24h: %s info, %s warning, %s critical\n",
				bold("%d", resp.Counts24[alert.LevelInfo]),
				bold("%d", resp.Counts24[alert.LevelWarning]),
				bold("%d", resp.Counts24[alert.LevelCritical]))

			if len(resp.Alerts) == 0 {
				cmd.Println("No alerts recorded.")
				return nil
			}

			for _, a := range resp.Alerts {
				cmd.Printf("  %s  %s  %s\n",
					a.Timestamp.Local().Format(time.DateTime), levelText(a.Level), a.Message)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&limit, "limit", 20, "number of alerts to show")
	f.StringVar(&level, "level", "", "only show one level (info, warning, critical)")

	return cmd
}

func levelText(l alert.Level) string {
	switch l {
	case alert.LevelCritical:
		return color.New(color.Bold, color.FgRed).Sprint("critical")
	case alert.LevelWarning:
		return color.YellowString("warning ")
	default:
		return color.CyanString("info    ")
	}
}

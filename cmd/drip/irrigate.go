package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "start [zone] [duration]",
		Short:   "Start irrigating one zone",
		GroupID: gBasic,
		Long: `Start irrigating one zone.

Duration is optional and accepts seconds ("900") or a Go duration ("15m").
When omitted, the daemon uses its configured default. Only one outlet can
run at a time; starting while another zone, the hose gun, or a drain holds
the interlock is refused.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			zone, err := parseIntArg(args[:1], "zone")
			if err != nil {
				return err
			}

			durationSec := 0
			if len(args) == 2 {
				durationSec, err = parseDurationSecArg(args[1])
				if err != nil {
					return err
				}
			}

			ret, err := apiClient.StartIrrigation(zone, durationSec)
			if err != nil {
				return fmt.Errorf("failed to start irrigation: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully started zone %d", zone)

			return nil
		},
	}
}

func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stop",
		Short:   "Stop the running irrigation",
		GroupID: gBasic,
		Long: `Stop the running irrigation.

Stops the active zone run and cancels a running sequence. The hose gun is
not affected; use 'drip hose off' or 'drip emergency-stop' for that.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.StopIrrigation()
			if err != nil {
				return fmt.Errorf("failed to stop irrigation: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully stopped irrigation")

			return nil
		},
	}
}

func NewModeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "mode [auto|manual]",
		Short:   "Show or set the operating mode",
		GroupID: gBasic,
		Long: `Show or set the operating mode.

In auto mode, schedule entries fire on their own. In manual mode the
scheduler keeps its bookkeeping but never starts a run; zone control via
'drip start' works in both modes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				mode, err := apiClient.GetMode()
				if err != nil {
					return fmt.Errorf("failed to get mode: %v", err)
				}
				cmd.Println(mode)
				return nil
			}

			ret, err := apiClient.SetMode(args[0])
			if err != nil {
				return fmt.Errorf("failed to set mode: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully set mode to %s", args[0])

			return nil
		},
	}
}

func NewHoseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "hose",
		Short:   "Control the hose gun outlet",
		GroupID: gBasic,
		Long: `Control the hose gun outlet.

The hose gun shares the pump with the zones, so it takes the same
interlock: no zone can irrigate while the hose is on. The daemon switches
the hose off on its own after the configured safety timeout.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "on",
			Short: "Open the hose gun outlet",
			RunE: func(_ *cobra.Command, _ []string) error {
				ret, err := apiClient.SetHose(true)
				if err != nil {
					return fmt.Errorf("failed to turn hose gun on: %v", err)
				}

				if ret != "" {
					logrus.Infof("daemon responded: %s", ret)
				}

				logrus.Infof("successfully turned hose gun on")

				return nil
			},
		},
		&cobra.Command{
			Use:   "off",
			Short: "Close the hose gun outlet",
			RunE: func(_ *cobra.Command, _ []string) error {
				ret, err := apiClient.SetHose(false)
				if err != nil {
					return fmt.Errorf("failed to turn hose gun off: %v", err)
				}

				if ret != "" {
					logrus.Infof("daemon responded: %s", ret)
				}

				logrus.Infof("successfully turned hose gun off")

				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Get the current status of the hose gun",
			RunE: func(_ *cobra.Command, _ []string) error {
				on, err := apiClient.GetHose()
				if err != nil {
					return fmt.Errorf("failed to get hose gun status: %v", err)
				}

				if on {
					logrus.Infof("hose gun is on")
				} else {
					logrus.Infof("hose gun is off")
				}

				return nil
			},
		},
	)

	return cmd
}

func NewRunAllCommand() *cobra.Command {
	var pauseSec int

	cmd := &cobra.Command{
		Use:     "run-all [duration]",
		Short:   "Irrigate every zone in sequence",
		GroupID: gAdvanced,
		Long: `Irrigate every zone in sequence, one at a time, in ascending order.

Duration applies per zone and accepts seconds or a Go duration; when
omitted the daemon uses its configured default. Between zones the line is
left to depressurize for the pause duration. The sequence runs in the
background; 'drip stop' cancels it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			durationSec := 0
			if len(args) == 1 {
				var err error
				durationSec, err = parseDurationSecArg(args[0])
				if err != nil {
					return err
				}
			}

			zones, err := allZoneIDs()
			if err != nil {
				return err
			}

			ret, err := apiClient.StartSequence(zones, durationSec, pauseSec)
			if err != nil {
				return fmt.Errorf("failed to start sequence: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully started a sequence across %d zones", len(zones))

			return nil
		},
	}

	cmd.Flags().IntVar(&pauseSec, "pause", 0, "seconds to wait between zones (0 = daemon default)")

	return cmd
}

func NewDrainCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "drain",
		Short:   "Pulse every valve open to drain the manifold",
		GroupID: gAdvanced,
		Long: `Pulse every valve open to drain the manifold before winter shutdown.

The pump stays off and the tank gate does not apply; each zone valve opens
briefly in sequence so the lines can empty.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.StartDrain()
			if err != nil {
				return fmt.Errorf("failed to start drain: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully started winter drain")

			return nil
		},
	}
}

func NewEmergencyStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "emergency-stop",
		Short:   "Force every output off immediately",
		GroupID: gBasic,
		Long: `Force every output off immediately.

Ends the active run, the hose gun, and any sequence or drain, then drives
the pump and every valve off regardless of what the daemon thinks is
running.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.EmergencyStop()
			if err != nil {
				return fmt.Errorf("emergency stop failed: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("emergency stop executed")

			return nil
		},
	}
}

// allZoneIDs asks the daemon for its zone list, in ascending order.
func allZoneIDs() ([]int, error) {
	zones, err := apiClient.GetZones()
	if err != nil {
		return nil, fmt.Errorf("failed to get zones: %v", err)
	}
	ids := make([]int, 0, len(zones))
	for _, z := range zones {
		ids = append(ids, z.ID)
	}
	return ids, nil
}

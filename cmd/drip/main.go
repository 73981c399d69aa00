package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/spinoza-lab/drip/pkg/client"
	"github.com/spinoza-lab/drip/pkg/version"
)

var (
	logLevel       = "info"
	unixSocketPath = "/var/run/drip.sock"
	configPath     = "/etc/drip/config.json"
)

// apiClient is built in the root PersistentPreRunE, once the socket flag has
// been parsed.
var apiClient *client.Client

var (
	gBasic        = "Basic:"
	gScheduling   = "Scheduling:"
	gAdvanced     = "Advanced:"
	commandGroups = []string{
		gBasic,
		gScheduling,
		gAdvanced,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: drip daemon is not running")
		fmt.Fprintln(os.Stderr, "Is the daemon running? Have you installed it?")
	} else if errors.Is(err, client.ErrPermissionDenied) {
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or set 'allow_non_root_access' in the daemon config to grant permissions to your user")
	}
}

func main() {
	// A garden controller does not need many CPUs.
	if os.Getenv("GOMAXPROCS") == "" {
		runtime.GOMAXPROCS(2)
	}

	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drip",
		Short: "drip is a controller for multi-zone drip irrigation",
		Long: `drip is a controller for multi-zone drip irrigation.

It samples tank levels and soil probes, runs weekday schedules and
interval routines, and drives the shared pump and the zone valves with a
hardware interlock so only one outlet is ever open.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}

			apiClient = client.NewClient(unixSocketPath)

			if clientVersion, daemonVersion, err := getVersion(); err == nil {
				if daemonVersion != clientVersion {
					logrus.WithFields(logrus.Fields{
						"clientVersion": clientVersion,
						"daemonVersion": daemonVersion,
					}).Warn("Version mismatch between client and daemon. drip may not work as expected. Restart the daemon after upgrading so both run the same version.")
				}
			}

			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "drip daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewStatusCommand(),
		NewStartCommand(),
		NewStopCommand(),
		NewModeCommand(),
		NewHoseCommand(),
		NewRunAllCommand(),
		NewDrainCommand(),
		NewEmergencyStopCommand(),
		NewScheduleCommand(),
		NewCalibrationCommand(),
		NewEventsCommand(),
		NewAlertsCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}

// getVersion returns the CLI version and the daemon version.
func getVersion() (string, string, error) {
	daemonVersion, err := apiClient.GetVersion()
	if err != nil {
		return version.Version, "", err
	}
	return version.Version, daemonVersion, nil
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

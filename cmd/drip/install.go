package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spinoza-lab/drip/pkg/config"
	daemonutils "github.com/spinoza-lab/drip/pkg/utils/daemon"
)

func init() {
	commandGroups = append(commandGroups, gInstallation)
}

var gInstallation = "Installation:"

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false

	cmd := &cobra.Command{
		Use:     "install",
		Short:   "Install drip (system-wide)",
		GroupID: gInstallation,
		Long: `Install the drip daemon as a systemd service (system-wide).

This makes drip run in the background and automatically start on boot. You must run this command as root.

By default, only root is allowed to access the drip daemon for safety reasons: whoever reaches the socket can open valves. If you want to allow non-root users, i.e., you, to access the daemon, you can use the --allow-non-root-access flag, so you don't have to use sudo every time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}

			conf.SetAllowNonRootAccess(allowNonRootAccess)
			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the drip daemon.")
			} else {
				logrus.Info("only root user is allowed to access the drip daemon.")
			}

			err = daemonutils.Install()
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("systemd will use the current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run ``drip install'' again.\n", exePath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access the drip daemon.")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall",
		Short:   "Uninstall drip (system-wide)",
		GroupID: gInstallation,
		Long: `Uninstall the drip daemon from systemd (system-wide).

This stops drip and removes its service unit. The daemon closes every
valve and stops the pump on the way down.

You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := daemonutils.Uninstall()
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			fmt.Println("successfully uninstalled")

			cmd.Printf("Your config is kept in %s and your schedules under the data dir, in case you want to use `drip' again. If you want a complete uninstall, remove them and drip itself manually.\n", configPath)

			return nil
		},
	}
}

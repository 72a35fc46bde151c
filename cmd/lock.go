// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/jackstat/pkg/driver"
	"github.com/Thermoquad/jackstat/pkg/jackframe"
)

var (
	lockTolerance float64
	lockArm       bool
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Level every leg and hold position",
	Long: `Send LEVEL_AND_LOCK to the actuator controller and wait for the ACK.

The controller levels every leg within --tolerance and holds. A controller
latched by an emergency stop refuses the lock; --arm re-arms it toward the
configured target depth first. The controller clock is synchronized on
connect.

Exit codes:
  0 - Lock acknowledged
  1 - Lock refused or not acknowledged
  2 - Connection error`,
	RunE: runLock,
}

func init() {
	rootCmd.AddCommand(lockCmd)
	lockCmd.Flags().Float64Var(&lockTolerance, "tolerance", 0, "Leveling tolerance in mm (default from config)")
	lockCmd.Flags().BoolVar(&lockArm, "arm", false, "Re-arm a stopped controller before locking")
}

func runLock(cmd *cobra.Command, args []string) error {
	endpoint, info, err := linkEndpoint()
	if err != nil {
		return err
	}
	tolerance := tuning.Planner.ToleranceMM
	if cmd.Flags().Changed("tolerance") {
		tolerance = lockTolerance
	}

	d := driver.NewSerialDriver(endpoint, endpointOpener(endpoint), tuning.Link, sessionOptions()...)
	fmt.Printf("Connection: %s\n", info)
	if err := d.Connect(); err != nil {
		d.Disconnect()
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer d.Disconnect()

	if lockArm {
		if err := d.Arm(tuning.Planner.TargetDepthMM); err != nil {
			fmt.Fprintf(os.Stderr, "Arm failed: %v\n", err)
			os.Exit(1)
		}
	}

	err = d.LevelAndLock(tolerance)
	var refused *driver.Error
	switch {
	case errors.As(err, &refused) && refused.Status == jackframe.StatusRejected:
		fmt.Fprintf(os.Stderr, "LEVEL_AND_LOCK refused; the controller may be stopped (retry with --arm)\n")
		os.Exit(1)
	case err != nil:
		fmt.Fprintf(os.Stderr, "LEVEL_AND_LOCK failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("LEVEL_AND_LOCK acknowledged (tolerance %.1f mm)\n", tolerance)
	return nil
}

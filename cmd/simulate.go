// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/jackstat/pkg/monitoring"
	"github.com/Thermoquad/jackstat/pkg/rig"
	"github.com/Thermoquad/jackstat/pkg/rigsim"
)

var (
	simPushInterval time.Duration
	simSeed         int64
	simRandomLayout bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Serve a simulated actuator controller on a serial port",
	Long: `Act as the rig's actuator controller on --port.

The simulated controller answers the full command set against an in-memory
rig, latches emergency stop and, with --push-interval, pushes leg state and
pose. Pair it with a null-modem or virtual serial pair to run
"jackstat run --driver serial" without hardware.

The port is reopened if it fails. Ctrl+C exits.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().DurationVar(&simPushInterval, "push-interval", 0, "Leg-state push interval (0 disables)")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "Seed for the simulated rig (0 picks one)")
	simulateCmd.Flags().BoolVar(&simRandomLayout, "random-layout", false, "Start from a random leg layout")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if portName == "" {
		return errors.New("--port is required")
	}

	seed := simSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	r := rig.New()
	layout := rig.DefaultLayout()
	if simRandomLayout {
		layout = rig.RandomLayout(rng)
	}
	r.Reset(layout, rng)

	dev := rigsim.New(r, seed)
	dev.PushInterval = simPushInterval

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Jackstat - Simulated Controller\n")
	fmt.Printf("Port: %s @ %d baud\n", portName, tuning.Link.Port.BaudRate)
	fmt.Printf("Seed: %d\n", seed)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	retry := tuning.Link.ReconnectInterval.Std()
	for {
		conn, err := OpenSerialConnection(portName, tuning.Link.Port)
		if err != nil {
			monitoring.Logf("open %s: %v", portName, err)
		} else {
			monitoring.Logf("serving on %s", portName)
			if err := dev.Serve(ctx, conn); err != nil {
				monitoring.Logf("serve: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			fmt.Printf("\nServed %d requests\n", len(dev.Requests()))
			return nil
		case <-time.After(retry):
		}
	}
}

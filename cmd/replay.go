// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/jackstat/pkg/recorder"
)

var replayCommands bool

var replayCmd = &cobra.Command{
	Use:   "replay <recording>",
	Short: "Print a recorded run",
	Long: `Decode a CBOR run recording written by "jackstat run --record" and print
one line per tick, followed by a summary.

A recording cut short by a crash is printed up to its last complete tick.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayCommands, "commands", false, "Print each tick's leg commands")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	records, readErr := recorder.ReadAll(f)
	if len(records) == 0 {
		if readErr != nil {
			return readErr
		}
		return fmt.Errorf("%s: no records", args[0])
	}

	fmt.Printf("Run %s: %d ticks\n\n", records[0].RunID, len(records))

	var errs, abnormal, degraded int
	for _, rec := range records {
		line := fmt.Sprintf("[%s] #%-4d %-17s center z=%7.1f target=%7.1f",
			rec.Time().Format("15:04:05.000"), rec.Tick, rec.State, rec.CenterZ, rec.TargetCenterZ)
		if rec.ForceAbnormal {
			line += " FORCE"
			abnormal++
		}
		if rec.Degraded {
			line += " DEGRADED"
			degraded++
		}
		if rec.Err != "" {
			line += " error: " + rec.Err
			errs++
		}
		fmt.Println(line)

		if replayCommands {
			for _, c := range rec.Commands {
				fmt.Printf("    leg %2d  dz=%6.2f dx=%6.2f dy=%6.2f\n", c.ID, c.DZ, c.DX, c.DY)
			}
		}
	}

	first, last := records[0], records[len(records)-1]
	fmt.Printf("\n--- Run summary ---\n")
	fmt.Printf("Duration: %s\n", last.Time().Sub(first.Time()))
	fmt.Printf("Center z: %.1f => %.1f mm\n", first.CenterZ, last.CenterZ)
	fmt.Printf("Final state: %s (%s)\n", last.State, last.Status)
	fmt.Printf("Dispatch errors: %d, force alarms: %d, degraded: %d\n", errs, abnormal, degraded)

	if readErr != nil {
		fmt.Fprintf(os.Stderr, "recording truncated: %v\n", readErr)
	}
	return nil
}

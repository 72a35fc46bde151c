// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/jackstat/pkg/jackframe"
)

var (
	rawLogStatsInterval time.Duration
	rawLogValidate      bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display actuator protocol frames as they arrive.

Each frame is shown with timestamp, command and decoded payload. Rejected
candidates (CRC or framing errors) are reported as they are skipped, and link
statistics are printed periodically.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().DurationVar(&rawLogStatsInterval, "stats-interval", 10*time.Second, "Statistics print interval (0 disables)")
	rawLogCmd.Flags().BoolVar(&rawLogValidate, "validate", true, "Report payload validation errors")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(context.Background())
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Jackstat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := jackframe.NewDecoder()
	stats := jackframe.NewStatistics()
	buf := make([]byte, 128)
	lastStats := time.Now()

	for {
		n, err := conn.Read(buf)
		decoder.FeedFunc(buf[:n], func(f *jackframe.Frame, decodeErr error) {
			if decodeErr != nil {
				stats.Update(nil, decodeErr, nil)
				fmt.Printf("[ERROR] %v\n", decodeErr)
				return
			}
			var problems []jackframe.ValidationError
			if rawLogValidate {
				problems = jackframe.ValidateFrame(f)
			}
			stats.Update(f, nil, problems)
			fmt.Println(jackframe.FormatFrame(f))
			for _, p := range problems {
				fmt.Printf("  \033[1;33m%s\033[0m\n", p.Message)
			}
		})

		if rawLogStatsInterval > 0 && time.Since(lastStats) >= rawLogStatsInterval {
			fmt.Print(stats.String())
			lastStats = time.Now()
		}

		if err != nil {
			// a WebSocket read error means the connection is gone
			if errors.Is(err, ErrConnectionClosed) {
				log.Printf("Connection closed")
				fmt.Print(stats.String())
				return nil
			}
			log.Printf("Read error: %v", err)
			if isWebSocketURL(wsURL) {
				fmt.Print(stats.String())
				return err
			}
		}
	}
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/jackstat/pkg/jackframe"
)

var (
	pingTimeout time.Duration
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Ping the actuator controller over the request session",
	Long: `Send PING requests to the actuator controller and wait for each ACK.

The controller's firmware version is queried first. Every ping carries its
own sequence number and is matched to its ACK the same way the control loop
matches motion commands, so this exercises the full request path.

Exit codes:
  0 - All pings acknowledged
  1 - One or more pings failed or timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 2*time.Second, "Timeout for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	session, connInfo, err := openSession(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer session.Close()

	fmt.Printf("Jackstat - Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %s per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	if payload, err := session.Request(ctx, jackframe.CmdGetVersion, nil, pingTimeout, tuning.Link.Retries); err != nil {
		fmt.Printf("Version: unavailable (%v)\n\n", err)
	} else if ack, err := jackframe.ParseAck(payload); err == nil && ack.OK() {
		if v, err := jackframe.ParseVersion(ack.Data); err == nil {
			fmt.Printf("Version: %s\n\n", v)
		}
	}

	successCount := 0
	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		start := time.Now()
		payload, err := session.Request(ctx, jackframe.CmdPing, nil, pingTimeout, 0)
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
		} else if ack, err := jackframe.ParseAck(payload); err != nil {
			fmt.Printf("BAD ACK: %v\n", err)
		} else if !ack.OK() {
			fmt.Printf("%s (seq=%d)\n", jackframe.FormatStatus(ack.Status), ack.Seq)
		} else {
			fmt.Printf("ACK seq=%d, rtt=%v\n", ack.Seq, time.Since(start).Round(time.Millisecond))
			successCount++
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	failCount := pingCount - successCount
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d acknowledged, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(max(pingCount, 1))*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/jackstat/pkg/jackframe"
)

var estopBare bool

var estopCmd = &cobra.Command{
	Use:   "estop",
	Short: "Send EMERGENCY_STOP to the actuator controller",
	Long: `Latch the actuator controller's emergency stop and wait for the ACK.

The request is retried with the configured link retries. With --bare the stop
is sent once without a sequence number and no ACK is awaited; controllers
latch a bare stop as well.

Exit codes:
  0 - Stop acknowledged (or sent, with --bare)
  1 - Stop not acknowledged
  2 - Connection error`,
	RunE: runEstop,
}

func init() {
	rootCmd.AddCommand(estopCmd)
	estopCmd.Flags().BoolVar(&estopBare, "bare", false, "Send without waiting for an ACK")
}

func runEstop(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("Connection: %s\n", connInfo)

	if estopBare {
		if err := session.Send(jackframe.CmdEmergencyStop, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Send error: %v\n", err)
			os.Exit(2)
		}
		fmt.Printf("EMERGENCY_STOP sent\n")
		return nil
	}

	payload, err := session.Request(ctx, jackframe.CmdEmergencyStop, nil, tuning.Link.RequestTimeout.Std(), tuning.Link.Retries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "EMERGENCY_STOP failed: %v\n", err)
		os.Exit(1)
	}
	ack, err := jackframe.ParseAck(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "EMERGENCY_STOP: %v\n", err)
		os.Exit(1)
	}
	if !ack.OK() {
		fmt.Fprintf(os.Stderr, "EMERGENCY_STOP not acknowledged: %s\n", jackframe.FormatStatus(ack.Status))
		os.Exit(1)
	}
	fmt.Printf("EMERGENCY_STOP acknowledged (seq=%d)\n", ack.Seq)
	return nil
}

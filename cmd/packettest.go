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
	packetTestTimeout time.Duration
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid frame",
	Long: `Wait for a valid actuator protocol frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any valid
frame. It skips bytes that do not form a frame with a matching CRC. A PING is
sent first so a controller that does not push telemetry still answers.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().DurationVar(&packetTestTimeout, "timeout", 10*time.Second, "Time to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Jackstat - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %s\n", packetTestTimeout)
	fmt.Printf("Waiting for a valid frame...\n\n")

	// seq 0 is never allocated by a session, so the ACK is easy to spot
	if _, err := conn.Write(jackframe.MustEncode(jackframe.CmdPing, []byte{0})); err != nil {
		fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
		os.Exit(2)
	}

	frameChan := make(chan *jackframe.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		decoder := jackframe.NewDecoder()
		buf := make([]byte, 128)
		for {
			n, err := conn.Read(buf)
			if frames := decoder.Feed(buf[:n]); len(frames) > 0 {
				st := decoder.Stats()
				if dropped := st.CRCErrors + st.FramingResets; dropped > 0 {
					fmt.Printf("(dropped %d corrupt candidates before sync)\n", dropped)
				}
				frameChan <- frames[0]
				return
			}
			if err != nil {
				errChan <- err
				return
			}
		}
	}()

	select {
	case f := <-frameChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Command: %s (0x%02X)\n", jackframe.FormatCommand(f.Cmd()), f.Cmd())
		fmt.Printf("  Length: %d bytes\n", len(f.Raw()))
		fmt.Printf("  CRC: 0x%04X\n", f.CRC())
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(packetTestTimeout):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %s\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}

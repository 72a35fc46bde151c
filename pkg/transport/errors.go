// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned to requests outstanding when the session
	// is closed or the supervisor stops.
	ErrSessionClosed = errors.New("session closed")

	// ErrRequestTimeout is returned when no matching ACK arrived within the
	// timeout on any attempt.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrNotOpen is returned by Request when no channel is open.
	ErrNotOpen = errors.New("session not open")

	// ErrNoSequence is returned when all 255 sequence numbers are pending.
	ErrNoSequence = errors.New("no free sequence number")
)

// LinkError reports an open, read or write failure on the channel.
type LinkError struct {
	Op  string // "open", "read" or "write"
	Err error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s: %v", e.Op, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

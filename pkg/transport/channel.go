// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"io"
)

// Channel is the byte link a Session runs over: a serial port, a WebSocket
// bridge or an in-memory pipe.
type Channel interface {
	io.Reader
	io.Writer
	io.Closer
}

// Opener opens a fresh Channel. It is called again on every reconnect.
type Opener func(ctx context.Context) (Channel, error)

// StaticOpener returns an Opener that hands out ch exactly once. Later
// calls fail, so a supervised session over a single pre-opened channel does
// not reconnect onto a closed one.
func StaticOpener(ch Channel) Opener {
	used := make(chan struct{}, 1)
	used <- struct{}{}
	return func(ctx context.Context) (Channel, error) {
		select {
		case <-used:
			return ch, nil
		default:
			return nil, io.ErrClosedPipe
		}
	}
}

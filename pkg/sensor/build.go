// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensor

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Thermoquad/jackstat/pkg/monitoring"
	"github.com/Thermoquad/jackstat/pkg/rig"
	"github.com/Thermoquad/jackstat/pkg/transport"
)

// Sensor modes accepted by Build
const (
	ModeMock   = "mock"
	ModeSerial = "serial"
	ModeFrames = "frames"
)

// Options selects and configures a sensor
type Options struct {
	Mode string
	Rig  *rig.Rig
	Seed int64

	// Port and Open configure serial mode
	Port string
	Open func(name string) (io.ReadWriteCloser, error)

	// Session carries pushes in frames mode
	Session *transport.Session
}

// Build returns the sensor for opts.Mode. A serial sensor whose port
// cannot be opened falls back to the mock.
func Build(opts Options) (Sensor, error) {
	mode := strings.ToLower(opts.Mode)
	if mode == "" {
		mode = ModeMock
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	switch mode {
	case ModeMock:
		return NewMockSensor(opts.Rig, seed), nil

	case ModeSerial:
		if opts.Port == "" || opts.Open == nil {
			monitoring.Logf("serial sensor requested without a port, using the mock sensor")
			return NewMockSensor(opts.Rig, seed), nil
		}
		port, err := opts.Open(opts.Port)
		if err != nil {
			monitoring.Logf("sensor port %s: %v, using the mock sensor", opts.Port, err)
			return NewMockSensor(opts.Rig, seed), nil
		}
		monitoring.Logf("sensor port open: %s", opts.Port)
		return NewSerialSensor(port, opts.Rig), nil

	case ModeFrames:
		if opts.Session == nil {
			return nil, fmt.Errorf("frames sensor needs a transport session")
		}
		return NewFrameSensor(opts.Session, opts.Rig), nil

	default:
		return nil, fmt.Errorf("unknown sensor mode %q", opts.Mode)
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Thermoquad/jackstat/pkg/config"
	"github.com/Thermoquad/jackstat/pkg/monitoring"
	"github.com/Thermoquad/jackstat/pkg/rig"
	"github.com/Thermoquad/jackstat/pkg/transport"
)

// Driver modes accepted by Build
const (
	ModeMock   = "mock"
	ModeSerial = "serial"
	ModeMulti  = "multi"
)

// Options selects and configures a driver
type Options struct {
	Mode string
	Rig  *rig.Rig
	Link config.Link

	// Port is the serial mode's port name
	Port string
	// LegPorts maps leg ids to port names in multi mode
	LegPorts map[int]string
	// OpenPort returns an opener for a port name
	OpenPort func(name string) transport.Opener

	SessionOptions []transport.SessionOption
}

// Build returns the driver for opts.Mode. Serial modes without a port
// fall back to the simulated driver.
func Build(opts Options) (Driver, error) {
	mode := strings.ToLower(opts.Mode)
	if mode == "" {
		mode = ModeMock
	}

	switch mode {
	case ModeMock:
		return NewSimDriver(opts.Rig), nil

	case ModeSerial:
		if opts.Port == "" || opts.OpenPort == nil {
			monitoring.Logf("serial driver requested without a port, using the simulated driver")
			return NewSimDriver(opts.Rig), nil
		}
		return NewSerialDriver(opts.Port, opts.OpenPort(opts.Port), opts.Link, opts.SessionOptions...), nil

	case ModeMulti:
		if len(opts.LegPorts) == 0 || opts.OpenPort == nil {
			monitoring.Logf("multi-port driver requested without leg ports, using the simulated driver")
			return NewSimDriver(opts.Rig), nil
		}
		byPort := make(map[string]Driver)
		routes := make(map[int]Driver, len(opts.LegPorts))
		for id, port := range opts.LegPorts {
			if id < 1 || id > rig.LegCount {
				return nil, fmt.Errorf("leg port mapping: unknown leg %d", id)
			}
			d, ok := byPort[port]
			if !ok {
				d = NewSerialDriver(port, opts.OpenPort(port), opts.Link, opts.SessionOptions...)
				byPort[port] = d
			}
			routes[id] = d
		}
		return NewMultiPortDriver(routes), nil

	default:
		return nil, fmt.Errorf("unknown driver mode %q", opts.Mode)
	}
}

// ParseLegPorts parses "1=/dev/ttyUSB0,2=/dev/ttyUSB1" into a leg id to
// port mapping.
func ParseLegPorts(s string) (map[int]string, error) {
	out := make(map[int]string)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idText, port, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(port) == "" {
			return nil, fmt.Errorf("leg port %q: want <leg>=<port>", entry)
		}
		id, err := strconv.Atoi(strings.TrimSpace(idText))
		if err != nil || id < 1 || id > rig.LegCount {
			return nil, fmt.Errorf("leg port %q: leg must be 1..%d", entry, rig.LegCount)
		}
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("leg %d mapped twice", id)
		}
		out[id] = strings.TrimSpace(port)
	}
	return out, nil
}

// FormatLegPorts renders a mapping in ParseLegPorts syntax, ordered by leg
func FormatLegPorts(m map[int]string) string {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d=%s", id, m[id])
	}
	return strings.Join(parts, ",")
}

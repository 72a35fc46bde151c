// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/jackstat/pkg/rig"
)

// MultiPortDriver routes each leg to its own driver, typically one serial
// port per actuator controller. Several legs may share a driver.
type MultiPortDriver struct {
	routes  map[int]Driver
	drivers []Driver
}

// NewMultiPortDriver creates a driver from a leg id to driver mapping
func NewMultiPortDriver(routes map[int]Driver) *MultiPortDriver {
	m := &MultiPortDriver{routes: make(map[int]Driver, len(routes))}
	seen := make(map[Driver]bool)
	for id := 1; id <= rig.LegCount; id++ {
		d, ok := routes[id]
		if !ok {
			continue
		}
		m.routes[id] = d
		if !seen[d] {
			seen[d] = true
			m.drivers = append(m.drivers, d)
		}
	}
	return m
}

func (m *MultiPortDriver) Connect() error {
	var errs []error
	for _, d := range m.drivers {
		errs = append(errs, d.Connect())
	}
	return errors.Join(errs...)
}

func (m *MultiPortDriver) Disconnect() error {
	var errs []error
	for _, d := range m.drivers {
		errs = append(errs, d.Disconnect())
	}
	return errors.Join(errs...)
}

// IsConnected reports whether every routed driver is connected
func (m *MultiPortDriver) IsConnected() bool {
	if len(m.drivers) == 0 {
		return false
	}
	for _, d := range m.drivers {
		if !d.IsConnected() {
			return false
		}
	}
	return true
}

// Arm arms every driver, reporting all failures
func (m *MultiPortDriver) Arm(targetMM float64) error {
	var errs []error
	for _, d := range m.drivers {
		errs = append(errs, d.Arm(targetMM))
	}
	return errors.Join(errs...)
}

// ApplyBatch sends every command to its leg's driver one at a time
func (m *MultiPortDriver) ApplyBatch(cmds []rig.MotionCommand) error {
	var errs []error
	for _, c := range cmds {
		errs = append(errs, m.MoveLegDelta(c))
	}
	return errors.Join(errs...)
}

func (m *MultiPortDriver) MoveLegDelta(c rig.MotionCommand) error {
	d, ok := m.routes[c.ID]
	if !ok {
		return fmt.Errorf("leg %d: no driver routed", c.ID)
	}
	return d.MoveLegDelta(c)
}

// StopAll stops every driver even if some fail
func (m *MultiPortDriver) StopAll() error {
	var errs []error
	for _, d := range m.drivers {
		errs = append(errs, d.StopAll())
	}
	return errors.Join(errs...)
}

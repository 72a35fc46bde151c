// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"sync"
	"time"

	"github.com/Thermoquad/jackstat/pkg/monitoring"
	"github.com/Thermoquad/jackstat/pkg/rig"
)

// SimDriver applies motion directly to a rig model, closing the loop
// without hardware.
type SimDriver struct {
	rig *rig.Rig

	// Latency is slept before every motion command
	Latency time.Duration
	// BatchUnsupported makes ApplyBatch return ErrBatchUnsupported
	BatchUnsupported bool

	mu        sync.Mutex
	connected bool
	stops     int
	arms      int
}

// NewSimDriver creates a disconnected driver for r
func NewSimDriver(r *rig.Rig) *SimDriver {
	return &SimDriver{rig: r}
}

func (d *SimDriver) Connect() error {
	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()
	monitoring.Logf("sim driver connected")
	return nil
}

func (d *SimDriver) Disconnect() error {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	return nil
}

func (d *SimDriver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Arm marks every leg moving
func (d *SimDriver) Arm(targetMM float64) error {
	if !d.IsConnected() {
		return ErrNotConnected
	}
	d.mu.Lock()
	d.arms++
	d.mu.Unlock()
	d.rig.SetStatus(rig.StatusMoving)
	monitoring.Logf("sim driver: armed, target %.1f mm", targetMM)
	return nil
}

func (d *SimDriver) ApplyBatch(cmds []rig.MotionCommand) error {
	if !d.IsConnected() {
		return ErrNotConnected
	}
	if d.BatchUnsupported {
		return ErrBatchUnsupported
	}
	d.wait()
	for _, c := range cmds {
		if err := d.move(c); err != nil {
			return err
		}
	}
	return nil
}

func (d *SimDriver) MoveLegDelta(cmd rig.MotionCommand) error {
	if !d.IsConnected() {
		return ErrNotConnected
	}
	d.wait()
	return d.move(cmd)
}

// StopAll marks every leg stopped. It works while disconnected.
func (d *SimDriver) StopAll() error {
	d.mu.Lock()
	d.stops++
	d.mu.Unlock()
	d.rig.SetStatus(rig.StatusStopped)
	monitoring.Logf("sim driver: all legs stopped")
	return nil
}

// Stops returns how many times StopAll was called
func (d *SimDriver) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

// Arms returns how many times Arm succeeded
func (d *SimDriver) Arms() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.arms
}

func (d *SimDriver) wait() {
	if d.Latency > 0 {
		time.Sleep(d.Latency)
	}
}

func (d *SimDriver) move(c rig.MotionCommand) error {
	return d.rig.Update(c.ID, func(l *rig.Leg) {
		l.Z -= c.DZ
		if l.Z < 0 {
			l.Z = 0
		}
		l.X += c.DX
		l.Y += c.DY
		l.Status = rig.StatusMoving
	})
}

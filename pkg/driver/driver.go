// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package driver sends per-leg motion to the rig's actuators.
//
// Implementations: SimDriver writes deltas straight onto a rig.Rig,
// SerialDriver frames them over a supervised transport session and
// MultiPortDriver routes each leg to its own driver.
package driver

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/jackstat/pkg/jackframe"
	"github.com/Thermoquad/jackstat/pkg/rig"
)

// Driver moves actuators. Distances are in mm and a positive DZ descends.
type Driver interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	// Arm starts a descent toward targetMM. It clears a latched
	// emergency stop so motion commands are accepted again.
	Arm(targetMM float64) error
	ApplyBatch(cmds []rig.MotionCommand) error
	MoveLegDelta(cmd rig.MotionCommand) error
	StopAll() error
}

var (
	// ErrBatchUnsupported means the batch was not applied and the caller
	// should send the commands leg by leg.
	ErrBatchUnsupported = errors.New("batch motion not supported")

	ErrNotConnected = errors.New("driver not connected")
)

// Error is a command the actuator controller refused
type Error struct {
	Op     string
	Leg    int // 0 when the command is not leg specific
	Status uint8
}

func (e *Error) Error() string {
	if e.Leg > 0 {
		return fmt.Sprintf("%s leg %d: %s", e.Op, e.Leg, jackframe.FormatStatus(e.Status))
	}
	return fmt.Sprintf("%s: %s", e.Op, jackframe.FormatStatus(e.Status))
}

// Dispatch applies cmds as one batch, falling back to one MoveLegDelta per
// command when d reports ErrBatchUnsupported. Per-leg failures are joined.
func Dispatch(d Driver, cmds []rig.MotionCommand) error {
	err := d.ApplyBatch(cmds)
	if !errors.Is(err, ErrBatchUnsupported) {
		return err
	}

	var errs []error
	for _, c := range cmds {
		if err := d.MoveLegDelta(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/jackstat/pkg/config"
	"github.com/Thermoquad/jackstat/pkg/jackframe"
	"github.com/Thermoquad/jackstat/pkg/monitoring"
	"github.com/Thermoquad/jackstat/pkg/rig"
	"github.com/Thermoquad/jackstat/pkg/transport"
)

// SerialDriver frames motion commands over a supervised session and waits
// for each acknowledgement.
type SerialDriver struct {
	name string
	sup  *transport.Supervisor
	link config.Link

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSerialDriver creates a disconnected driver. name labels log lines.
func NewSerialDriver(name string, open transport.Opener, link config.Link, opts ...transport.SessionOption) *SerialDriver {
	return &SerialDriver{
		name: name,
		sup:  transport.NewSupervisor(transport.NewSession(open, opts...), link),
		link: link,
	}
}

// Supervisor returns the link supervisor behind the driver
func (d *SerialDriver) Supervisor() *transport.Supervisor {
	return d.sup
}

// Connect starts link supervision and waits up to the ready timeout for
// the link to come up.
func (d *SerialDriver) Connect() error {
	d.mu.Lock()
	if d.cancel == nil {
		d.ctx, d.cancel = context.WithCancel(context.Background())
		d.sup.Start(d.ctx)
	}
	ctx := d.ctx
	d.mu.Unlock()

	if !d.sup.WaitReady(ctx, d.link.ReadyTimeout.Std()) {
		return fmt.Errorf("%s: link not ready after %s: %w", d.name, d.link.ReadyTimeout.Std(), ErrNotConnected)
	}
	monitoring.Logf("%s connected", d.name)
	if err := d.SyncTime(); err != nil {
		monitoring.Logf("%s: %v", d.name, err)
	}
	return nil
}

func (d *SerialDriver) Disconnect() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	d.sup.Stop()
	monitoring.Logf("%s disconnected", d.name)
	return nil
}

func (d *SerialDriver) IsConnected() bool {
	return d.sup.State() == transport.StateReady
}

// Arm sends START_SLOW_DROP toward targetMM
func (d *SerialDriver) Arm(targetMM float64) error {
	monitoring.Logf("%s TX START SLOW DROP target %.1f mm", d.name, targetMM)
	return d.command("start slow drop", 0, jackframe.CmdStartSlowDrop, jackframe.DropPayload(targetMM))
}

// ApplyBatch sends MOVE_BATCH frames of up to MaxBatchLegs entries. A
// controller that does not know MOVE_BATCH yields ErrBatchUnsupported.
func (d *SerialDriver) ApplyBatch(cmds []rig.MotionCommand) error {
	for start := 0; start < len(cmds); start += jackframe.MaxBatchLegs {
		end := min(start+jackframe.MaxBatchLegs, len(cmds))
		chunk := cmds[start:end]

		deltas := make([]jackframe.LegDelta, len(chunk))
		for i, c := range chunk {
			monitoring.Debugf("%s TX leg#%02d dz=%.2f dx=%.2f dy=%.2f", d.name, c.ID, c.DZ, c.DX, c.DY)
			deltas[i] = toDelta(c)
		}
		payload, err := jackframe.MoveBatchPayload(deltas)
		if err != nil {
			return err
		}

		err = d.command("move batch", 0, jackframe.CmdMoveBatch, payload)
		var rejected *Error
		if errors.As(err, &rejected) && rejected.Status == jackframe.StatusUnknownCommand {
			return fmt.Errorf("%w: %w", ErrBatchUnsupported, err)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *SerialDriver) MoveLegDelta(c rig.MotionCommand) error {
	monitoring.Debugf("%s TX leg#%02d dz=%.2f dx=%.2f dy=%.2f", d.name, c.ID, c.DZ, c.DX, c.DY)
	return d.command("move leg", c.ID, jackframe.CmdMoveLeg, jackframe.MoveLegPayload(toDelta(c)))
}

// StopAll sends EMERGENCY_STOP and waits for the controller to latch it.
func (d *SerialDriver) StopAll() error {
	monitoring.Logf("%s TX EMERGENCY STOP", d.name)
	return d.command("emergency stop", 0, jackframe.CmdEmergencyStop, nil)
}

// LevelAndLock asks the controller to level every leg within toleranceMM
// and hold. A stopped controller refuses until it is armed again.
func (d *SerialDriver) LevelAndLock(toleranceMM float64) error {
	monitoring.Logf("%s TX LEVEL AND LOCK tolerance %.1f mm", d.name, toleranceMM)
	return d.command("level and lock", 0, jackframe.CmdLevelAndLock, jackframe.LevelAndLockPayload(toleranceMM))
}

// SyncTime sets the controller clock to the host's
func (d *SerialDriver) SyncTime() error {
	return d.command("sync time", 0, jackframe.CmdSyncTime, jackframe.SyncTimePayload(time.Now().UnixMilli()))
}

// Ping checks the controller answers
func (d *SerialDriver) Ping() error {
	return d.command("ping", 0, jackframe.CmdPing, nil)
}

// Version queries the controller firmware version
func (d *SerialDriver) Version() (jackframe.Version, error) {
	ack, err := d.request("get version", 0, jackframe.CmdGetVersion, nil)
	if err != nil {
		return jackframe.Version{}, err
	}
	return jackframe.ParseVersion(ack.Data)
}

// SetParam stores one runtime parameter on the controller
func (d *SerialDriver) SetParam(id uint8, value int32) error {
	return d.command("set param", 0, jackframe.CmdSetParam, jackframe.SetParamPayload(id, value))
}

func (d *SerialDriver) command(op string, leg int, cmd uint8, payload []byte) error {
	_, err := d.request(op, leg, cmd, payload)
	return err
}

func (d *SerialDriver) request(op string, leg int, cmd uint8, payload []byte) (jackframe.Ack, error) {
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()
	if ctx == nil {
		return jackframe.Ack{}, fmt.Errorf("%s: %w", op, ErrNotConnected)
	}

	raw, err := d.sup.Session().Request(ctx, cmd, payload, d.link.RequestTimeout.Std(), d.link.Retries)
	if err != nil {
		return jackframe.Ack{}, fmt.Errorf("%s: %w", op, err)
	}
	ack, err := jackframe.ParseAck(raw)
	if err != nil {
		return ack, fmt.Errorf("%s: %w", op, err)
	}
	if !ack.OK() {
		return ack, &Error{Op: op, Leg: leg, Status: ack.Status}
	}
	return ack, nil
}

func toDelta(c rig.MotionCommand) jackframe.LegDelta {
	return jackframe.LegDelta{ID: uint8(c.ID), DZ: c.DZ, DX: c.DX, DY: c.DY}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rigsim simulates the rig's actuator controller on the device side
// of a byte link. It answers the command set, applies motion to a rig model,
// latches emergency stop and optionally pushes leg state and pose.
package rigsim

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/Thermoquad/jackstat/pkg/jackframe"
	"github.com/Thermoquad/jackstat/pkg/monitoring"
	"github.com/Thermoquad/jackstat/pkg/rig"
)

// Request is one command the device received
type Request struct {
	Cmd uint8
	Seq uint8
}

// Device is a simulated actuator controller
type Device struct {
	rig     *rig.Rig
	version jackframe.Version

	// PushInterval enables periodic leg-state and pose pushes when positive.
	PushInterval time.Duration

	mu        sync.Mutex
	rng       *rand.Rand
	estopped  bool
	silent    bool
	target    float64
	tolerance float64
	clock     time.Time
	overrides map[uint8]uint8
	params    map[uint8]int32
	requests  []Request
}

// New creates a device driving r. Legs without a force reading get one
// near 100 N.
func New(r *rig.Rig, seed int64) *Device {
	d := &Device{
		rig:       r,
		version:   jackframe.Version{Major: 1, Minor: 4, Patch: 0},
		rng:       rand.New(rand.NewSource(seed)),
		overrides: make(map[uint8]uint8),
		params:    make(map[uint8]int32),
	}
	for _, l := range r.Snapshot() {
		if l.Force == 0 {
			f := 90 + d.rng.Float64()*20
			_ = r.Update(l.ID, func(leg *rig.Leg) { leg.Force = f })
		}
	}
	return d
}

// SetSilent makes the device swallow every request without answering
func (d *Device) SetSilent(silent bool) {
	d.mu.Lock()
	d.silent = silent
	d.mu.Unlock()
}

// SetStatus forces the ACK status returned for cmd
func (d *Device) SetStatus(cmd, status uint8) {
	d.mu.Lock()
	d.overrides[cmd] = status
	d.mu.Unlock()
}

// EmergencyStopped reports whether the stop latch is set
func (d *Device) EmergencyStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.estopped
}

// Param returns a value stored by SET_PARAM
func (d *Device) Param(id uint8) (int32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.params[id]
	return v, ok
}

// Target returns the elevation of the last accepted drop in mm
func (d *Device) Target() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target
}

// Tolerance returns the tolerance of the last accepted LEVEL_AND_LOCK in mm
func (d *Device) Tolerance() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tolerance
}

// Clock returns the host time of the last SYNC_TIME, zero before one
func (d *Device) Clock() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clock
}

// Requests returns every request received so far
func (d *Device) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Request(nil), d.requests...)
}

// Pipe starts serving on one end of an in-memory pipe and returns the
// host end. Serving stops when ctx is cancelled or the host end is closed.
func (d *Device) Pipe(ctx context.Context) net.Conn {
	host, dev := net.Pipe()
	go func() {
		if err := d.Serve(ctx, dev); err != nil {
			monitoring.Debugf("rigsim: %v", err)
		}
	}()
	return host
}

// Serve answers frames read from conn until it fails or ctx is cancelled.
// conn is closed on return.
func (d *Device) Serve(ctx context.Context, conn io.ReadWriteCloser) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	var writeMu sync.Mutex
	send := func(cmd uint8, payload []byte) error {
		frame, err := jackframe.Encode(int(cmd), payload)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err = conn.Write(frame)
		return err
	}

	if d.PushInterval > 0 {
		go d.pushLoop(ctx, send)
	}

	decoder := jackframe.NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		for _, f := range decoder.Feed(buf[:n]) {
			if cmd, payload, ok := d.handle(f); ok {
				if err := send(cmd, payload); err != nil {
					return err
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

func (d *Device) pushLoop(ctx context.Context, send func(uint8, []byte) error) {
	ticker := time.NewTicker(d.PushInterval)
	defer ticker.Stop()
	var seq uint8
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		seq++
		if err := send(jackframe.PushLegState, d.legStatePayload()); err != nil {
			return
		}
		if err := send(jackframe.PushPose, jackframe.PosePayload(seq, d.pose())); err != nil {
			return
		}
	}
}

func (d *Device) legStatePayload() []byte {
	legs := d.rig.Snapshot()
	reports := make([]jackframe.LegReport, len(legs))
	for i, l := range legs {
		reports[i] = jackframe.LegReport{ID: uint8(l.ID), X: l.X, Y: l.Y, Z: l.Z, Force: l.Force}
	}
	return jackframe.LegStatePayload(reports)
}

func (d *Device) pose() jackframe.Pose {
	d.mu.Lock()
	defer d.mu.Unlock()
	return jackframe.Pose{
		Roll:  (d.rng.Float64() - 0.5) * 0.04,
		Pitch: (d.rng.Float64() - 0.5) * 0.04,
	}
}

// handle processes one request and returns the ACK to send, if any.
func (d *Device) handle(f *jackframe.Frame) (uint8, []byte, bool) {
	if f.IsAck() || f.IsPush() {
		return 0, nil, false
	}
	seq, ok := f.Seq()
	if !ok {
		// a bare stop still latches
		if f.Cmd() == jackframe.CmdEmergencyStop {
			d.mu.Lock()
			d.estopped = true
			d.mu.Unlock()
		}
		return 0, nil, false
	}
	body := f.Payload()[1:]

	d.mu.Lock()
	d.requests = append(d.requests, Request{Cmd: f.Cmd(), Seq: seq})
	if d.silent {
		d.mu.Unlock()
		return 0, nil, false
	}
	override, overridden := d.overrides[f.Cmd()]
	d.mu.Unlock()

	ack := jackframe.AckOf(f.Cmd())
	if overridden {
		return ack, jackframe.AckPayload(seq, override, nil), true
	}
	status, data := d.execute(f.Cmd(), body)
	return ack, jackframe.AckPayload(seq, status, data), true
}

func (d *Device) execute(cmd uint8, body []byte) (uint8, []byte) {
	switch cmd {
	case jackframe.CmdPing:
		return jackframe.StatusOK, nil

	case jackframe.CmdSyncTime:
		ms, err := jackframe.ParseSyncTime(body)
		if err != nil {
			return jackframe.StatusRejected, nil
		}
		d.mu.Lock()
		d.clock = time.UnixMilli(ms)
		d.mu.Unlock()
		return jackframe.StatusOK, nil

	case jackframe.CmdGetVersion:
		return jackframe.StatusOK, []byte{d.version.Major, d.version.Minor, d.version.Patch}

	case jackframe.CmdEmergencyStop:
		d.mu.Lock()
		d.estopped = true
		d.mu.Unlock()
		d.rig.SetStatus(rig.StatusStopped)
		return jackframe.StatusOK, nil

	case jackframe.CmdStartFastDrop, jackframe.CmdStartSlowDrop:
		// starting a drop re-arms a stopped controller
		target, err := jackframe.ParseDrop(body)
		if err != nil {
			return jackframe.StatusRejected, nil
		}
		d.mu.Lock()
		d.estopped = false
		d.target = target
		d.mu.Unlock()
		d.rig.SetStatus(rig.StatusMoving)
		return jackframe.StatusOK, nil

	case jackframe.CmdLevelAndLock:
		tolerance, err := jackframe.ParseLevelAndLock(body)
		if err != nil || d.EmergencyStopped() {
			return jackframe.StatusRejected, nil
		}
		d.mu.Lock()
		d.tolerance = tolerance
		d.mu.Unlock()
		d.rig.SetStatus(rig.StatusHolding)
		return jackframe.StatusOK, nil

	case jackframe.CmdMoveBatch, jackframe.CmdMoveLeg:
		if d.EmergencyStopped() {
			return jackframe.StatusRejected, nil
		}
		deltas, err := jackframe.ParseMoveBatch(body)
		if err != nil || (cmd == jackframe.CmdMoveLeg && len(deltas) != 1) {
			return jackframe.StatusRejected, nil
		}
		for _, delta := range deltas {
			d.apply(delta)
		}
		return jackframe.StatusOK, nil

	case jackframe.CmdReadForces:
		legs := d.rig.Snapshot()
		data := make([]byte, 0, 2*len(legs))
		for _, l := range legs {
			v := uint16(l.Force * jackframe.ForceScale)
			data = append(data, byte(v), byte(v>>8))
		}
		return jackframe.StatusOK, data

	case jackframe.CmdReadPose:
		// pose ACK shares the push layout after seq and status
		return jackframe.StatusOK, jackframe.PosePayload(0, d.pose())[2:]

	case jackframe.CmdSetParam:
		id, value, err := jackframe.ParseSetParam(body)
		if err != nil {
			return jackframe.StatusRejected, nil
		}
		d.mu.Lock()
		d.params[id] = value
		d.mu.Unlock()
		return jackframe.StatusOK, nil

	default:
		return jackframe.StatusUnknownCommand, nil
	}
}

// apply moves one leg. Z is clamped at zero.
func (d *Device) apply(delta jackframe.LegDelta) {
	d.mu.Lock()
	wobble := (d.rng.Float64() - 0.5)
	d.mu.Unlock()

	err := d.rig.Update(int(delta.ID), func(l *rig.Leg) {
		l.Z -= delta.DZ
		if l.Z < 0 {
			l.Z = 0
		}
		l.X += delta.DX
		l.Y += delta.DY
		l.Force += wobble
		if l.Force < 0 {
			l.Force = 0
		}
		l.Status = rig.StatusMoving
	})
	if err != nil {
		monitoring.Debugf("rigsim: %v", err)
	}
}

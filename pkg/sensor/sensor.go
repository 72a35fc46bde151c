// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sensor collects rig telemetry: per-leg position and force plus
// the structure's attitude.
package sensor

import (
	"errors"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/Thermoquad/jackstat/pkg/monitoring"
	"github.com/Thermoquad/jackstat/pkg/rig"
)

// ErrNoTelemetry is returned by RefreshOnce before any reading arrived
var ErrNoTelemetry = errors.New("no telemetry received")

// Attitude is the structure's orientation in degrees
type Attitude struct {
	Roll, Pitch, Yaw float64
}

// LegsState is the latest per-leg position reading, indexed by leg id - 1
type LegsState struct {
	Z  [rig.LegCount]float64
	XY [rig.LegCount][2]float64
}

// Sensor is a telemetry source polled once per control tick
type Sensor interface {
	// RefreshOnce pulls one telemetry cycle
	RefreshOnce() error
	EstimateCenter() (x, y, z float64)
	EstimateAttitude() Attitude
	// LatestForces returns all twelve forces, or false until a complete
	// set is known.
	LatestForces() ([]float64, bool)
	LegsState() LegsState
	Close() error
}

// readings is the state shared by every sensor implementation
type readings struct {
	mu       sync.Mutex
	center   [3]float64
	att      Attitude
	forces   [rig.LegCount]float64
	legs     LegsState
	hasForce [rig.LegCount]bool
	hasZ     [rig.LegCount]bool
	hasXY    [rig.LegCount]bool
}

func newReadings() *readings {
	r := &readings{}
	for i := range r.legs.Z {
		r.legs.Z[i] = rig.InitialZ
	}
	return r
}

func (r *readings) EstimateCenter() (x, y, z float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.center[0], r.center[1], r.center[2]
}

func (r *readings) EstimateAttitude() Attitude {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.att
}

func (r *readings) LatestForces() ([]float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ok := range r.hasForce {
		if !ok {
			return nil, false
		}
	}
	return append([]float64(nil), r.forces[:]...), true
}

func (r *readings) LegsState() LegsState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.legs
}

func (r *readings) setForce(id int, f float64) {
	r.forces[id-1] = f
	r.hasForce[id-1] = true
}

func (r *readings) setZ(id int, z float64) {
	r.legs.Z[id-1] = z
	r.hasZ[id-1] = true
}

func (r *readings) setXY(id int, x, y float64) {
	r.legs.XY[id-1] = [2]float64{x, y}
	r.hasXY[id-1] = true
}

// fuse recomputes the center from the center legs. Callers hold r.mu.
func (r *readings) fuse() {
	zs := make([]float64, 0, len(rig.CenterLegIDs))
	for _, id := range rig.CenterLegIDs {
		zs = append(zs, r.legs.Z[id-1])
	}
	r.center = [3]float64{0, 0, stat.Mean(zs, nil)}
	monitoring.Debugf("telemetry center_z=%.1f roll=%.4f pitch=%.4f", r.center[2], r.att.Roll, r.att.Pitch)
}

// writeBack copies every received z and xy onto the rig. Callers hold
// r.mu.
func (r *readings) writeBack(target *rig.Rig) {
	if target == nil {
		return
	}
	for i := 0; i < rig.LegCount; i++ {
		if !r.hasZ[i] && !r.hasXY[i] && !r.hasForce[i] {
			continue
		}
		err := target.Update(i+1, func(l *rig.Leg) {
			if r.hasZ[i] {
				l.Z = r.legs.Z[i]
			}
			if r.hasXY[i] {
				l.X, l.Y = r.legs.XY[i][0], r.legs.XY[i][1]
			}
			if r.hasForce[i] {
				l.Force = r.forces[i]
			}
		})
		if err != nil {
			monitoring.Debugf("sensor write-back: %v", err)
		}
	}
}

func (r *readings) anyReceived() bool {
	for i := 0; i < rig.LegCount; i++ {
		if r.hasZ[i] || r.hasXY[i] || r.hasForce[i] {
			return true
		}
	}
	return false
}

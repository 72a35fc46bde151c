// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensor

import (
	"math"
	"math/rand"

	"github.com/Thermoquad/jackstat/pkg/rig"
)

// NominalForce is the mock sensor's starting force per leg (N)
const NominalForce = 100.0

// Mock noise amplitudes
const (
	mockForceNoise    = 1.0
	mockZNoise        = 0.3
	mockXYNoise       = 0.1
	mockAttitudeNoise = 0.002
	mockAttitudeDecay = 0.9
	mockForcePull     = 0.1
)

// MockSensor reports the rig's own positions with a little noise. It
// never writes back to the rig.
type MockSensor struct {
	*readings
	rig *rig.Rig
	rng *rand.Rand
}

// NewMockSensor creates a mock reading from r
func NewMockSensor(r *rig.Rig, seed int64) *MockSensor {
	m := &MockSensor{readings: newReadings(), rig: r, rng: rand.New(rand.NewSource(seed))}
	for id := 1; id <= rig.LegCount; id++ {
		m.setForce(id, NominalForce)
	}
	return m
}

func (m *MockSensor) noise(amp float64) float64 {
	return (m.rng.Float64()*2 - 1) * amp
}

// RefreshOnce samples the rig
func (m *MockSensor) RefreshOnce() error {
	legs := m.rig.Snapshot()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.att = Attitude{
		Roll:  m.att.Roll*mockAttitudeDecay + m.noise(mockAttitudeNoise),
		Pitch: m.att.Pitch*mockAttitudeDecay + m.noise(mockAttitudeNoise),
	}
	for _, l := range legs {
		f := m.forces[l.ID-1]
		f += (NominalForce-f)*mockForcePull + m.noise(mockForceNoise)
		m.setForce(l.ID, math.Max(0, f))
		m.setZ(l.ID, l.Z+m.noise(mockZNoise))
		m.setXY(l.ID, l.X+m.noise(mockXYNoise), l.Y+m.noise(mockXYNoise))
	}
	m.fuse()
	return nil
}

func (m *MockSensor) Close() error { return nil }

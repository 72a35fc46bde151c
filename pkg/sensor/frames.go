// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensor

import (
	"github.com/Thermoquad/jackstat/pkg/jackframe"
	"github.com/Thermoquad/jackstat/pkg/monitoring"
	"github.com/Thermoquad/jackstat/pkg/rig"
	"github.com/Thermoquad/jackstat/pkg/transport"
)

// FrameSensor takes telemetry from leg-state and pose pushes on the binary
// link.
type FrameSensor struct {
	*readings
	rig         *rig.Rig
	unsubscribe func()
}

// NewFrameSensor subscribes to session pushes. target may be nil.
func NewFrameSensor(session *transport.Session, target *rig.Rig) *FrameSensor {
	s := &FrameSensor{readings: newReadings(), rig: target}
	s.unsubscribe = session.Subscribe(s.handle)
	return s
}

func (s *FrameSensor) handle(f *jackframe.Frame) {
	switch f.Cmd() {
	case jackframe.PushLegState:
		reports, err := jackframe.ParseLegState(f.Payload())
		if err != nil {
			monitoring.Debugf("sensor: %v", err)
			return
		}
		s.mu.Lock()
		for _, r := range reports {
			id := int(r.ID)
			if id < 1 || id > rig.LegCount {
				continue
			}
			s.setZ(id, r.Z)
			s.setXY(id, r.X, r.Y)
			s.setForce(id, r.Force)
		}
		s.mu.Unlock()

	case jackframe.PushPose:
		pose, err := jackframe.ParsePose(f.Payload())
		if err != nil {
			monitoring.Debugf("sensor: %v", err)
			return
		}
		s.mu.Lock()
		s.att = Attitude{Roll: pose.Roll, Pitch: pose.Pitch, Yaw: pose.Yaw}
		s.mu.Unlock()
	}
}

// RefreshOnce fuses the latest pushes and writes them back to the rig
func (s *FrameSensor) RefreshOnce() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.anyReceived() {
		return ErrNoTelemetry
	}
	s.fuse()
	s.writeBack(s.rig)
	return nil
}

// Close stops the subscription. The session stays open.
func (s *FrameSensor) Close() error {
	s.unsubscribe()
	return nil
}

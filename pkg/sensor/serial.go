// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Thermoquad/jackstat/pkg/monitoring"
	"github.com/Thermoquad/jackstat/pkg/rig"
)

// SerialSensor reads newline delimited text telemetry from a port. Leg
// positions it receives are written back onto the rig on every refresh.
type SerialSensor struct {
	*readings
	rig  *rig.Rig
	port io.ReadCloser

	done    chan struct{}
	errMu   sync.Mutex
	readErr error

	// legs with a complete X, Y, Z and force set in the current batch
	batch    [rig.LegCount]bool
	batchLog [rig.LegCount]string
}

// NewSerialSensor starts reading port. target may be nil.
func NewSerialSensor(port io.ReadCloser, target *rig.Rig) *SerialSensor {
	s := &SerialSensor{
		readings: newReadings(),
		rig:      target,
		port:     port,
		done:     make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *SerialSensor) readLoop() {
	defer close(s.done)
	scanner := bufio.NewScanner(s.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, err := ParseLine(line)
		if err != nil {
			monitoring.Debugf("sensor: %v", err)
			continue
		}
		s.apply(rec)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		s.errMu.Lock()
		s.readErr = err
		s.errMu.Unlock()
		monitoring.Logf("sensor reader stopped: %v", err)
	}
}

// apply stores one record
func (s *SerialSensor) apply(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch rec.Kind {
	case RecordIMU:
		s.att = Attitude{Roll: rec.Values[0], Pitch: rec.Values[1], Yaw: rec.Values[2]}
		monitoring.Debugf("RX IMU: roll=%.4f, pitch=%.4f, yaw=%.4f", s.att.Roll, s.att.Pitch, s.att.Yaw)
		return
	case RecordForce:
		s.setForce(rec.Leg, rec.Values[0])
	case RecordZ:
		s.setZ(rec.Leg, rec.Values[0])
	case RecordXY:
		s.setXY(rec.Leg, rec.Values[0], rec.Values[1])
		s.trackBatch(rec.Leg)
	}
}

// trackBatch logs all twelve legs on one line pair once each has reported
// a full set. An XY record closes a leg's set. Callers hold s.mu.
func (s *SerialSensor) trackBatch(id int) {
	i := id - 1
	if !s.hasZ[i] || !s.hasForce[i] {
		return
	}
	s.batch[i] = true
	s.batchLog[i] = fmt.Sprintf("L%02d(%.0f,%.0f,%.0f,%.0f)", id,
		s.legs.XY[i][0], s.legs.XY[i][1], s.legs.Z[i], s.forces[i])

	for _, ok := range s.batch {
		if !ok {
			return
		}
	}
	monitoring.Logf("RX LEGS1-6:  %s", strings.Join(s.batchLog[:6], " "))
	monitoring.Logf("RX LEGS7-12: %s", strings.Join(s.batchLog[6:], " "))
	s.batch = [rig.LegCount]bool{}
}

// RefreshOnce fuses the latest readings and writes them back to the rig.
// It fails once the reader has stopped on an error.
func (s *SerialSensor) RefreshOnce() error {
	s.errMu.Lock()
	err := s.readErr
	s.errMu.Unlock()
	if err != nil {
		return fmt.Errorf("sensor link: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.anyReceived() {
		return ErrNoTelemetry
	}
	s.fuse()
	s.writeBack(s.rig)
	return nil
}

// Close closes the port and waits for the reader
func (s *SerialSensor) Close() error {
	err := s.port.Close()
	<-s.done
	return err
}

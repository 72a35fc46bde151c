// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package recorder writes control loop ticks to a CBOR record stream and
// reads them back.
package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/Thermoquad/jackstat/pkg/control"
	"github.com/Thermoquad/jackstat/pkg/monitoring"
)

// Command is one leg's planned motion
type Command struct {
	ID int     `cbor:"1,keyasint"`
	DZ float64 `cbor:"2,keyasint"`
	DX float64 `cbor:"3,keyasint"`
	DY float64 `cbor:"4,keyasint"`
}

// Record is one control tick
type Record struct {
	RunID         string          `cbor:"1,keyasint"`
	Tick          uint64          `cbor:"2,keyasint"`
	UnixMilli     int64           `cbor:"3,keyasint"`
	State         string          `cbor:"4,keyasint"`
	Status        string          `cbor:"5,keyasint"`
	TargetCenterZ float64         `cbor:"6,keyasint"`
	CenterX       float64         `cbor:"7,keyasint"`
	CenterY       float64         `cbor:"8,keyasint"`
	CenterZ       float64         `cbor:"9,keyasint"`
	CornerDZ      map[int]float64 `cbor:"10,keyasint,omitempty"`
	ForceAbnormal bool            `cbor:"11,keyasint"`
	Degraded      bool            `cbor:"12,keyasint"`
	Commands      []Command       `cbor:"13,keyasint,omitempty"`
	Err           string          `cbor:"14,keyasint,omitempty"`
}

// Time returns the record timestamp
func (r Record) Time() time.Time {
	return time.UnixMilli(r.UnixMilli)
}

// Recorder is a control.Notifier that appends each tick to a stream.
// Write failures are logged once and never reach the control loop.
type Recorder struct {
	runID uuid.UUID

	mu      sync.Mutex
	enc     *cbor.Encoder
	buf     *bufio.Writer
	closer  io.Closer
	records uint64
	failed  bool
}

// New records to w with a fresh run id
func New(w io.Writer) *Recorder {
	buf := bufio.NewWriter(w)
	r := &Recorder{runID: uuid.New(), buf: buf, enc: cbor.NewEncoder(buf)}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// Create records to a new file at path
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return New(f), nil
}

// RunID identifies this recording
func (r *Recorder) RunID() uuid.UUID {
	return r.runID
}

// Records returns how many ticks were written
func (r *Recorder) Records() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

// Notify implements control.Notifier
func (r *Recorder) Notify(u control.Update) {
	rec := Record{
		RunID:         r.runID.String(),
		Tick:          u.Tick,
		UnixMilli:     u.Time.UnixMilli(),
		State:         u.State.String(),
		Status:        u.Status,
		TargetCenterZ: u.TargetCenterZ,
		CenterX:       u.Estimate.CenterX,
		CenterY:       u.Estimate.CenterY,
		CenterZ:       u.Estimate.CenterZ,
		CornerDZ:      u.Estimate.CornerDZ,
		ForceAbnormal: u.Estimate.ForceAbnormal,
		Degraded:      u.Estimate.Degraded,
	}
	for _, c := range u.Commands {
		rec.Commands = append(rec.Commands, Command{ID: c.ID, DZ: c.DZ, DX: c.DX, DY: c.DY})
	}
	if u.Err != nil {
		rec.Err = u.Err.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed {
		return
	}
	err := r.enc.Encode(rec)
	if err == nil {
		err = r.buf.Flush()
	}
	if err != nil {
		r.failed = true
		monitoring.Logf("recorder %s: %v, recording stopped", r.runID, err)
		return
	}
	r.records++
}

// Close flushes and closes the underlying file, if any
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.buf.Flush()
	if r.closer != nil {
		err = errors.Join(err, r.closer.Close())
	}
	return err
}

// ReadAll decodes every record in a recording
func ReadAll(rd io.Reader) ([]Record, error) {
	dec := cbor.NewDecoder(rd)
	var out []Record
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rig models the twelve support legs of the jacking rig.
//
// Legs are numbered 1..12 and form six static pairs (1,2), (3,4) ... (11,12).
// The odd leg of a pair sits on the upper row, the even leg on the lower row.
package rig

import (
	"fmt"
	"sync"
)

// LegCount is the number of legs on the rig
const LegCount = 12

// PairCount is the number of leg pairs
const PairCount = LegCount / 2

// Leg ids the estimator and planner treat specially
var (
	CenterLegIDs  = [4]int{5, 6, 7, 8}
	CornerLegIDs  = [4]int{1, 2, 11, 12}
	ReferencePair = [2]int{1, 2}
)

// Status is a leg's lifecycle state
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusInitialized   Status = "initialized"
	StatusMoving        Status = "moving"
	StatusHolding       Status = "holding"
	StatusStopped       Status = "stopped"
)

// Leg is one support leg. Positions are in mm, force in N.
type Leg struct {
	ID     int
	X      float64
	Y      float64
	Z      float64
	Force  float64
	Status Status
}

// MotionCommand is a per-leg motion delta in mm. Positive DZ descends.
type MotionCommand struct {
	ID int
	DZ float64
	DX float64
	DY float64
}

// IsZero reports whether the command moves nothing
func (m MotionCommand) IsZero() bool {
	return m.DZ == 0 && m.DX == 0 && m.DY == 0
}

// Rig is the shared leg collection. Readers take copies with Snapshot;
// writers update one leg at a time, so a reader may see legs from different
// ticks but never a torn leg.
type Rig struct {
	mu   sync.RWMutex
	legs []Leg
}

// New creates a rig with LegCount uninitialized legs
func New() *Rig {
	legs := make([]Leg, LegCount)
	for i := range legs {
		legs[i] = Leg{ID: i + 1, Z: 600, Status: StatusUninitialized}
	}
	return &Rig{legs: legs}
}

// Len returns the number of legs
func (r *Rig) Len() int {
	return len(r.legs)
}

// Snapshot returns a copy of every leg, ordered by id
func (r *Rig) Snapshot() []Leg {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Leg, len(r.legs))
	copy(out, r.legs)
	return out
}

// Leg returns a copy of the leg with the given id
func (r *Rig) Leg(id int) (Leg, bool) {
	if id < 1 || id > len(r.legs) {
		return Leg{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.legs[id-1], true
}

// Update applies fn to the leg with the given id under the write lock.
// It returns an error for an unknown id.
func (r *Rig) Update(id int, fn func(*Leg)) error {
	if id < 1 || id > len(r.legs) {
		return fmt.Errorf("unknown leg id %d", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.legs[id-1])
	r.legs[id-1].ID = id
	return nil
}

// SetStatus sets the status of every leg
func (r *Rig) SetStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.legs {
		r.legs[i].Status = s
	}
}

// PairIndex returns the pair number (0..5) of a leg id
func PairIndex(id int) int {
	return (id - 1) / 2
}

// Partner returns the other leg of id's pair
func Partner(id int) int {
	if id%2 == 1 {
		return id + 1
	}
	return id - 1
}

// IsUpper reports whether id is on the upper row (odd ids)
func IsUpper(id int) bool {
	return id%2 == 1
}

// Pairs returns the six static (upper, lower) leg id pairs
func Pairs() [PairCount][2]int {
	var pairs [PairCount][2]int
	for k := range pairs {
		pairs[k] = [2]int{2*k + 1, 2*k + 2}
	}
	return pairs
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rig

import "math/rand"

// Layout is an initial leg placement: XY per leg index and a z range.
type Layout struct {
	XY [LegCount][2]float64
}

// DefaultLayout returns the fixed turnout placement, leg 1 at the origin.
func DefaultLayout() Layout {
	return Layout{XY: [LegCount][2]float64{
		{0.0, 0.0},
		{0.0, 171.7},
		{489.9, 0.0},
		{490.0, 182.3},
		{969.9, 0.0},
		{970.0, 197.1},
		{1449.9, 0.0},
		{1449.7, 223.1},
		{1929.9, 0.0},
		{1930.0, 262.6},
		{2409.9, 0.0},
		{2410.0, 311.6},
	}}
}

// Random layout generation parameters (mm)
var randomColumnX = [PairCount]float64{-8700, -6200, -3000, 0, 3000, 6200}

const (
	upperBaseMin  = 760.0
	upperBaseMax  = 820.0
	upperOffset   = 40.0
	gapFirst      = 1450.0
	gapLast       = 2600.0
	gapJitter     = 30.0
	positionNoise = 5.0
)

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// RandomLayout generates a plausible placement: six columns whose pair gap
// widens linearly along the rig, translated so leg 1 is the origin, with y
// pointing toward the lower row and a few mm of noise on every coordinate.
func RandomLayout(rng *rand.Rand) Layout {
	var raw [LegCount][2]float64
	base := uniform(rng, upperBaseMin, upperBaseMax)
	for k := 0; k < PairCount; k++ {
		top := base + uniform(rng, -upperOffset, upperOffset)
		gap := gapFirst + float64(k)*(gapLast-gapFirst)/float64(PairCount-1)
		raw[2*k] = [2]float64{randomColumnX[k], top}
		raw[2*k+1] = [2]float64{randomColumnX[k], top - gap + uniform(rng, -gapJitter, gapJitter)}
	}

	var l Layout
	x0, y0 := raw[0][0], raw[0][1]
	for i, p := range raw {
		l.XY[i][0] = p[0] - x0 + uniform(rng, -positionNoise, positionNoise)
		l.XY[i][1] = -(p[1] - y0) + uniform(rng, -positionNoise, positionNoise)
	}
	return l
}

// Initial elevation of a reset leg (mm)
const (
	InitialZ       = 600.0
	InitialZSpread = 20.0
)

// Reset places every leg according to the layout, draws a fresh z in
// InitialZ ± InitialZSpread, clears forces and marks legs initialized.
func (r *Rig) Reset(l Layout, rng *rand.Rand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.legs {
		r.legs[i] = Leg{
			ID:     i + 1,
			X:      l.XY[i][0],
			Y:      l.XY[i][1],
			Z:      InitialZ + uniform(rng, -InitialZSpread, InitialZSpread),
			Status: StatusInitialized,
		}
	}
}

// ApplyLayout moves every leg in XY only
func (r *Rig) ApplyLayout(l Layout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.legs {
		r.legs[i].X = l.XY[i][0]
		r.legs[i].Y = l.XY[i][1]
	}
}

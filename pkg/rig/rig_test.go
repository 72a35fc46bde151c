// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rig

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	r := New()
	legs := r.Snapshot()
	require.Len(t, legs, LegCount)
	for i, l := range legs {
		assert.Equal(t, i+1, l.ID)
		assert.Equal(t, StatusUninitialized, l.Status)
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	r := New()
	legs := r.Snapshot()
	legs[0].Z = -1

	l, ok := r.Leg(1)
	require.True(t, ok)
	assert.Equal(t, 600.0, l.Z)
}

func TestUpdate(t *testing.T) {
	r := New()
	require.NoError(t, r.Update(3, func(l *Leg) { l.Z = 42; l.ID = 99 }))

	l, _ := r.Leg(3)
	assert.Equal(t, 42.0, l.Z)
	assert.Equal(t, 3, l.ID, "id is not writable")

	assert.Error(t, r.Update(0, func(*Leg) {}))
	assert.Error(t, r.Update(13, func(*Leg) {}))
	_, ok := r.Leg(13)
	assert.False(t, ok)
}

func TestUpdate_Concurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := i%LegCount + 1
				_ = r.Update(id, func(l *Leg) { l.X++; l.Y++ })
				for _, l := range r.Snapshot() {
					if l.X != l.Y {
						t.Errorf("torn leg %d: x=%v y=%v", l.ID, l.X, l.Y)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestPairs(t *testing.T) {
	pairs := Pairs()
	assert.Equal(t, [2]int{1, 2}, pairs[0])
	assert.Equal(t, [2]int{11, 12}, pairs[5])

	assert.Equal(t, 2, Partner(1))
	assert.Equal(t, 11, Partner(12))
	assert.Equal(t, 3, PairIndex(8))
	assert.True(t, IsUpper(5))
	assert.False(t, IsUpper(6))
}

func TestDefaultLayout(t *testing.T) {
	l := DefaultLayout()
	assert.Equal(t, [2]float64{0, 0}, l.XY[0])
	assert.Equal(t, [2]float64{2410.0, 311.6}, l.XY[11])
}

func TestRandomLayout(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l := RandomLayout(rng)

	// leg 1 is the origin up to noise
	assert.InDelta(t, 0, l.XY[0][0], 2*positionNoise)
	assert.InDelta(t, 0, l.XY[0][1], 2*positionNoise)

	for k := 0; k < PairCount; k++ {
		upper, lower := l.XY[2*k], l.XY[2*k+1]
		gap := gapFirst + float64(k)*(gapLast-gapFirst)/float64(PairCount-1)
		// y is flipped so the lower row has larger y
		assert.InDelta(t, gap, lower[1]-upper[1], gapJitter+2*positionNoise, "pair %d gap", k)
		assert.InDelta(t, upper[0], lower[0], 2*positionNoise, "pair %d column", k)
	}
}

func TestReset(t *testing.T) {
	r := New()
	r.Reset(DefaultLayout(), rand.New(rand.NewSource(1)))
	for _, l := range r.Snapshot() {
		assert.Equal(t, StatusInitialized, l.Status)
		assert.InDelta(t, InitialZ, l.Z, InitialZSpread)
		assert.Zero(t, l.Force)
	}

	r.SetStatus(StatusHolding)
	l, _ := r.Leg(4)
	assert.Equal(t, StatusHolding, l.Status)
	assert.Equal(t, 182.3, l.Y)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package estimator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/jackstat/pkg/config"
	"github.com/Thermoquad/jackstat/pkg/rig"
)

// levelLegs returns the default layout with every leg at z and 100 N
func levelLegs(z float64) []rig.Leg {
	r := rig.New()
	r.ApplyLayout(rig.DefaultLayout())
	legs := r.Snapshot()
	for i := range legs {
		legs[i].Z = z
		legs[i].Force = 100
	}
	return legs
}

func newEstimator() *Estimator {
	return New(config.Default().Estimator)
}

type fixedForces []float64

func (f fixedForces) LatestForces() ([]float64, bool) {
	return f, f != nil
}

func TestEstimate_FirstCallSeeds(t *testing.T) {
	st := newEstimator().Estimate(levelLegs(600), nil)

	assert.Equal(t, 600.0, st.CenterZ)
	assert.False(t, st.Degraded)
	assert.False(t, st.ForceAbnormal)
	assert.Empty(t, st.AttitudeOutliers)
	assert.Len(t, st.Forces, rig.LegCount)
}

func TestEstimate_EMAConvergesMonotonically(t *testing.T) {
	est := newEstimator()
	est.Estimate(levelLegs(600), nil)

	legs := levelLegs(500)
	prev := math.Inf(1)
	for i := 0; i < 30; i++ {
		st := est.Estimate(legs, nil)
		gap := math.Abs(st.CenterZ - 500)
		assert.LessOrEqual(t, gap, prev, "tick %d", i)
		prev = gap
	}
	assert.Less(t, prev, 0.01)
}

func TestEstimate_EMAStep(t *testing.T) {
	est := newEstimator()
	est.Estimate(levelLegs(600), nil)
	st := est.Estimate(levelLegs(500), nil)
	// 0.35·500 + 0.65·600
	assert.InDelta(t, 535.0, st.CenterZ, 1e-9)
}

func TestEstimate_Reset(t *testing.T) {
	est := newEstimator()
	est.Estimate(levelLegs(600), nil)
	est.Reset()
	st := est.Estimate(levelLegs(400), nil)
	assert.Equal(t, 400.0, st.CenterZ)
}

func TestEstimate_OnlyReferencePairDrivesXc(t *testing.T) {
	legs := levelLegs(600)
	st := newEstimator().Estimate(legs, nil)

	tanPair := (legTan[1] + legTan[2]) / 2
	want := ((legs[1].Y - legs[0].Y) / 2) / tanPair
	assert.InDelta(t, want, st.Geometry.Xc, 1e-9)
	require.Len(t, st.Geometry.Pairs, rig.PairCount)
	for _, p := range st.Geometry.Pairs {
		if p.Upper == 1 {
			assert.Equal(t, 1.0, p.Weight)
		} else {
			assert.Equal(t, 0.0, p.Weight)
		}
	}

	// moving another pair apart leaves Xc alone
	legs[7].Y += 250
	st = newEstimator().Estimate(legs, nil)
	assert.InDelta(t, want, st.Geometry.Xc, 1e-9)
}

func TestEstimate_ResidualsMatchTheory(t *testing.T) {
	st := newEstimator().Estimate(levelLegs(600), nil)
	legs := levelLegs(600)
	for _, l := range legs {
		yt := SideSign(l.ID) * legTan[l.ID] * (l.X - st.Geometry.Xc)
		assert.InDelta(t, yt, st.Geometry.YTheo[l.ID], 1e-9)
		assert.InDelta(t, l.Y-yt, st.Geometry.EY[l.ID], 1e-9)
	}
}

func TestEstimate_ReferencePairFaultFallsBack(t *testing.T) {
	legs := levelLegs(600)
	legs[0].Y = math.NaN()

	st := newEstimator().Estimate(legs, nil)

	require.True(t, st.Degraded)
	assert.NotEmpty(t, st.DegradedReasons)
	assert.False(t, math.IsNaN(st.CenterX))
	assert.False(t, math.IsNaN(st.CenterY))
	require.Len(t, st.Geometry.Pairs, rig.PairCount-1)

	var sum float64
	for _, p := range st.Geometry.Pairs {
		sum += p.Xc
	}
	assert.InDelta(t, sum/float64(len(st.Geometry.Pairs)), st.Geometry.Xc, 1e-9,
		"unweighted mean of the healthy pairs")
}

func TestEstimate_NoPairsKeepsPreviousXc(t *testing.T) {
	est := newEstimator()
	first := est.Estimate(levelLegs(600), nil)

	legs := levelLegs(600)
	for i := range legs {
		legs[i].Y = math.NaN()
	}
	st := est.Estimate(legs, nil)

	require.True(t, st.Degraded)
	assert.Empty(t, st.Geometry.Pairs)
	assert.InDelta(t, first.CenterX, st.Geometry.Xc, 1e-9)
	assert.InDelta(t, first.CenterX, st.CenterX, 1e-9)

	st = newEstimator().Estimate(legs, nil)
	assert.Zero(t, st.Geometry.Xc, "no history yet")
}

func TestEstimate_CenterZOutlierFallback(t *testing.T) {
	legs := levelLegs(600)
	legs[4].Z = math.Inf(1) // leg 5
	legs[5].Z = 600
	legs[6].Z = 610
	legs[7].Z = 680 // 50 mm off the raw mean of 630

	st := newEstimator().Estimate(legs, nil)

	assert.True(t, st.Degraded)
	assert.InDelta(t, 605.0, st.Geometry.Zc, 1e-9)
}

func TestEstimate_NoCenterLegsKeepsPrevious(t *testing.T) {
	est := newEstimator()
	est.Estimate(levelLegs(600), nil)

	legs := levelLegs(550)
	for _, id := range rig.CenterLegIDs {
		legs[id-1].Z = math.NaN()
	}
	st := est.Estimate(legs, nil)
	assert.True(t, st.Degraded)
	assert.Equal(t, 600.0, st.CenterZ)
}

func TestEstimate_CornerDeviation(t *testing.T) {
	legs := levelLegs(600)
	legs[0].Z = 630  // leg 1
	legs[11].Z = 590 // leg 12

	st := newEstimator().Estimate(legs, nil)

	assert.InDelta(t, 30.0, st.CornerDZ[1], 1e-9)
	assert.InDelta(t, -10.0, st.CornerDZ[12], 1e-9)
	assert.Equal(t, []int{1}, st.AttitudeOutliers)
	assert.InDelta(t, 30.0, st.MaxCornerDeviation(), 1e-9)
}

func TestEstimate_ForceBand(t *testing.T) {
	tests := []struct {
		name     string
		leg      float64
		source   ForceSource
		abnormal bool
	}{
		{"in band", 100, nil, false},
		{"high", 130, nil, true},
		{"low", 70, nil, true},
		{"edge", 120, nil, false},
		{"external override", 130, fixedForces(repeat(100)), false},
		{"external abnormal", 100, fixedForces(append(repeat(100)[:11], 79)), true},
		{"external unavailable", 130, fixedForces(nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			legs := levelLegs(600)
			legs[3].Force = tt.leg
			st := newEstimator().Estimate(legs, tt.source)
			assert.Equal(t, tt.abnormal, st.ForceAbnormal)
		})
	}
}

func repeat(v float64) []float64 {
	out := make([]float64, rig.LegCount)
	for i := range out {
		out[i] = v
	}
	return out
}

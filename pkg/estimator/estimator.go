// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package estimator turns per-leg telemetry into a smoothed estimate of the
// rig's center, corner attitude and load state.
//
// Every call to Estimate produces a usable State. Internal faults such as
// missing legs or non-finite readings fall back to a simpler computation
// and are reported through State.Degraded instead of an error.
package estimator

import (
	"math"
	"strconv"
	"strings"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Thermoquad/jackstat/pkg/config"
	"github.com/Thermoquad/jackstat/pkg/monitoring"
	"github.com/Thermoquad/jackstat/pkg/rig"
)

// ForceSource supplies force readings that override the per-leg values.
// LatestForces returns false when no complete reading is available.
type ForceSource interface {
	LatestForces() ([]float64, bool)
}

// State is the estimator output for one tick
type State struct {
	CenterX float64
	CenterY float64
	CenterZ float64

	// CornerDZ is each corner leg's height above the smoothed center
	CornerDZ         map[int]float64
	AttitudeOutliers []int

	Forces        []float64
	ForceAbnormal bool

	Geometry GeometryResult

	Degraded        bool
	DegradedReasons []string
}

// MaxCornerDeviation returns the largest absolute corner deviation
func (s State) MaxCornerDeviation() float64 {
	var worst float64
	for _, dz := range s.CornerDZ {
		worst = math.Max(worst, math.Abs(dz))
	}
	return worst
}

type ema struct {
	value  float64
	seeded bool
}

func (e *ema) update(alpha, raw float64) float64 {
	if !e.seeded {
		e.value, e.seeded = raw, true
		return raw
	}
	e.value = alpha*raw + (1-alpha)*e.value
	return e.value
}

// Estimator holds the smoothing state between ticks
type Estimator struct {
	cfg config.Estimator

	mu      sync.Mutex
	x, y, z ema
}

// New creates an estimator with empty smoothing state
func New(cfg config.Estimator) *Estimator {
	return &Estimator{cfg: cfg}
}

// Reset clears the smoothing state; the next call seeds it again
func (e *Estimator) Reset() {
	e.mu.Lock()
	e.x, e.y, e.z = ema{}, ema{}, ema{}
	e.mu.Unlock()
}

// Estimate computes the State for the current leg readings. forces may be
// nil.
func (e *Estimator) Estimate(legs []rig.Leg, forces ForceSource) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	var reasons []string
	degrade := func(reason string) { reasons = append(reasons, reason) }

	snap := NewSnapshot(legs)
	for id := 1; id <= rig.LegCount; id++ {
		if _, ok := snap.healthy(id); !ok {
			degrade("leg " + strconv.Itoa(id) + " unavailable")
		}
	}

	geo := GeometryResult{Pairs: pairCenters(snap)}

	xc, ok := weightedXc(geo.Pairs)
	if !ok {
		xc = e.fallbackXc(geo.Pairs)
		degrade("reference pair unavailable")
	}
	geo.Xc = xc

	zc, zOK := e.centerZ(snap)
	if !zOK {
		degrade("center legs incomplete")
	}
	geo.Zc = zc

	geo.YTheo = theoreticalY(xc, snap)
	geo.EY = make(map[int]float64, len(geo.YTheo))
	for id, yt := range geo.YTheo {
		geo.EY[id] = snap[id].Y - yt
	}

	yc, yOK := e.centerY(snap)
	if !yOK {
		degrade("reference pair y unavailable")
	}

	st := State{
		CenterX:  e.x.update(e.cfg.Alpha, xc),
		CenterY:  e.y.update(e.cfg.Alpha, yc),
		CenterZ:  e.z.update(e.cfg.Alpha, zc),
		Geometry: geo,
	}

	st.CornerDZ = make(map[int]float64, len(rig.CornerLegIDs))
	for _, id := range rig.CornerLegIDs {
		sample, ok := snap.healthy(id)
		if !ok {
			continue
		}
		dz := sample.Z - st.CenterZ
		st.CornerDZ[id] = dz
		if math.Abs(dz) > e.cfg.AttitudeLimitMM {
			st.AttitudeOutliers = append(st.AttitudeOutliers, id)
		}
	}

	st.Forces = legForces(legs)
	if forces != nil {
		if ext, ok := forces.LatestForces(); ok && len(ext) == rig.LegCount {
			st.Forces = append([]float64(nil), ext...)
		}
	}
	for _, f := range st.Forces {
		if !finite(f) || f < e.cfg.ForceMinN || f > e.cfg.ForceMaxN {
			st.ForceAbnormal = true
			break
		}
	}

	if len(reasons) > 0 {
		st.Degraded = true
		st.DegradedReasons = reasons
		monitoring.Logf("estimation degraded: %s", strings.Join(reasons, "; "))
	}
	return st
}

// fallbackXc is used when no weighted pair contributes. Rather than
// reporting 0, it averages every computable pair without weights, and keeps
// the previous smoothed value when no pair is computable. Before the first
// estimate that previous value is 0.
func (e *Estimator) fallbackXc(details []PairDetail) float64 {
	if len(details) > 0 {
		xs := make([]float64, len(details))
		for i, d := range details {
			xs[i] = d.Xc
		}
		return stat.Mean(xs, nil)
	}
	return e.x.value
}

// centerZ averages the four center legs. With some missing it averages the
// survivors that sit within the outlier threshold of their raw mean.
func (e *Estimator) centerZ(snap SensorSnapshot) (float64, bool) {
	zs := make([]float64, 0, len(rig.CenterLegIDs))
	for _, id := range rig.CenterLegIDs {
		if sample, ok := snap.healthy(id); ok {
			zs = append(zs, sample.Z)
		}
	}
	switch {
	case len(zs) == len(rig.CenterLegIDs):
		return stat.Mean(zs, nil), true
	case len(zs) == 0:
		return e.z.value, false
	}

	raw := stat.Mean(zs, nil)
	inliers := zs[:0:0]
	for _, z := range zs {
		if math.Abs(z-raw) <= e.cfg.OutlierThresholdMM {
			inliers = append(inliers, z)
		}
	}
	if len(inliers) == 0 {
		return raw, false
	}
	return stat.Mean(inliers, nil), false
}

// centerY is the mean y of the reference pair, or of every upper-row leg
// when the reference pair is incomplete.
func (e *Estimator) centerY(snap SensorSnapshot) (float64, bool) {
	a, okA := snap.healthy(rig.ReferencePair[0])
	b, okB := snap.healthy(rig.ReferencePair[1])
	if okA && okB {
		return (a.Y + b.Y) / 2, true
	}

	var ys []float64
	for id := 1; id <= rig.LegCount; id += 2 {
		if sample, ok := snap.healthy(id); ok {
			ys = append(ys, sample.Y)
		}
	}
	if len(ys) == 0 {
		return e.y.value, false
	}
	return stat.Mean(ys, nil), false
}

func legForces(legs []rig.Leg) []float64 {
	out := make([]float64, rig.LegCount)
	for _, l := range legs {
		if l.ID >= 1 && l.ID <= rig.LegCount {
			out[l.ID-1] = l.Force
		}
	}
	return out
}

// MeanForce is the average of the force vector
func (s State) MeanForce() float64 {
	if len(s.Forces) == 0 {
		return 0
	}
	return floats.Sum(s.Forces) / float64(len(s.Forces))
}

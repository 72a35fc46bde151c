// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package control

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Thermoquad/jackstat/pkg/config"
	"github.com/Thermoquad/jackstat/pkg/estimator"
	"github.com/Thermoquad/jackstat/pkg/rig"
)

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// planner turns an estimate into per-leg deltas. It remembers the pair
// geometry the rig started with.
type planner struct {
	cfg config.Planner
	rng *rand.Rand

	pairX0  [rig.PairCount]float64 // pair x centerline
	pairDY0 [rig.PairCount]float64 // lower y minus upper y
	upperY0 float64                // upper row mean y
}

func newPlanner(cfg config.Planner, legs []rig.Leg, rng *rand.Rand) *planner {
	p := &planner{cfg: cfg, rng: rng}
	byID := indexLegs(legs)
	upper := make([]float64, 0, rig.PairCount)
	for k, pair := range rig.Pairs() {
		up, lo := byID[pair[0]], byID[pair[1]]
		p.pairX0[k] = (up.X + lo.X) / 2
		p.pairDY0[k] = lo.Y - up.Y
		upper = append(upper, up.Y)
	}
	p.upperY0 = stat.Mean(upper, nil)
	return p
}

func indexLegs(legs []rig.Leg) [rig.LegCount + 1]rig.Leg {
	var byID [rig.LegCount + 1]rig.Leg
	for _, l := range legs {
		if l.ID >= 1 && l.ID <= rig.LegCount {
			byID[l.ID] = l
		}
	}
	return byID
}

// planDZ returns each leg's descent, indexed by id - 1. Every entry is in
// [0, MaxStepZMM]: high corners descend faster and nothing retracts.
func (p *planner) planDZ(st estimator.State, planned, maxSingleStep float64) [rig.LegCount]float64 {
	maxZ := p.cfg.MaxStepZMM
	var dz [rig.LegCount]float64

	base := clip(planned, 0, math.Min(maxZ, maxSingleStep))
	floats.AddConst(base, dz[:])

	for _, id := range rig.CornerLegIDs {
		rel, ok := st.CornerDZ[id]
		if !ok || rel <= 0 {
			continue
		}
		i := id - 1
		dz[i] += clip(rel*p.cfg.LevelingGain, 0, maxZ-dz[i])
	}

	center := make([]float64, len(rig.CenterLegIDs))
	for k, id := range rig.CenterLegIDs {
		center[k] = dz[id-1]
	}
	if need := planned - stat.Mean(center, nil); need > 0 {
		per := clip(need, 0, maxZ)
		for _, id := range rig.CenterLegIDs {
			i := id - 1
			dz[i] += math.Min(per, maxZ-dz[i])
		}
	}

	for i := range dz {
		dz[i] = clip(dz[i], 0, maxZ)
	}
	return dz
}

// planDXY returns lateral deltas indexed by id - 1, each within
// ±MaxStepXYMM after all contributions are summed.
func (p *planner) planDXY(st estimator.State, legs []rig.Leg) (dx, dy [rig.LegCount]float64) {
	maxXY := p.cfg.MaxStepXYMM
	byID := indexLegs(legs)

	floats.AddConst(clip(-st.CenterX*p.cfg.CenterGainXY, -maxXY, maxXY), dx[:])
	floats.AddConst(clip(-st.CenterY*p.cfg.CenterGainXY, -maxXY, maxXY), dy[:])

	upper := make([]float64, 0, rig.PairCount)
	for _, pair := range rig.Pairs() {
		upper = append(upper, byID[pair[0]].Y)
	}
	band := clip((p.upperY0-stat.Mean(upper, nil))*p.cfg.BandShiftGain, -maxXY, maxXY)
	for _, pair := range rig.Pairs() {
		dy[pair[0]-1] += band
	}

	for k, pair := range rig.Pairs() {
		u, l := pair[0]-1, pair[1]-1
		up, lo := byID[pair[0]], byID[pair[1]]

		// lower leg keeps its initial gap to the corrected upper leg
		wantLoY := up.Y + dy[u] + p.pairDY0[k]
		dy[l] += clip(wantLoY-lo.Y, -maxXY, maxXY)

		jitter := (p.rng.Float64()*2 - 1) * p.cfg.PairXJitterMM
		wantX := p.pairX0[k] + jitter
		dx[u] += clip(wantX-up.X, -maxXY, maxXY)
		dx[l] += clip(wantX-lo.X, -maxXY, maxXY)
	}

	for i := range dx {
		dx[i] = clip(dx[i], -maxXY, maxXY)
		dy[i] = clip(dy[i], -maxXY, maxXY)
	}
	return dx, dy
}

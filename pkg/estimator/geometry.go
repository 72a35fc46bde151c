// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package estimator

import (
	"math"

	"github.com/Thermoquad/jackstat/pkg/rig"
)

// legTan holds the static slope of each leg's guide relative to the rig
// axis, by leg id.
var legTan = map[int]float64{
	1: 0.0744, 2: 0.0757, 3: 0.1301, 4: 0.1484,
	5: 0.4885, 6: 0.0685, 7: 0.2785, 8: 0.4514,
	9: 0.1084, 10: 0.2255, 11: 0.0673, 12: 0.1789,
}

// minPairTan below which a pair's lateral center is undefined
const minPairTan = 1e-9

// LegTan returns the static slope of leg id
func LegTan(id int) (float64, bool) {
	t, ok := legTan[id]
	return t, ok
}

// SideSign is +1 for upper-row legs and -1 for lower-row legs
func SideSign(id int) float64 {
	if rig.IsUpper(id) {
		return 1
	}
	return -1
}

// pairWeight gives the reference pair full weight and every other pair
// none. Only one pair drives Xc.
func pairWeight(upper, lower int) float64 {
	if upper == rig.ReferencePair[0] && lower == rig.ReferencePair[1] {
		return 1
	}
	return 0
}

// LegSample is one leg's reading for a single tick
type LegSample struct {
	X, Y, Z float64
	Force   float64
	Healthy bool
}

// SensorSnapshot is the per-tick reading of every leg, by leg id
type SensorSnapshot map[int]LegSample

// NewSnapshot builds a snapshot from the leg collection. A leg with a
// non-finite coordinate is marked unhealthy.
func NewSnapshot(legs []rig.Leg) SensorSnapshot {
	snap := make(SensorSnapshot, len(legs))
	for _, l := range legs {
		snap[l.ID] = LegSample{
			X: l.X, Y: l.Y, Z: l.Z, Force: l.Force,
			Healthy: finite(l.X) && finite(l.Y) && finite(l.Z),
		}
	}
	return snap
}

func (s SensorSnapshot) healthy(id int) (LegSample, bool) {
	sample, ok := s[id]
	return sample, ok && sample.Healthy
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// PairDetail is the lateral center one pair implies, with its weight
type PairDetail struct {
	Upper, Lower int
	Xc           float64
	Weight       float64
}

// GeometryResult is the raw (unsmoothed) geometric solution of one tick
type GeometryResult struct {
	Xc    float64
	Zc    float64
	YTheo map[int]float64 // theoretical y per leg
	EY    map[int]float64 // measured minus theoretical y per leg
	Pairs []PairDetail
}

// pairCenters returns every computable pair's Xc_ij = (Δy/2)/tan_ij.
func pairCenters(snap SensorSnapshot) []PairDetail {
	var details []PairDetail
	for _, p := range rig.Pairs() {
		upper, okU := snap.healthy(p[0])
		lower, okL := snap.healthy(p[1])
		if !okU || !okL {
			continue
		}
		tanPair := (legTan[p[0]] + legTan[p[1]]) / 2
		if math.Abs(tanPair) < minPairTan {
			continue
		}
		dy := lower.Y - upper.Y
		details = append(details, PairDetail{
			Upper:  p[0],
			Lower:  p[1],
			Xc:     (dy / 2) / tanPair,
			Weight: pairWeight(p[0], p[1]),
		})
	}
	return details
}

// weightedXc combines pair centers. ok is false when no pair carries
// weight.
func weightedXc(details []PairDetail) (xc float64, ok bool) {
	var num, den float64
	for _, d := range details {
		num += d.Xc * d.Weight
		den += d.Weight
	}
	if den <= 0 {
		return 0, false
	}
	return num / den, true
}

// theoreticalY returns y_theo = s·tan·(x − Xc) for every healthy leg
func theoreticalY(xc float64, snap SensorSnapshot) map[int]float64 {
	out := make(map[int]float64, len(snap))
	for id := 1; id <= rig.LegCount; id++ {
		sample, ok := snap.healthy(id)
		tan, known := legTan[id]
		if !ok || !known {
			continue
		}
		out[id] = SideSign(id) * tan * (sample.X - xc)
	}
	return out
}

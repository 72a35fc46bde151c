// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jackframe

import (
	"errors"
	"math"
	"testing"
)

// ============================================================
// Motion Payload Tests
// ============================================================

func TestMoveBatchPayload_Encoding(t *testing.T) {
	payload, err := MoveBatchPayload([]LegDelta{{ID: 3, DZ: 5, DX: -1.5, DY: 0.25}})
	if err != nil {
		t.Fatalf("MoveBatchPayload failed: %v", err)
	}

	// id, dz=50, dx=-15, dy=3 (0.25 mm rounds to 2.5 -> 3 counts)
	want := []byte{0x03, 0x32, 0x00, 0xF1, 0xFF, 0x03, 0x00}
	if len(payload) != len(want) {
		t.Fatalf("payload len = %d, want %d", len(payload), len(want))
	}
	for i := range want {
		if payload[i] != want[i] {
			t.Fatalf("payload = %X, want %X", payload, want)
		}
	}
}

func TestMoveBatchPayload_TooManyLegs(t *testing.T) {
	_, err := MoveBatchPayload(make([]LegDelta, MaxBatchLegs+1))
	if !errors.Is(err, ErrTooManyLegs) {
		t.Errorf("err = %v, want ErrTooManyLegs", err)
	}
}

func TestMoveBatch_ParseBack(t *testing.T) {
	in := make([]LegDelta, MaxBatchLegs)
	for i := range in {
		in[i] = LegDelta{ID: uint8(i + 1), DZ: float64(i) * 0.4, DX: -0.3, DY: 4.9}
	}
	payload, err := MoveBatchPayload(in)
	if err != nil {
		t.Fatalf("MoveBatchPayload failed: %v", err)
	}
	out, err := ParseMoveBatch(payload)
	if err != nil {
		t.Fatalf("ParseMoveBatch failed: %v", err)
	}
	for i := range in {
		if out[i].ID != in[i].ID || math.Abs(out[i].DZ-in[i].DZ) > 0.05 ||
			math.Abs(out[i].DX-in[i].DX) > 0.05 || math.Abs(out[i].DY-in[i].DY) > 0.05 {
			t.Errorf("leg %d: got %+v, want %+v", i+1, out[i], in[i])
		}
	}

	if _, err := ParseMoveBatch(payload[:5]); err == nil {
		t.Error("expected error for truncated entry")
	}
}

func TestMoveLegPayload_Saturates(t *testing.T) {
	out, err := ParseMoveBatch(MoveLegPayload(LegDelta{ID: 1, DZ: 1e6, DX: -1e6}))
	if err != nil {
		t.Fatalf("ParseMoveBatch failed: %v", err)
	}
	if out[0].DZ != math.MaxInt16/DistanceScale || out[0].DX != math.MinInt16/DistanceScale {
		t.Errorf("got %+v, want saturated values", out[0])
	}
}

// ============================================================
// Control Payload Tests
// ============================================================

func TestSetParamPayload(t *testing.T) {
	id, value, err := ParseSetParam(SetParamPayload(ParamMaxStep, -42))
	if err != nil {
		t.Fatalf("ParseSetParam failed: %v", err)
	}
	if id != ParamMaxStep || value != -42 {
		t.Errorf("got id=%d value=%d", id, value)
	}
	if _, _, err := ParseSetParam([]byte{1, 2}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("err = %v, want ErrShortPayload", err)
	}
}

func TestDropPayload(t *testing.T) {
	payload := DropPayload(-12.3)
	if len(payload) != 4 {
		t.Fatalf("len = %d, want 4", len(payload))
	}
	v := int32(uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24)
	if v != -123 {
		t.Errorf("value = %d, want -123", v)
	}

	target, err := ParseDrop(payload)
	if err != nil || math.Abs(target+12.3) > 1e-9 {
		t.Errorf("ParseDrop = %v, %v; want -12.3", target, err)
	}
	if _, err := ParseDrop(payload[:3]); !errors.Is(err, ErrShortPayload) {
		t.Errorf("short drop: err = %v, want ErrShortPayload", err)
	}
}

func TestLevelAndLockPayload(t *testing.T) {
	if p := LevelAndLockPayload(2); p[0] != 20 || p[1] != 0 {
		t.Errorf("payload = %X, want 14 00", p)
	}
	if p := LevelAndLockPayload(-1); p[0] != 0 || p[1] != 0 {
		t.Errorf("negative tolerance payload = %X, want 00 00", p)
	}
	if tol, err := ParseLevelAndLock(LevelAndLockPayload(1.5)); err != nil || tol != 1.5 {
		t.Errorf("ParseLevelAndLock = %v, %v; want 1.5", tol, err)
	}
	if _, err := ParseLevelAndLock([]byte{1}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("short tolerance: err = %v, want ErrShortPayload", err)
	}
}

func TestSyncTimePayload(t *testing.T) {
	if p := SyncTimePayload(1); len(p) != 8 || p[0] != 1 {
		t.Errorf("payload = %X", p)
	}
	const ms = 1760486400123
	if got, err := ParseSyncTime(SyncTimePayload(ms)); err != nil || got != ms {
		t.Errorf("ParseSyncTime = %d, %v; want %d", got, err, ms)
	}
	if _, err := ParseSyncTime(make([]byte, 7)); !errors.Is(err, ErrShortPayload) {
		t.Errorf("short sync: err = %v, want ErrShortPayload", err)
	}
}

// ============================================================
// Response Parsing Tests
// ============================================================

func TestParseAck(t *testing.T) {
	ack, err := ParseAck(AckPayload(7, StatusBusy, []byte{9}))
	if err != nil {
		t.Fatalf("ParseAck failed: %v", err)
	}
	if ack.Seq != 7 || ack.Status != StatusBusy || ack.OK() || len(ack.Data) != 1 {
		t.Errorf("got %+v", ack)
	}
	if _, err := ParseAck([]byte{7}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("err = %v, want ErrShortPayload", err)
	}
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion([]byte{2, 1, 0})
	if err != nil || v.String() != "2.1.0" {
		t.Errorf("got %v, %v", v, err)
	}
	if _, err := ParseVersion([]byte{2}); err == nil {
		t.Error("expected error")
	}
}

func TestParsePose(t *testing.T) {
	pose, err := ParsePose(PosePayload(1, Pose{Roll: 1.25, Pitch: -0.5, Yaw: 90}))
	if err != nil {
		t.Fatalf("ParsePose failed: %v", err)
	}
	if pose.Roll != 1.25 || pose.Pitch != -0.5 || pose.Yaw != 90 {
		t.Errorf("got %+v", pose)
	}
	if _, err := ParsePose([]byte{1, 0}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("err = %v, want ErrShortPayload", err)
	}
}

func TestParseLegState(t *testing.T) {
	in := []LegReport{
		{ID: 1, X: 0, Y: 171.7, Z: 600.4, Force: 98.5},
		{ID: 12, X: 2410, Y: -311.6, Z: 0, Force: 0},
	}
	out, err := ParseLegState(LegStatePayload(in))
	if err != nil {
		t.Fatalf("ParseLegState failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d reports", len(out))
	}
	for i := range in {
		if out[i].ID != in[i].ID || math.Abs(out[i].Y-in[i].Y) > 0.05 ||
			math.Abs(out[i].Z-in[i].Z) > 0.05 || math.Abs(out[i].Force-in[i].Force) > 0.05 {
			t.Errorf("report %d: got %+v, want %+v", i, out[i], in[i])
		}
	}
	if _, err := ParseLegState([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for partial report")
	}
}

func TestParseForces(t *testing.T) {
	forces, err := ParseForces([]byte{0xE8, 0x03, 0x00, 0x00})
	if err != nil {
		t.Fatalf("ParseForces failed: %v", err)
	}
	if len(forces) != 2 || forces[0] != 100 || forces[1] != 0 {
		t.Errorf("got %v", forces)
	}
	if _, err := ParseForces([]byte{1}); err == nil {
		t.Error("expected error for odd length")
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jackframe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Payload builders return the command payload WITHOUT the sequence byte.
// The transport session prefixes the sequence number when it sends a request.

// LegDelta is one per-leg motion entry in millimetres.
// Positive DZ descends.
type LegDelta struct {
	ID uint8
	DZ float64
	DX float64
	DY float64
}

// legDeltaSize is the wire size of one motion entry: id u8, dz/dx/dy i16
const legDeltaSize = 7

// ErrTooManyLegs is returned when a batch exceeds MaxBatchLegs entries
var ErrTooManyLegs = errors.New("too many legs in batch")

// ErrShortPayload is returned when a payload is too short to parse
var ErrShortPayload = errors.New("payload too short")

// toCounts converts millimetres to 0.1 mm wire counts, saturating at the
// int16 range.
func toCounts(mm, scale float64) int16 {
	v := math.Round(mm * scale)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func appendLegDelta(buf []byte, d LegDelta) []byte {
	buf = append(buf, d.ID)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(toCounts(d.DZ, DistanceScale)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(toCounts(d.DX, DistanceScale)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(toCounts(d.DY, DistanceScale)))
	return buf
}

// MoveBatchPayload builds a MOVE_BATCH (0x23) payload.
func MoveBatchPayload(deltas []LegDelta) ([]byte, error) {
	if len(deltas) > MaxBatchLegs {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyLegs, len(deltas), MaxBatchLegs)
	}
	buf := make([]byte, 0, len(deltas)*legDeltaSize)
	for _, d := range deltas {
		buf = appendLegDelta(buf, d)
	}
	return buf, nil
}

// MoveLegPayload builds a MOVE_LEG (0x24) payload.
func MoveLegPayload(d LegDelta) []byte {
	return appendLegDelta(make([]byte, 0, legDeltaSize), d)
}

// ParseMoveBatch decodes a MOVE_BATCH or MOVE_LEG payload (sequence byte
// already stripped) back into millimetre deltas.
func ParseMoveBatch(payload []byte) ([]LegDelta, error) {
	if len(payload)%legDeltaSize != 0 {
		return nil, fmt.Errorf("motion payload length %d is not a multiple of %d", len(payload), legDeltaSize)
	}
	deltas := make([]LegDelta, 0, len(payload)/legDeltaSize)
	for off := 0; off < len(payload); off += legDeltaSize {
		e := payload[off : off+legDeltaSize]
		deltas = append(deltas, LegDelta{
			ID: e[0],
			DZ: float64(int16(binary.LittleEndian.Uint16(e[1:]))) / DistanceScale,
			DX: float64(int16(binary.LittleEndian.Uint16(e[3:]))) / DistanceScale,
			DY: float64(int16(binary.LittleEndian.Uint16(e[5:]))) / DistanceScale,
		})
	}
	return deltas, nil
}

// DropPayload builds a START_FAST_DROP or START_SLOW_DROP payload: the
// target elevation in 0.1 mm as i32.
func DropPayload(targetMM float64) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(int32(math.Round(targetMM*DistanceScale))))
}

// ParseDrop decodes a drop payload into the target elevation in mm
func ParseDrop(payload []byte) (float64, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("%w: drop needs 4 bytes, got %d", ErrShortPayload, len(payload))
	}
	return float64(int32(binary.LittleEndian.Uint32(payload))) / DistanceScale, nil
}

// LevelAndLockPayload builds a LEVEL_AND_LOCK payload: the leveling
// tolerance in 0.1 mm as u16.
func LevelAndLockPayload(toleranceMM float64) []byte {
	return binary.LittleEndian.AppendUint16(nil, uint16(math.Max(0, math.Round(toleranceMM*DistanceScale))))
}

// ParseLevelAndLock decodes a LEVEL_AND_LOCK payload into the tolerance in mm
func ParseLevelAndLock(payload []byte) (float64, error) {
	if len(payload) < 2 {
		return 0, fmt.Errorf("%w: LEVEL_AND_LOCK needs 2 bytes, got %d", ErrShortPayload, len(payload))
	}
	return float64(binary.LittleEndian.Uint16(payload)) / DistanceScale, nil
}

// Parameter ids for SET_PARAM
const (
	ParamTickPeriodMs = 0x01
	ParamDescentRate  = 0x02 // 0.1 mm/s
	ParamMaxStep      = 0x03 // 0.1 mm
	ParamTarget       = 0x04 // 0.1 mm
)

// SetParamPayload builds a SET_PARAM (0x50) payload: id u8, value i32.
func SetParamPayload(id uint8, value int32) []byte {
	return binary.LittleEndian.AppendUint32([]byte{id}, uint32(value))
}

// ParseSetParam decodes a SET_PARAM payload
func ParseSetParam(payload []byte) (uint8, int32, error) {
	if len(payload) < 5 {
		return 0, 0, fmt.Errorf("%w: SET_PARAM needs 5 bytes, got %d", ErrShortPayload, len(payload))
	}
	return payload[0], int32(binary.LittleEndian.Uint32(payload[1:])), nil
}

// SyncTimePayload builds a SYNC_TIME (0x60) payload: unix milliseconds u64.
func SyncTimePayload(unixMillis int64) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(unixMillis))
}

// ParseSyncTime decodes a SYNC_TIME payload into unix milliseconds
func ParseSyncTime(payload []byte) (int64, error) {
	if len(payload) < 8 {
		return 0, fmt.Errorf("%w: SYNC_TIME needs 8 bytes, got %d", ErrShortPayload, len(payload))
	}
	return int64(binary.LittleEndian.Uint64(payload)), nil
}

// Ack is a decoded acknowledgement payload
type Ack struct {
	Seq    uint8
	Status uint8
	Data   []byte
}

// OK reports whether the device accepted the command
func (a Ack) OK() bool {
	return a.Status == StatusOK
}

// ParseAck decodes an ACK payload: seq u8, status u8, data...
func ParseAck(payload []byte) (Ack, error) {
	if len(payload) < 2 {
		return Ack{}, fmt.Errorf("%w: ACK needs 2 bytes, got %d", ErrShortPayload, len(payload))
	}
	return Ack{Seq: payload[0], Status: payload[1], Data: payload[2:]}, nil
}

// AckPayload builds an ACK payload
func AckPayload(seq, status uint8, data []byte) []byte {
	buf := make([]byte, 0, 2+len(data))
	buf = append(buf, seq, status)
	return append(buf, data...)
}

// Version is the controller firmware version returned by GET_VERSION
type Version struct {
	Major, Minor, Patch uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ParseVersion decodes GET_VERSION ACK data (after seq and status)
func ParseVersion(data []byte) (Version, error) {
	if len(data) < 3 {
		return Version{}, fmt.Errorf("%w: version needs 3 bytes, got %d", ErrShortPayload, len(data))
	}
	return Version{Major: data[0], Minor: data[1], Patch: data[2]}, nil
}

// Pose is the attitude reported by PUSH_POSE or READ_POSE, in degrees
type Pose struct {
	Roll, Pitch, Yaw float64
}

// posePayloadSize is seq, status, roll, pitch, yaw
const posePayloadSize = 8

// ParsePose decodes a PUSH_POSE payload: seq u8, status u8, then roll,
// pitch, yaw as i16 in 0.01 degree.
func ParsePose(payload []byte) (Pose, error) {
	if len(payload) < posePayloadSize {
		return Pose{}, fmt.Errorf("%w: pose needs %d bytes, got %d", ErrShortPayload, posePayloadSize, len(payload))
	}
	angle := func(off int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(payload[off:]))) / AngleScale
	}
	return Pose{Roll: angle(2), Pitch: angle(4), Yaw: angle(6)}, nil
}

// PosePayload builds a PUSH_POSE payload
func PosePayload(seq uint8, p Pose) []byte {
	buf := []byte{seq, StatusOK}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(toCounts(p.Roll, AngleScale)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(toCounts(p.Pitch, AngleScale)))
	return binary.LittleEndian.AppendUint16(buf, uint16(toCounts(p.Yaw, AngleScale)))
}

// LegReport is one entry of a PUSH_LEG_STATE frame, in mm and N
type LegReport struct {
	ID      uint8
	X, Y, Z float64
	Force   float64
}

// legReportSize is id u8, x/y/z i32, force u16
const legReportSize = 15

// ParseLegState decodes a PUSH_LEG_STATE payload of repeated leg reports.
func ParseLegState(payload []byte) ([]LegReport, error) {
	if len(payload) == 0 || len(payload)%legReportSize != 0 {
		return nil, fmt.Errorf("leg state payload length %d is not a multiple of %d", len(payload), legReportSize)
	}
	reports := make([]LegReport, 0, len(payload)/legReportSize)
	for off := 0; off < len(payload); off += legReportSize {
		e := payload[off : off+legReportSize]
		dist := func(i int) float64 {
			return float64(int32(binary.LittleEndian.Uint32(e[i:]))) / DistanceScale
		}
		reports = append(reports, LegReport{
			ID:    e[0],
			X:     dist(1),
			Y:     dist(5),
			Z:     dist(9),
			Force: float64(binary.LittleEndian.Uint16(e[13:])) / ForceScale,
		})
	}
	return reports, nil
}

// LegStatePayload builds a PUSH_LEG_STATE payload
func LegStatePayload(reports []LegReport) []byte {
	buf := make([]byte, 0, len(reports)*legReportSize)
	for _, r := range reports {
		buf = append(buf, r.ID)
		for _, v := range []float64{r.X, r.Y, r.Z} {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(math.Round(v*DistanceScale))))
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(math.Max(0, math.Min(math.MaxUint16, math.Round(r.Force*ForceScale)))))
	}
	return buf
}

// ParseForces decodes READ_FORCES ACK data: one u16 per leg in 0.1 N.
func ParseForces(data []byte) ([]float64, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("force data length %d is odd", len(data))
	}
	forces := make([]float64, len(data)/2)
	for i := range forces {
		forces[i] = float64(binary.LittleEndian.Uint16(data[2*i:])) / ForceScale
	}
	return forces, nil
}

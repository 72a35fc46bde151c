// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/jackstat/pkg/rig"
)

// Text telemetry record kinds
const (
	RecordIMU   = "IMU" // IMU,<roll>,<pitch>,<yaw>
	RecordForce = "FOR" // FOR,<leg>,<force>
	RecordZ     = "Z"   // Z,<leg>,<z_mm>
	RecordXY    = "XY"  // XY,<leg>,<x_mm>,<y_mm>
)

var ErrUnknownRecord = errors.New("unknown telemetry record")

// Record is one parsed telemetry line. Leg is 0 for IMU records.
type Record struct {
	Kind   string
	Leg    int
	Values []float64
}

// ParseLine parses one comma separated telemetry line
func ParseLine(line string) (Record, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	kind := strings.ToUpper(parts[0])

	var fields, values int
	switch kind {
	case RecordIMU:
		fields, values = 4, 3
	case RecordForce, RecordZ:
		fields, values = 3, 1
	case RecordXY:
		fields, values = 4, 2
	default:
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownRecord, parts[0])
	}
	if len(parts) < fields {
		return Record{}, fmt.Errorf("%s record: want %d fields, got %d", kind, fields, len(parts))
	}

	rec := Record{Kind: kind}
	nums := parts[1:fields]
	if kind != RecordIMU {
		id, err := strconv.Atoi(nums[0])
		if err != nil || id < 1 || id > rig.LegCount {
			return Record{}, fmt.Errorf("%s record: bad leg %q", kind, nums[0])
		}
		rec.Leg = id
		nums = nums[1:]
	}

	rec.Values = make([]float64, values)
	for i, s := range nums {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Record{}, fmt.Errorf("%s record: %w", kind, err)
		}
		rec.Values[i] = v
	}
	return rec, nil
}

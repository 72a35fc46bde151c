// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jackframe

import (
	"fmt"
	"strings"
)

var commandNames = map[uint8]string{
	CmdPing:          "PING",
	CmdGetVersion:    "GET_VERSION",
	CmdStartFastDrop: "START_FAST_DROP",
	CmdStartSlowDrop: "START_SLOW_DROP",
	CmdLevelAndLock:  "LEVEL_AND_LOCK",
	CmdMoveBatch:     "MOVE_BATCH",
	CmdMoveLeg:       "MOVE_LEG",
	CmdReadForces:    "READ_FORCES",
	CmdReadPose:      "READ_POSE",
	CmdEmergencyStop: "EMERGENCY_STOP",
	CmdSetParam:      "SET_PARAM",
	CmdSyncTime:      "SYNC_TIME",
	PushPose:         "PUSH_POSE",
	PushLegState:     "PUSH_LEG_STATE",
}

// IsKnownCommand reports whether cmd (or the command it acknowledges) is
// part of the command set.
func IsKnownCommand(cmd uint8) bool {
	if IsAck(cmd) {
		cmd &^= AckFlag
	}
	_, ok := commandNames[cmd]
	return ok
}

// FormatCommand returns the human-readable name for a command byte
func FormatCommand(cmd uint8) string {
	if IsAck(cmd) {
		if name, ok := commandNames[cmd&^AckFlag]; ok {
			return name + "_ACK"
		}
		return fmt.Sprintf("UNKNOWN_ACK(0x%02X)", cmd)
	}
	if name, ok := commandNames[cmd]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", cmd)
}

// FormatStatus returns the human-readable name for an ACK status code
func FormatStatus(status uint8) string {
	switch status {
	case StatusOK:
		return "OK"
	case StatusUnknownCommand:
		return "UNKNOWN_COMMAND"
	case StatusRejected:
		return "REJECTED"
	case StatusBusy:
		return "BUSY"
	default:
		return fmt.Sprintf("STATUS(%d)", status)
	}
}

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X) len=%d", timestamp, FormatCommand(f.cmd), f.cmd, len(f.payload)+1)

	if details := formatPayload(f); details != "" {
		result += " " + details
	}
	return result
}

func formatPayload(f *Frame) string {
	switch {
	case f.IsAck():
		ack, err := ParseAck(f.payload)
		if err != nil {
			return "malformed ack"
		}
		s := fmt.Sprintf("seq=%d status=%s", ack.Seq, FormatStatus(ack.Status))
		if f.AckedCommand() == CmdGetVersion {
			if v, err := ParseVersion(ack.Data); err == nil {
				s += " version=" + v.String()
			}
		}
		return s

	case f.cmd == PushPose:
		pose, err := ParsePose(f.payload)
		if err != nil {
			return "malformed pose"
		}
		return fmt.Sprintf("roll=%.2f pitch=%.2f yaw=%.2f", pose.Roll, pose.Pitch, pose.Yaw)

	case f.cmd == PushLegState:
		reports, err := ParseLegState(f.payload)
		if err != nil {
			return "malformed leg state"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "legs=%d", len(reports))
		for _, r := range reports {
			fmt.Fprintf(&b, "\n  leg %2d: x=%.1f y=%.1f z=%.1f force=%.1f", r.ID, r.X, r.Y, r.Z, r.Force)
		}
		return b.String()

	case f.cmd == CmdMoveBatch || f.cmd == CmdMoveLeg:
		if len(f.payload) == 0 {
			return ""
		}
		deltas, err := ParseMoveBatch(f.payload[1:])
		if err != nil {
			return fmt.Sprintf("seq=%d malformed motion", f.payload[0])
		}
		var b strings.Builder
		fmt.Fprintf(&b, "seq=%d legs=%d", f.payload[0], len(deltas))
		for _, d := range deltas {
			fmt.Fprintf(&b, "\n  leg %2d: dz=%.1f dx=%.1f dy=%.1f", d.ID, d.DZ, d.DX, d.DY)
		}
		return b.String()

	default:
		if seq, ok := f.Seq(); ok {
			return fmt.Sprintf("seq=%d", seq)
		}
		return ""
	}
}

// HexDump formats bytes as space-separated uppercase hex
func HexDump(data []byte) string {
	var b strings.Builder
	for i, v := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}

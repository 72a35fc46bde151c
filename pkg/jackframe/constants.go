// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package jackframe implements the binary frame format spoken between the
// jacking rig supervisor and its actuator controllers.
//
// A frame is a two byte sync marker, a length byte counting the command and
// payload, the command byte, the payload and a little-endian CRC-16/Modbus
// over everything before it:
//
//	0x55 0xAA | LEN | CMD | PAYLOAD (LEN-1) | CRC16-LE
//
// The package provides frame encoding, a streaming resynchronizing decoder,
// payload builders for the rig command set, validation and formatting.
package jackframe

// Framing bytes
const (
	SyncByte1 = 0x55
	SyncByte2 = 0xAA
)

// Frame size limits
const (
	HeaderSize     = 3 // sync (2) + length
	CRCSize        = 2
	MaxBodySize    = 255 // command + payload, bounded by the length byte
	MaxPayloadSize = MaxBodySize - 1
	MaxFrameSize   = HeaderSize + MaxBodySize + CRCSize
)

// CRC-16/Modbus configuration (reflected polynomial)
const (
	crcPolynomial = 0xA001
	crcInitial    = 0xFFFF
)

// Command flags
const (
	AckFlag  = 0x80 // ACK of the low 7-bit command
	PushBase = 0xC0 // unsolicited device pushes start here
)

// Commands - Link (Host → Controller) 0x01-0x1F
const (
	CmdPing       = 0x01
	CmdGetVersion = 0x10
)

// Commands - Motion (Host → Controller) 0x20-0x2F
const (
	CmdStartFastDrop = 0x20
	CmdStartSlowDrop = 0x21
	CmdLevelAndLock  = 0x22
	CmdMoveBatch     = 0x23
	CmdMoveLeg       = 0x24
)

// Commands - Queries (Host → Controller) 0x30-0x3F
const (
	CmdReadForces = 0x30
	CmdReadPose   = 0x31
)

// Commands - Control (Host → Controller) 0x40-0x6F
const (
	CmdEmergencyStop = 0x40
	CmdSetParam      = 0x50
	CmdSyncTime      = 0x60
)

// Pushes (Controller → Host) 0xC0-0xFF
const (
	PushPose     = 0xC1
	PushLegState = 0xC2
)

// Status codes carried in the second byte of an ACK payload
const (
	StatusOK             = 0x00
	StatusUnknownCommand = 0x01
	StatusRejected       = 0x02
	StatusBusy           = 0x03
)

// Decoder states (internal)
const (
	stateSeekSync1 = iota
	stateSeekSync2
	stateReadLength
	stateReadBodyAndCRC
)

// Motion units on the wire
const (
	DistanceScale = 10.0  // 0.1 mm per count
	ForceScale    = 10.0  // 0.1 N per count
	AngleScale    = 100.0 // 0.01 degree per count
)

// MaxBatchLegs is the number of leg entries a MOVE_BATCH frame carries.
const MaxBatchLegs = 12

// IsAck reports whether cmd acknowledges a host command. Pushes share the
// high bit but are never acknowledgements.
func IsAck(cmd uint8) bool {
	return cmd&AckFlag != 0 && cmd < PushBase
}

// IsPush reports whether cmd is an unsolicited device push.
func IsPush(cmd uint8) bool {
	return cmd >= PushBase
}

// AckOf returns the acknowledgement command for cmd.
func AckOf(cmd uint8) uint8 {
	return cmd | AckFlag
}

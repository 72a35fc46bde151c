// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jackframe

import "time"

// Frame represents a decoded frame
type Frame struct {
	cmd       uint8
	payload   []byte
	raw       []byte // exact bytes received, including sync and CRC
	crc       uint16
	timestamp time.Time
}

// NewFrame creates a frame from its command and payload. The raw bytes are
// the encoded form of the frame.
func NewFrame(cmd uint8, payload []byte) (*Frame, error) {
	raw, err := Encode(int(cmd), payload)
	if err != nil {
		return nil, err
	}
	return &Frame{
		cmd:       cmd,
		payload:   raw[HeaderSize+1 : len(raw)-CRCSize],
		raw:       raw,
		crc:       uint16(raw[len(raw)-2]) | uint16(raw[len(raw)-1])<<8,
		timestamp: time.Now(),
	}, nil
}

// Cmd returns the command byte
func (f *Frame) Cmd() uint8 {
	return f.cmd
}

// Payload returns the payload bytes (without the command byte)
func (f *Frame) Payload() []byte {
	return f.payload
}

// Raw returns the exact bytes of the frame
func (f *Frame) Raw() []byte {
	return f.raw
}

// CRC returns the frame's CRC value
func (f *Frame) CRC() uint16 {
	return f.crc
}

// Timestamp returns the frame's decode timestamp
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// IsAck returns true if the frame acknowledges a host command
func (f *Frame) IsAck() bool {
	return IsAck(f.cmd)
}

// IsPush returns true if the frame is an unsolicited device push
func (f *Frame) IsPush() bool {
	return IsPush(f.cmd)
}

// AckedCommand returns the command an ACK frame acknowledges
func (f *Frame) AckedCommand() uint8 {
	return f.cmd &^ AckFlag
}

// Seq returns the sequence number carried in the first payload byte
func (f *Frame) Seq() (uint8, bool) {
	if len(f.payload) == 0 {
		return 0, false
	}
	return f.payload[0], true
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jackframe

import "fmt"

// Encode creates a complete wire-formatted frame.
// Returns the frame bytes ready for transmission, including sync and CRC.
func Encode(cmd int, payload []byte) ([]byte, error) {
	if cmd < 0 || cmd > 0xFF {
		return nil, fmt.Errorf("command out of range: %d (valid 0-255)", cmd)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(payload), MaxPayloadSize)
	}

	frame := make([]byte, 0, HeaderSize+1+len(payload)+CRCSize)
	frame = append(frame, SyncByte1, SyncByte2, uint8(1+len(payload)), uint8(cmd))
	frame = append(frame, payload...)

	crc := CalculateCRC(frame)

	// CRC is little-endian on the wire
	return append(frame, byte(crc&0xFF), byte(crc>>8)), nil
}

// MustEncode encodes a frame and panics on error.
// Intended for constant commands whose size is known to be valid.
func MustEncode(cmd int, payload []byte) []byte {
	data, err := Encode(cmd, payload)
	if err != nil {
		panic(fmt.Sprintf("jackframe: encode error: %v", err))
	}
	return data
}

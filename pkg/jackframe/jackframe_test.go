// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jackframe

import (
	"bytes"
	"errors"
	"math/rand"
	"strings"
	"testing"
)

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_Empty(t *testing.T) {
	if crc := CalculateCRC(nil); crc != 0xFFFF {
		t.Errorf("CalculateCRC(nil) = 0x%04X, want 0xFFFF", crc)
	}
}

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"check string", []byte("123456789"), 0x4B37},
		{"single zero", []byte{0x00}, 0x40BF},
		{"modbus read request", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}, 0x0A84},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateCRC(tt.data); got != tt.want {
				t.Errorf("CalculateCRC(%X) = 0x%04X, want 0x%04X", tt.data, got, tt.want)
			}
		})
	}
}

// ============================================================
// Encoder Tests
// ============================================================

func TestEncode_Layout(t *testing.T) {
	data, err := Encode(CmdPing, []byte{0x07})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	want := []byte{SyncByte1, SyncByte2, 0x02, CmdPing, 0x07}
	if !bytes.Equal(data[:5], want) {
		t.Fatalf("header = %X, want %X", data[:5], want)
	}
	crc := CalculateCRC(data[:5])
	if data[5] != byte(crc) || data[6] != byte(crc>>8) {
		t.Errorf("CRC bytes = %02X %02X, want little-endian 0x%04X", data[5], data[6], crc)
	}
}

func TestEncode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cmd     int
		payload []byte
	}{
		{"negative command", -1, nil},
		{"command too large", 256, nil},
		{"payload too large", CmdMoveBatch, make([]byte, MaxPayloadSize+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.cmd, tt.payload); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEncode_MaxPayload(t *testing.T) {
	data, err := Encode(CmdMoveBatch, make([]byte, MaxPayloadSize))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(data) != MaxFrameSize {
		t.Errorf("frame size = %d, want %d", len(data), MaxFrameSize)
	}
	if data[2] != 0xFF {
		t.Errorf("length byte = 0x%02X, want 0xFF", data[2])
	}
}

func TestMustEncode_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustEncode did not panic")
		}
	}()
	MustEncode(300, nil)
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecoder_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		{0x01},
		{0x01, StatusOK, 0x02, 0x03},
		{SyncByte1, SyncByte2, 0x02, 0x01},
		bytes.Repeat([]byte{0xAB}, MaxPayloadSize),
	}

	for _, payload := range payloads {
		d := NewDecoder()
		frames := d.Feed(MustEncode(CmdReadForces, payload))
		if len(frames) != 1 {
			t.Fatalf("payload len %d: got %d frames, want 1", len(payload), len(frames))
		}
		if frames[0].Cmd() != CmdReadForces {
			t.Errorf("cmd = 0x%02X, want 0x%02X", frames[0].Cmd(), CmdReadForces)
		}
		if !bytes.Equal(frames[0].Payload(), payload) {
			t.Errorf("payload mismatch for len %d: got %X", len(payload), frames[0].Payload())
		}
	}
}

func TestDecoder_RoundTripAllCommands(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	d := NewDecoder()

	for cmd := 0; cmd < 256; cmd++ {
		for n := 0; n <= 250; n++ {
			payload := make([]byte, n)
			rng.Read(payload)

			frames := d.Feed(MustEncode(cmd, payload))
			if len(frames) != 1 {
				t.Fatalf("cmd 0x%02X len %d: got %d frames, want 1", cmd, n, len(frames))
			}
			if int(frames[0].Cmd()) != cmd {
				t.Fatalf("cmd 0x%02X len %d: decoded cmd 0x%02X", cmd, n, frames[0].Cmd())
			}
			if !bytes.Equal(frames[0].Payload(), payload) {
				t.Fatalf("cmd 0x%02X len %d: payload mismatch", cmd, n)
			}
		}
	}
	if len(d.Pending()) != 0 {
		t.Errorf("%d bytes left pending", len(d.Pending()))
	}
}

func TestDecoder_ByteAtATime(t *testing.T) {
	raw := MustEncode(CmdMoveLeg, []byte{0x05, 0x01, 0x02})
	d := NewDecoder()

	var frames []*Frame
	for _, b := range raw {
		frames = append(frames, d.Feed([]byte{b})...)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Raw(), raw) {
		t.Errorf("raw = %X, want %X", frames[0].Raw(), raw)
	}
}

func TestDecoder_MergedFrames(t *testing.T) {
	var stream []byte
	for i := 1; i <= 5; i++ {
		stream = append(stream, MustEncode(CmdPing, []byte{byte(i)})...)
	}

	frames := NewDecoder().Feed(stream)
	if len(frames) != 5 {
		t.Fatalf("got %d frames, want 5", len(frames))
	}
	for i, f := range frames {
		if seq, _ := f.Seq(); seq != byte(i+1) {
			t.Errorf("frame %d seq = %d, want %d", i, seq, i+1)
		}
	}
}

func TestDecoder_GarbageBeforeFrame(t *testing.T) {
	stream := append([]byte{0x00, 0x12, 0x55, 0x13, 0xAA, 0xFF}, MustEncode(CmdPing, []byte{0x09})...)

	d := NewDecoder()
	frames := d.Feed(stream)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if d.Stats().FramingResets == 0 {
		t.Error("expected framing resets to be counted")
	}
}

func TestDecoder_DoubleSync1(t *testing.T) {
	// 0x55 0x55 0xAA must still synchronize on the second 0x55
	stream := append([]byte{SyncByte1}, MustEncode(CmdPing, []byte{0x01})...)
	if frames := NewDecoder().Feed(stream); len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
}

func TestDecoder_ZeroLength(t *testing.T) {
	var rejected []error
	d := NewDecoder()
	stream := append([]byte{SyncByte1, SyncByte2, 0x00}, MustEncode(CmdPing, []byte{0x01})...)

	var frames []*Frame
	d.FeedFunc(stream, func(f *Frame, err error) {
		if err != nil {
			rejected = append(rejected, err)
			return
		}
		frames = append(frames, f)
	})

	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if len(rejected) != 1 || !errors.Is(rejected[0], ErrEmptyBody) {
		t.Errorf("rejected = %v, want one ErrEmptyBody", rejected)
	}
}

func TestDecoder_CRCErrorDropsFrame(t *testing.T) {
	bad := MustEncode(CmdPing, []byte{0x01})
	bad[len(bad)-1] ^= 0xFF
	good := MustEncode(CmdPing, []byte{0x02})

	d := NewDecoder()
	frames := d.Feed(append(bad, good...))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if seq, _ := frames[0].Seq(); seq != 0x02 {
		t.Errorf("seq = %d, want 2", seq)
	}
	if d.Stats().CRCErrors != 1 {
		t.Errorf("CRCErrors = %d, want 1", d.Stats().CRCErrors)
	}
}

func TestDecoder_CorruptLengthDoesNotSwallowNextFrame(t *testing.T) {
	// A length byte corrupted upward makes the candidate span the next frame.
	// The scan inside the open candidate must still find it.
	bad := MustEncode(CmdPing, []byte{0x01})
	bad[2] = 0x05
	good := MustEncode(CmdGetVersion, []byte{0x02})

	frames := NewDecoder().Feed(append(bad, good...))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Cmd() != CmdGetVersion {
		t.Errorf("cmd = 0x%02X, want GET_VERSION", frames[0].Cmd())
	}
}

func TestDecoder_LongCorruptLengthReleasesNextFrame(t *testing.T) {
	// The candidate would need far more bytes than the link carries; the
	// frame inside it is released without waiting for them.
	bad := MustEncode(CmdPing, []byte{0x01})
	bad[2] = 0xF0
	good := MustEncode(CmdGetVersion, []byte{0x02})

	d := NewDecoder()
	frames := d.Feed(append(bad, good...))
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Cmd() != CmdGetVersion {
		t.Errorf("cmd = 0x%02X, want GET_VERSION", frames[0].Cmd())
	}
	if len(d.Pending()) != 0 {
		t.Errorf("%d bytes left pending", len(d.Pending()))
	}
}

func TestDecoder_SyncInsideCorruptFrameDoesNotHoldNextFrame(t *testing.T) {
	// The corrupt frame's payload carries a sync marker with a large length.
	// Once its CRC fails, the next valid frame must still decode at once.
	bad := MustEncode(CmdPing, []byte{0x01, SyncByte1, SyncByte2, 0xF0, 0x02})
	bad[len(bad)-1] ^= 0x01
	good := MustEncode(CmdPing, []byte{0x07})

	d := NewDecoder()
	var errs []error
	var frames []*Frame
	d.FeedFunc(append(bad, good...), func(f *Frame, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		frames = append(frames, f)
	})

	if len(errs) != 1 || !errors.Is(errs[0], ErrCRCMismatch) {
		t.Fatalf("errors = %v, want one CRC mismatch", errs)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Payload(), []byte{0x07}) {
		t.Errorf("payload = %X, want 07", frames[0].Payload())
	}
	if len(d.Pending()) != 0 {
		t.Errorf("%d bytes left pending", len(d.Pending()))
	}
	if st := d.Stats(); st.Frames != 1 || st.CRCErrors != 1 {
		t.Errorf("stats = %+v, want 1 frame and 1 CRC error", st)
	}
}

func TestDecoder_Reset(t *testing.T) {
	raw := MustEncode(CmdPing, []byte{0x01})
	d := NewDecoder()
	d.Feed(raw[:4])
	if len(d.Pending()) == 0 {
		t.Fatal("expected in-progress bytes")
	}

	d.Reset()
	if len(d.Pending()) != 0 {
		t.Error("Reset left bytes buffered")
	}
	if frames := d.Feed(raw); len(frames) != 1 {
		t.Errorf("got %d frames after reset, want 1", len(frames))
	}
}

func TestDecoder_Stats(t *testing.T) {
	raw := MustEncode(CmdPing, []byte{0x01})
	d := NewDecoder()
	d.Feed(raw)
	d.Feed(raw)

	stats := d.Stats()
	if stats.Frames != 2 {
		t.Errorf("Frames = %d, want 2", stats.Frames)
	}
	if stats.Bytes != uint64(2*len(raw)) {
		t.Errorf("Bytes = %d, want %d", stats.Bytes, 2*len(raw))
	}
}

// ============================================================
// Frame Tests
// ============================================================

func TestIsAck_PushesAreNotAcks(t *testing.T) {
	tests := []struct {
		cmd  uint8
		ack  bool
		push bool
	}{
		{CmdPing, false, false},
		{AckOf(CmdPing), true, false},
		{AckOf(CmdSyncTime), true, false},
		{PushPose, false, true},
		{PushLegState, false, true},
		{0xFF, false, true},
	}

	for _, tt := range tests {
		if IsAck(tt.cmd) != tt.ack {
			t.Errorf("IsAck(0x%02X) = %v, want %v", tt.cmd, !tt.ack, tt.ack)
		}
		if IsPush(tt.cmd) != tt.push {
			t.Errorf("IsPush(0x%02X) = %v, want %v", tt.cmd, !tt.push, tt.push)
		}
	}
}

func TestNewFrame(t *testing.T) {
	f, err := NewFrame(AckOf(CmdMoveBatch), []byte{0x11, StatusOK})
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	if !f.IsAck() || f.AckedCommand() != CmdMoveBatch {
		t.Errorf("frame is not an ACK of MOVE_BATCH: 0x%02X", f.Cmd())
	}
	if seq, ok := f.Seq(); !ok || seq != 0x11 {
		t.Errorf("Seq() = %d, %v", seq, ok)
	}
	if f.Timestamp().IsZero() {
		t.Error("timestamp not set")
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatCommand(t *testing.T) {
	tests := map[uint8]string{
		CmdPing:                 "PING",
		AckOf(CmdEmergencyStop): "EMERGENCY_STOP_ACK",
		PushLegState:            "PUSH_LEG_STATE",
		0x7E:                    "UNKNOWN(0x7E)",
	}
	for cmd, want := range tests {
		if got := FormatCommand(cmd); got != want {
			t.Errorf("FormatCommand(0x%02X) = %q, want %q", cmd, got, want)
		}
	}
}

func TestFormatFrame_Ack(t *testing.T) {
	f, _ := NewFrame(AckOf(CmdGetVersion), []byte{0x03, StatusOK, 1, 2, 3})
	out := FormatFrame(f)
	for _, want := range []string{"GET_VERSION_ACK", "seq=3", "status=OK", "version=1.2.3"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatFrame() = %q, missing %q", out, want)
		}
	}
}

func TestHexDump(t *testing.T) {
	if got := HexDump([]byte{0x55, 0xAA, 0x01}); got != "55 AA 01" {
		t.Errorf("HexDump = %q", got)
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidateFrame(t *testing.T) {
	legState := LegStatePayload([]LegReport{{ID: 1, X: 0, Y: 0, Z: 600, Force: 100}})
	badLeg := LegStatePayload([]LegReport{{ID: 13, Force: 100}})

	tests := []struct {
		name    string
		cmd     uint8
		payload []byte
		want    []AnomalyType
	}{
		{"valid ack", AckOf(CmdPing), []byte{1, StatusOK}, nil},
		{"short ack", AckOf(CmdPing), []byte{1}, []AnomalyType{AnomalyLengthMismatch}},
		{"busy ack", AckOf(CmdMoveBatch), []byte{1, StatusBusy}, []AnomalyType{AnomalyRejected}},
		{"unknown command", 0x7E, []byte{1}, []AnomalyType{AnomalyUnknownCommand}},
		{"request without seq", CmdPing, nil, []AnomalyType{AnomalyMissingSeq}},
		{"valid leg state", PushLegState, legState, nil},
		{"bad leg id", PushLegState, badLeg, []AnomalyType{AnomalyInvalidValue}},
		{"short pose", PushPose, []byte{1, 0, 0}, []AnomalyType{AnomalyLengthMismatch}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFrame(tt.cmd, tt.payload)
			if err != nil {
				t.Fatalf("NewFrame failed: %v", err)
			}
			got := ValidateFrame(f)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d errors (%v), want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i].Type != tt.want[i] {
					t.Errorf("error %d type = %d, want %d", i, got[i].Type, tt.want[i])
				}
			}
		})
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()
	f, _ := NewFrame(AckOf(CmdPing), []byte{1, StatusOK})

	s.Update(f, nil, nil)
	s.Update(nil, ErrCRCMismatch, nil)
	s.Update(nil, ErrEmptyBody, nil)
	s.Update(f, nil, []ValidationError{{Type: AnomalyRejected}})
	s.RecordTimeout()
	s.RecordRetry()

	snap := s.Snapshot()
	if snap.TotalFrames != 4 || snap.ValidFrames != 1 {
		t.Errorf("Total/Valid = %d/%d, want 4/1", snap.TotalFrames, snap.ValidFrames)
	}
	if snap.CRCErrors != 1 || snap.FramingErrors != 1 || snap.Rejected != 1 {
		t.Errorf("CRC/Framing/Rejected = %d/%d/%d, want 1/1/1", snap.CRCErrors, snap.FramingErrors, snap.Rejected)
	}
	if snap.Timeouts != 1 || snap.Retries != 1 {
		t.Errorf("Timeouts/Retries = %d/%d, want 1/1", snap.Timeouts, snap.Retries)
	}
	if !strings.Contains(s.String(), "CRC Errors") {
		t.Error("String() missing CRC line")
	}

	s.Reset()
	if s.Snapshot().TotalFrames != 0 {
		t.Error("Reset did not clear counters")
	}
}

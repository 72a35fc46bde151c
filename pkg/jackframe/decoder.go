// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jackframe

import (
	"errors"
	"fmt"
	"time"
)

// ErrCRCMismatch is reported for a complete candidate frame whose CRC does
// not match its contents.
var ErrCRCMismatch = errors.New("CRC mismatch")

// ErrEmptyBody is reported for a candidate frame whose length byte is zero.
var ErrEmptyBody = errors.New("empty frame body")

// DecoderStats counts decoder activity
type DecoderStats struct {
	Bytes         uint64
	Frames        uint64
	CRCErrors     uint64
	FramingResets uint64
}

// Decoder implements the frame decoder state machine.
//
// Bytes that break synchronization return the decoder to sync seeking one
// byte at a time, so split, merged and corrupted transport reads all
// resynchronize on the next sync marker.
//
// While a candidate is open, an inner decoder scans the bytes after its first
// sync byte. A valid frame found there is emitted as soon as it completes and
// the open candidate is abandoned, so a corrupted length byte cannot hold a
// complete frame back. When the open candidate fails its CRC, decoding
// continues from the inner decoder's state.
type Decoder struct {
	state  int
	need   int // body + CRC bytes still expected
	buffer []byte
	stats  DecoderStats
	inner  *Decoder
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:  stateSeekSync1,
		buffer: make([]byte, 0, MaxFrameSize),
	}
}

// Reset resets the decoder state to sync seeking
func (d *Decoder) Reset() {
	d.state = stateSeekSync1
	d.need = 0
	d.buffer = d.buffer[:0]
	d.inner = nil
}

// Stats returns a copy of the decoder counters
func (d *Decoder) Stats() DecoderStats {
	return d.stats
}

// Pending returns the bytes of the in-progress frame
func (d *Decoder) Pending() []byte {
	return d.buffer
}

// Feed decodes a chunk of the byte stream and returns every valid frame it
// completes, in order. Corrupted candidates are dropped silently; use
// FeedFunc to observe them.
func (d *Decoder) Feed(data []byte) []*Frame {
	var frames []*Frame
	d.FeedFunc(data, func(f *Frame, err error) {
		if f != nil {
			frames = append(frames, f)
		}
	})
	return frames
}

// FeedFunc decodes a chunk of the byte stream, calling fn for every valid
// frame and for every rejected candidate (with a nil frame and the reason).
func (d *Decoder) FeedFunc(data []byte, fn func(*Frame, error)) {
	for _, b := range data {
		d.stats.Bytes++
		d.feedByte(b, fn)
	}
}

func (d *Decoder) feedByte(b byte, fn func(*Frame, error)) {
	inner := d.inner
	frame, err := d.decodeByte(b)
	switch {
	case frame != nil:
		fn(frame, nil)
		return
	case err != nil:
		fn(nil, err)
		if inner != nil {
			d.adopt(inner, d.scanInner(inner, b, fn))
		}
		return
	}

	if d.state < stateReadLength {
		return
	}
	if d.inner == nil {
		// the inner scan starts after the first sync byte
		d.inner = NewDecoder()
		return
	}
	if d.scanInner(d.inner, b, fn) {
		d.adopt(d.inner, true)
	}
}

// scanInner feeds b to the inner decoder and forwards any frame it completes.
// Inner rejections are not reported; they lie inside the open candidate.
func (d *Decoder) scanInner(inner *Decoder, b byte, fn func(*Frame, error)) bool {
	found := false
	inner.feedByte(b, func(f *Frame, _ error) {
		if f != nil {
			d.stats.Frames++
			fn(f, nil)
			found = true
		}
	})
	return found
}

// adopt continues decoding from the inner decoder's state
func (d *Decoder) adopt(inner *Decoder, emitted bool) {
	if emitted {
		d.Reset()
		return
	}
	d.state = inner.state
	d.need = inner.need
	d.buffer = append(d.buffer[:0], inner.buffer...)
	d.inner = inner.inner
}

// decodeByte advances the state machine by one byte. It returns a completed
// frame, or the reason a candidate was rejected.
func (d *Decoder) decodeByte(b byte) (*Frame, error) {
	switch d.state {
	case stateSeekSync1:
		if b == SyncByte1 {
			d.buffer = append(d.buffer[:0], b)
			d.state = stateSeekSync2
		}
		return nil, nil

	case stateSeekSync2:
		switch b {
		case SyncByte2:
			d.buffer = append(d.buffer, b)
			d.state = stateReadLength
		case SyncByte1:
			// 0x55 0x55 0xAA: the second byte may start the real marker
			d.buffer = append(d.buffer[:0], b)
		default:
			d.stats.FramingResets++
			d.Reset()
		}
		return nil, nil

	case stateReadLength:
		if b == 0 {
			d.stats.FramingResets++
			d.Reset()
			return nil, ErrEmptyBody
		}
		d.buffer = append(d.buffer, b)
		d.need = int(b) + CRCSize
		d.state = stateReadBodyAndCRC
		return nil, nil

	case stateReadBodyAndCRC:
		d.buffer = append(d.buffer, b)
		d.need--
		if d.need > 0 {
			return nil, nil
		}
		return d.complete()

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid decoder state: %d", d.state)
	}
}

// complete validates the buffered candidate and emits it as a frame
func (d *Decoder) complete() (*Frame, error) {
	raw := make([]byte, len(d.buffer))
	copy(raw, d.buffer)
	d.Reset()

	body := raw[:len(raw)-CRCSize]
	received := uint16(raw[len(raw)-2]) | uint16(raw[len(raw)-1])<<8
	calculated := CalculateCRC(body)
	if received != calculated {
		d.stats.CRCErrors++
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, calculated, received)
	}

	d.stats.Frames++
	return &Frame{
		cmd:       raw[HeaderSize],
		payload:   raw[HeaderSize+1 : len(raw)-CRCSize],
		raw:       raw,
		crc:       received,
		timestamp: time.Now(),
	}, nil
}

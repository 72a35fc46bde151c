// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/jackstat/pkg/jackframe"
	"github.com/Thermoquad/jackstat/pkg/monitoring"
)

const (
	readBufferSize     = 256
	subscriberQueueLen = 64
)

type result struct {
	payload []byte
	err     error
}

// Session runs the request/acknowledge protocol over one Channel at a time.
//
// Requests carry a sequence number in the first payload byte; the device
// echoes it in the first byte of the ACK. Frames that do not resolve a
// pending request are delivered to subscribers.
type Session struct {
	open     Opener
	observer FrameObserver
	stats    *jackframe.Statistics

	mu      sync.Mutex // guards everything below
	ch      Channel
	pending map[uint8]chan result
	seq     uint8
	reader  chan struct{} // closed when the current reader exits
	obsq    *observerQueue

	writeMu sync.Mutex

	subMu  sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithObserver reports every transmitted and received frame to obs.
func WithObserver(obs FrameObserver) SessionOption {
	return func(s *Session) { s.observer = obs }
}

// WithStatistics records decoder and request counters into stats.
func WithStatistics(stats *jackframe.Statistics) SessionOption {
	return func(s *Session) { s.stats = stats }
}

// NewSession creates a closed session that opens channels with open.
func NewSession(open Opener, opts ...SessionOption) *Session {
	s := &Session{
		open:    open,
		pending: make(map[uint8]chan result),
		subs:    make(map[int]*subscriber),
		stats:   jackframe.NewStatistics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Statistics returns the session's link counters
func (s *Session) Statistics() *jackframe.Statistics {
	return s.stats
}

// IsOpen reports whether a channel is currently open
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch != nil
}

// Open opens a channel and starts the background reader. Opening an open
// session is a no-op.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.ch != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ch, err := s.open(ctx)
	if err != nil {
		return &LinkError{Op: "open", Err: err}
	}

	s.mu.Lock()
	if s.ch != nil {
		// lost a race with a concurrent Open
		s.mu.Unlock()
		ch.Close()
		return nil
	}
	s.ch = ch
	s.reader = make(chan struct{})
	if s.observer != nil {
		s.obsq = newObserverQueue(s.observer)
	}
	done := s.reader
	s.mu.Unlock()

	go s.readLoop(ch, done)
	return nil
}

// Close releases the channel, waits for the reader to exit and fails every
// outstanding request with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	ch, done := s.ch, s.reader
	s.mu.Unlock()
	if ch == nil {
		return nil
	}

	err := s.teardown(ch, ErrSessionClosed)
	<-done
	return err
}

// teardown closes ch if it is still the current channel and fails every
// pending request with cause.
func (s *Session) teardown(ch Channel, cause error) error {
	s.mu.Lock()
	if s.ch != ch {
		s.mu.Unlock()
		return nil
	}
	s.ch = nil
	pending := s.pending
	s.pending = make(map[uint8]chan result)
	obsq := s.obsq
	s.obsq = nil
	s.mu.Unlock()

	err := ch.Close()
	for _, c := range pending {
		c <- result{err: cause}
	}
	if obsq != nil {
		obsq.close()
	}
	return err
}

// Request sends cmd with a fresh sequence number prefixed to payload and
// waits up to timeout for the matching ACK. After a timeout it retries up to
// retries more times, each with a new sequence number. It returns the full
// ACK payload (seq, status, data...).
func (s *Session) Request(ctx context.Context, cmd uint8, payload []byte, timeout time.Duration, retries int) ([]byte, error) {
	if len(payload)+1 > jackframe.MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes", len(payload))
	}

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			s.stats.RecordRetry()
			monitoring.Debugf("retry %s (attempt %d/%d)", jackframe.FormatCommand(cmd), attempt+1, retries+1)
		}
		ack, err := s.attempt(ctx, cmd, payload, timeout)
		if err == nil {
			return ack, nil
		}
		if !errors.Is(err, ErrRequestTimeout) {
			return nil, err
		}
		s.stats.RecordTimeout()
	}
	return nil, fmt.Errorf("%s after %d attempts: %w", jackframe.FormatCommand(cmd), retries+1, ErrRequestTimeout)
}

// attempt performs one send-and-wait with its own sequence number.
func (s *Session) attempt(ctx context.Context, cmd uint8, payload []byte, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	ch := s.ch
	if ch == nil {
		s.mu.Unlock()
		return nil, ErrNotOpen
	}
	seq, ok := s.allocSeq()
	if !ok {
		s.mu.Unlock()
		return nil, ErrNoSequence
	}
	wait := make(chan result, 1)
	s.pending[seq] = wait
	s.mu.Unlock()

	body := make([]byte, 0, 1+len(payload))
	body = append(append(body, seq), payload...)
	frame, err := jackframe.Encode(int(cmd), body)
	if err != nil {
		s.release(seq, wait)
		return nil, err
	}

	if err := s.write(ch, frame); err != nil {
		s.release(seq, wait)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-wait:
		return r.payload, r.err
	case <-timer.C:
		s.release(seq, wait)
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		s.release(seq, wait)
		return nil, ctx.Err()
	}
}

// allocSeq returns the next sequence number in 1..255 that is not pending.
// Callers hold s.mu.
func (s *Session) allocSeq() (uint8, bool) {
	for i := 0; i < 255; i++ {
		s.seq++
		if s.seq == 0 {
			s.seq = 1
		}
		if _, busy := s.pending[s.seq]; !busy {
			return s.seq, true
		}
	}
	return 0, false
}

// release removes a pending entry if it still belongs to wait.
func (s *Session) release(seq uint8, wait chan result) {
	s.mu.Lock()
	if s.pending[seq] == wait {
		delete(s.pending, seq)
	}
	s.mu.Unlock()
}

// Send writes a frame without waiting for an acknowledgement. The payload
// is sent as is, without a sequence number.
func (s *Session) Send(cmd uint8, payload []byte) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return ErrNotOpen
	}
	frame, err := jackframe.Encode(int(cmd), payload)
	if err != nil {
		return err
	}
	return s.write(ch, frame)
}

func (s *Session) write(ch Channel, frame []byte) error {
	s.writeMu.Lock()
	_, err := ch.Write(frame)
	s.writeMu.Unlock()
	if err != nil {
		return &LinkError{Op: "write", Err: err}
	}
	s.observe(TX, frame)
	return nil
}

func (s *Session) observe(dir Direction, raw []byte) {
	s.mu.Lock()
	q := s.obsq
	s.mu.Unlock()
	if q != nil {
		q.push(dir, raw)
	}
}

// readLoop pulls bytes from ch until it fails, then tears the session down
// so the supervisor can reconnect.
func (s *Session) readLoop(ch Channel, done chan struct{}) {
	defer close(done)

	decoder := jackframe.NewDecoder()
	buf := make([]byte, readBufferSize)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			decoder.FeedFunc(buf[:n], s.handleDecoded)
		}
		if err != nil {
			monitoring.Debugf("session reader stopped: %v", err)
			s.teardown(ch, &LinkError{Op: "read", Err: err})
			return
		}
	}
}

func (s *Session) handleDecoded(f *jackframe.Frame, err error) {
	if err != nil {
		s.stats.Update(nil, err, nil)
		monitoring.Debugf("RX dropped: %v", err)
		return
	}
	s.stats.Update(f, nil, jackframe.ValidateFrame(f))
	s.observe(RX, f.Raw())

	if f.IsAck() {
		if seq, ok := f.Seq(); ok {
			s.mu.Lock()
			wait, found := s.pending[seq]
			if found {
				delete(s.pending, seq)
			}
			s.mu.Unlock()
			if found {
				wait <- result{payload: f.Payload()}
				return
			}
		}
	}
	s.dispatch(f)
}

type subscriber struct {
	frames chan *jackframe.Frame
	done   chan struct{}
	once   sync.Once
}

// Subscribe registers fn for every frame that does not resolve a pending
// request: device pushes, unsolicited frames and late ACKs. fn runs on its
// own goroutine; frames arriving while its queue is full are dropped.
// The returned cancel function unregisters fn and waits for it to return.
func (s *Session) Subscribe(fn func(*jackframe.Frame)) (cancel func()) {
	sub := &subscriber{
		frames: make(chan *jackframe.Frame, subscriberQueueLen),
		done:   make(chan struct{}),
	}

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	s.subMu.Unlock()

	go func() {
		defer close(sub.done)
		for f := range sub.frames {
			deliverFrame(fn, f)
		}
	}()

	return func() {
		sub.once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			close(sub.frames)
			s.subMu.Unlock()
			<-sub.done
		})
	}
}

func deliverFrame(fn func(*jackframe.Frame), f *jackframe.Frame) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("subscriber panic on %s: %v", jackframe.FormatCommand(f.Cmd()), r)
		}
	}()
	fn(f)
}

func (s *Session) dispatch(f *jackframe.Frame) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.frames <- f:
		default:
			monitoring.Debugf("subscriber queue full, dropped %s", jackframe.FormatCommand(f.Cmd()))
		}
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/jackstat/pkg/jackframe"
	"github.com/Thermoquad/jackstat/pkg/rig"
	"github.com/Thermoquad/jackstat/pkg/rigsim"
)

// deviceOpener returns an opener that connects to dev over a fresh pipe on
// every call, plus a cancel func that kills the device side of all pipes.
func deviceOpener(t *testing.T, dev *rigsim.Device) (Opener, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return func(context.Context) (Channel, error) {
		return dev.Pipe(ctx), nil
	}, cancel
}

func openSession(t *testing.T, dev *rigsim.Device, opts ...SessionOption) (*Session, context.CancelFunc) {
	t.Helper()
	open, kill := deviceOpener(t, dev)
	s := NewSession(open, opts...)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s, kill
}

func TestSession_RequestAck(t *testing.T) {
	s, _ := openSession(t, rigsim.New(rig.New(), 1))

	payload, err := s.Request(context.Background(), jackframe.CmdGetVersion, nil, time.Second, 0)
	require.NoError(t, err)

	ack, err := jackframe.ParseAck(payload)
	require.NoError(t, err)
	assert.True(t, ack.OK())
	v, err := jackframe.ParseVersion(ack.Data)
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", v.String())
}

func TestSession_SequentialRequestsUseDistinctSeqs(t *testing.T) {
	dev := rigsim.New(rig.New(), 1)
	s, _ := openSession(t, dev)

	for i := 0; i < 3; i++ {
		_, err := s.Request(context.Background(), jackframe.CmdPing, nil, time.Second, 0)
		require.NoError(t, err)
	}
	reqs := dev.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, uint8(1), reqs[0].Seq)
	assert.Equal(t, uint8(2), reqs[1].Seq)
	assert.Equal(t, uint8(3), reqs[2].Seq)
}

func TestSession_TimeoutRetriesWithFreshSeqs(t *testing.T) {
	dev := rigsim.New(rig.New(), 1)
	dev.SetSilent(true)
	s, _ := openSession(t, dev)

	const (
		timeout = 50 * time.Millisecond
		retries = 2
	)
	start := time.Now()
	_, err := s.Request(context.Background(), jackframe.CmdPing, nil, timeout, retries)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.GreaterOrEqual(t, elapsed, (retries+1)*timeout)

	// the device may still be reading the last frame
	require.Eventually(t, func() bool { return len(dev.Requests()) == retries+1 }, time.Second, 5*time.Millisecond)
	seen := map[uint8]bool{}
	for _, r := range dev.Requests() {
		seen[r.Seq] = true
	}
	assert.Len(t, seen, retries+1)

	snap := s.Statistics().Snapshot()
	assert.Equal(t, uint64(retries+1), snap.Timeouts)
	assert.Equal(t, uint64(retries), snap.Retries)
}

func TestSession_CloseWakesPendingRequest(t *testing.T) {
	dev := rigsim.New(rig.New(), 1)
	dev.SetSilent(true)
	s, _ := openSession(t, dev)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Request(context.Background(), jackframe.CmdPing, nil, time.Minute, 0)
		errc <- err
	}()

	require.Eventually(t, func() bool { return len(dev.Requests()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("request still blocked after Close")
	}
	assert.False(t, s.IsOpen())
}

func TestSession_ReadFailureTearsDown(t *testing.T) {
	dev := rigsim.New(rig.New(), 1)
	dev.SetSilent(true)
	s, kill := openSession(t, dev)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Request(context.Background(), jackframe.CmdPing, nil, time.Minute, 0)
		errc <- err
	}()
	require.Eventually(t, func() bool { return len(dev.Requests()) == 1 }, time.Second, 5*time.Millisecond)

	kill()

	select {
	case err := <-errc:
		var linkErr *LinkError
		require.ErrorAs(t, err, &linkErr)
		assert.Equal(t, "read", linkErr.Op)
	case <-time.After(time.Second):
		t.Fatal("request still blocked after link loss")
	}
	assert.Eventually(t, func() bool { return !s.IsOpen() }, time.Second, 5*time.Millisecond)
}

func TestSession_RequestWhenClosed(t *testing.T) {
	s := NewSession(func(context.Context) (Channel, error) { return nil, io.ErrClosedPipe })
	_, err := s.Request(context.Background(), jackframe.CmdPing, nil, time.Second, 3)
	assert.ErrorIs(t, err, ErrNotOpen)

	err = s.Open(context.Background())
	var linkErr *LinkError
	require.ErrorAs(t, err, &linkErr)
	assert.Equal(t, "open", linkErr.Op)
}

func TestSession_ContextCancel(t *testing.T) {
	dev := rigsim.New(rig.New(), 1)
	dev.SetSilent(true)
	s, _ := openSession(t, dev)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := s.Request(ctx, jackframe.CmdPing, nil, time.Minute, 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// failingChannel accepts reads forever and fails every write
type failingChannel struct {
	closed chan struct{}
	once   sync.Once
}

func (f *failingChannel) Read(p []byte) (int, error) {
	<-f.closed
	return 0, io.EOF
}

func (f *failingChannel) Write(p []byte) (int, error) {
	return 0, errors.New("cable unplugged")
}

func (f *failingChannel) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func TestSession_WriteFailureIsLinkError(t *testing.T) {
	ch := &failingChannel{closed: make(chan struct{})}
	s := NewSession(StaticOpener(ch))
	require.NoError(t, s.Open(context.Background()))
	defer s.Close()

	_, err := s.Request(context.Background(), jackframe.CmdPing, nil, time.Second, 2)
	var linkErr *LinkError
	require.ErrorAs(t, err, &linkErr)
	assert.Equal(t, "write", linkErr.Op)
	assert.ErrorContains(t, err, "cable unplugged")
}

func TestSession_SubscribeReceivesPushes(t *testing.T) {
	dev := rigsim.New(rig.New(), 1)
	dev.PushInterval = 10 * time.Millisecond
	s, _ := openSession(t, dev)

	got := make(chan *jackframe.Frame, 16)
	cancel := s.Subscribe(func(f *jackframe.Frame) {
		select {
		case got <- f:
		default:
		}
	})
	defer cancel()

	select {
	case f := <-got:
		assert.True(t, f.IsPush())
		assert.False(t, f.IsAck())
	case <-time.After(2 * time.Second):
		t.Fatal("no push delivered")
	}

	// requests still resolve while pushes flow
	_, err := s.Request(context.Background(), jackframe.CmdPing, nil, time.Second, 0)
	assert.NoError(t, err)
}

func TestSession_SlowObserverDoesNotBlock(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	var calls sync.WaitGroup
	calls.Add(1)
	var first sync.Once
	obs := FrameObserverFunc(func(FrameEvent) {
		first.Do(calls.Done)
		<-block
	})

	s, _ := openSession(t, rigsim.New(rig.New(), 1), WithObserver(obs))
	for i := 0; i < observerQueueSize+10; i++ {
		_, err := s.Request(context.Background(), jackframe.CmdPing, nil, time.Second, 0)
		require.NoError(t, err)
	}
	calls.Wait()

	s.mu.Lock()
	dropped := s.obsq.dropped.Load()
	s.mu.Unlock()
	assert.Positive(t, dropped)
}

func TestSession_PanickingObserverAndSubscriber(t *testing.T) {
	obs := FrameObserverFunc(func(FrameEvent) { panic("observer") })
	dev := rigsim.New(rig.New(), 1)
	dev.PushInterval = 5 * time.Millisecond
	s, _ := openSession(t, dev, WithObserver(obs))

	cancel := s.Subscribe(func(*jackframe.Frame) { panic("subscriber") })
	defer cancel()

	for i := 0; i < 5; i++ {
		_, err := s.Request(context.Background(), jackframe.CmdPing, nil, time.Second, 0)
		require.NoError(t, err)
	}
}

func TestAllocSeq_SkipsZeroAndPending(t *testing.T) {
	s := NewSession(nil)
	s.seq = 254
	s.pending[255] = make(chan result, 1)
	s.pending[1] = make(chan result, 1)

	seq, ok := s.allocSeq()
	require.True(t, ok)
	assert.Equal(t, uint8(2), seq)

	for i := 1; i <= 255; i++ {
		s.pending[uint8(i)] = make(chan result, 1)
	}
	_, ok = s.allocSeq()
	assert.False(t, ok)
}

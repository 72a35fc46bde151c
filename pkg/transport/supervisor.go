// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"sync"
	"time"

	"github.com/Thermoquad/jackstat/pkg/config"
	"github.com/Thermoquad/jackstat/pkg/jackframe"
	"github.com/Thermoquad/jackstat/pkg/monitoring"
)

// State is the link state reported by the Supervisor
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

const readyPollInterval = 20 * time.Millisecond

// Supervisor keeps a Session connected: it reopens the channel while it is
// closed and pings the device to detect a dead link.
type Supervisor struct {
	session *Session
	link    config.Link

	mu        sync.Mutex
	state     State
	listeners []func(from, to State)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor creates a stopped supervisor for session
func NewSupervisor(session *Session, link config.Link) *Supervisor {
	return &Supervisor{
		session: session,
		link:    link,
		state:   StateDisconnected,
	}
}

// Session returns the supervised session
func (s *Supervisor) Session() *Session {
	return s.session
}

// State returns the current link state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers fn for every state transition. fn is called
// synchronously from the supervisor goroutines and must not block.
func (s *Supervisor) OnStateChange(fn func(from, to State)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Supervisor) setState(next State) {
	s.mu.Lock()
	prev := s.state
	if prev == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	listeners := append([]func(from, to State){}, s.listeners...)
	s.mu.Unlock()

	monitoring.Logf("link state %s => %s", prev, next)
	for _, fn := range listeners {
		fn(prev, next)
	}
}

// Start makes a first connection attempt and launches the reconnect and
// heartbeat duties. It returns immediately.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()

	s.connect(ctx)

	s.wg.Add(2)
	go s.reconnectLoop(ctx)
	go s.heartbeatLoop(ctx)
}

// Stop stops both duties, closes the session and fails every outstanding
// request with ErrSessionClosed.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	s.wg.Wait()
	if err := s.session.Close(); err != nil {
		monitoring.Debugf("close on stop: %v", err)
	}
	s.setState(StateDisconnected)
}

// WaitReady polls the state until it is Ready, the timeout elapses or ctx
// is cancelled.
func (s *Supervisor) WaitReady(ctx context.Context, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(readyPollInterval)
	defer tick.Stop()

	for {
		if s.State() == StateReady {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return s.State() == StateReady
		case <-tick.C:
		}
	}
}

// connect opens the session. Success is tentative; the heartbeat confirms it.
func (s *Supervisor) connect(ctx context.Context) {
	s.setState(StateConnecting)
	if err := s.session.Open(ctx); err != nil {
		monitoring.Logf("connect failed: %v", err)
		s.setState(StateError)
		return
	}
	s.setState(StateReady)
}

func (s *Supervisor) reconnectLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.link.ReconnectInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.session.IsOpen() {
			continue
		}
		if s.State() == StateReady {
			// the reader tore the session down
			s.setState(StateDisconnected)
		}
		s.connect(ctx)
	}
}

func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.link.HeartbeatInterval.Std())
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.session.IsOpen() {
			misses = 0
			continue
		}

		_, err := s.session.Request(ctx, jackframe.CmdPing, nil, s.link.HeartbeatTimeout.Std(), 0)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			misses = 0
			s.setState(StateReady)
			continue
		}

		misses++
		monitoring.Debugf("heartbeat miss %d/%d: %v", misses, s.link.MaxMisses, err)
		if misses < s.link.MaxMisses {
			s.setState(StateError)
			continue
		}
		misses = 0
		s.setState(StateDisconnected)
		if err := s.session.Close(); err != nil {
			monitoring.Debugf("close after heartbeat loss: %v", err)
		}
	}
}

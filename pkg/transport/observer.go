// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/jackstat/pkg/jackframe"
	"github.com/Thermoquad/jackstat/pkg/monitoring"
)

// Direction of an observed frame
type Direction int

const (
	TX Direction = iota
	RX
)

func (d Direction) String() string {
	if d == TX {
		return "TX"
	}
	return "RX"
}

// FrameEvent is one transmitted or received frame
type FrameEvent struct {
	Dir  Direction
	Raw  []byte
	Time time.Time
}

// FrameObserver receives every frame the session sends or decodes.
type FrameObserver interface {
	ObserveFrame(FrameEvent)
}

// FrameObserverFunc adapts a function to FrameObserver
type FrameObserverFunc func(FrameEvent)

// ObserveFrame calls f
func (f FrameObserverFunc) ObserveFrame(e FrameEvent) { f(e) }

// LogObserver writes TX/RX hex dumps at debug level.
type LogObserver struct{}

// ObserveFrame logs one frame
func (LogObserver) ObserveFrame(e FrameEvent) {
	if !monitoring.DebugEnabled() {
		return
	}
	name := "?"
	if len(e.Raw) > jackframe.HeaderSize {
		name = jackframe.FormatCommand(e.Raw[jackframe.HeaderSize])
	}
	monitoring.Debugf("%s %-18s %s", e.Dir, name, jackframe.HexDump(e.Raw))
}

const observerQueueSize = 256

// observerQueue hands events to an observer on its own goroutine. When the
// queue is full events are dropped and counted.
type observerQueue struct {
	events  chan FrameEvent
	dropped atomic.Uint64
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newObserverQueue(obs FrameObserver) *observerQueue {
	q := &observerQueue{
		events: make(chan FrameEvent, observerQueueSize),
		done:   make(chan struct{}),
	}
	go q.run(obs)
	return q
}

func (q *observerQueue) run(obs FrameObserver) {
	defer close(q.done)
	for e := range q.events {
		q.deliver(obs, e)
	}
}

func (q *observerQueue) deliver(obs FrameObserver, e FrameEvent) {
	defer func() {
		if r := recover(); r != nil {
			q.dropped.Add(1)
			monitoring.Logf("frame observer panic: %v", r)
		}
	}()
	obs.ObserveFrame(e)
}

func (q *observerQueue) push(dir Direction, raw []byte) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.events <- FrameEvent{Dir: dir, Raw: raw, Time: time.Now()}:
	default:
		q.dropped.Add(1)
	}
}

func (q *observerQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.events)
	q.mu.Unlock()
	<-q.done
}

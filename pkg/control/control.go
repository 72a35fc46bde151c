// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package control runs the closed descent loop: every tick it refreshes
// telemetry, estimates the rig's center, plans bounded per-leg motion and
// dispatches it to the actuator driver.
package control

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Thermoquad/jackstat/pkg/config"
	"github.com/Thermoquad/jackstat/pkg/driver"
	"github.com/Thermoquad/jackstat/pkg/estimator"
	"github.com/Thermoquad/jackstat/pkg/monitoring"
	"github.com/Thermoquad/jackstat/pkg/rig"
	"github.com/Thermoquad/jackstat/pkg/sensor"
)

// MinPeriod is the shortest accepted tick period
const MinPeriod = 30 * time.Millisecond

var ErrAlreadyRunning = errors.New("control loop already running")

// State is the controller lifecycle state
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateEmergencyStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateEmergencyStopped:
		return "EMERGENCY_STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Update describes one tick to a Notifier
type Update struct {
	Tick          uint64
	Time          time.Time
	State         State
	Status        string
	TargetCenterZ float64
	Estimate      estimator.State
	Commands      []rig.MotionCommand
	Err           error // dispatch failure, if any
}

// Notifier receives every tick's outcome. Notify runs on the control
// goroutine and should return quickly.
type Notifier interface {
	Notify(Update)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(Update)

func (f NotifierFunc) Notify(u Update) { f(u) }

// Option configures a Controller
type Option func(*Controller)

// WithNotifier adds a tick observer
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifiers = append(c.notifiers, n) }
}

// WithRand sets the source of the pair x jitter
func WithRand(rng *rand.Rand) Option {
	return func(c *Controller) { c.rng = rng }
}

// Controller runs the descent loop over a rig
type Controller struct {
	rig       *rig.Rig
	est       *estimator.Estimator
	sensor    sensor.Sensor
	driver    driver.Driver
	notifiers []Notifier
	rng       *rand.Rand
	plan      *planner
	target    float64
	tolerance float64
	stableMax int

	emergency atomic.Bool

	tickMu     sync.Mutex // serializes ticks
	dispatchMu sync.Mutex // held across the emergency check and Dispatch

	mu            sync.Mutex // guards everything below
	state         State
	period        time.Duration
	rate          float64
	maxStep       float64
	stable        int
	ticks         uint64
	targetCenterZ float64
	running       bool
	stop          chan struct{}
	done          chan struct{}
}

// New creates an idle controller. The rig's current leg positions become
// the reference pair geometry. s may be nil.
func New(r *rig.Rig, est *estimator.Estimator, s sensor.Sensor, d driver.Driver, cfg config.Planner, opts ...Option) *Controller {
	c := &Controller{
		rig:       r,
		est:       est,
		sensor:    s,
		driver:    d,
		target:    cfg.TargetDepthMM,
		tolerance: cfg.ToleranceMM,
		stableMax: cfg.StableTicks,
		period:    cfg.Period.Std(),
		rate:      cfg.DescentRate,
		maxStep:   cfg.MaxSingleStepMM,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	legs := r.Snapshot()
	c.plan = newPlanner(cfg, legs, c.rng)
	var zs []float64
	for _, id := range rig.CenterLegIDs {
		zs = append(zs, legs[id-1].Z)
	}
	c.targetCenterZ = stat.Mean(zs, nil)
	return c
}

// State returns the lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TargetCenterZ returns the most recent planned center elevation
func (c *Controller) TargetCenterZ() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetCenterZ
}

// Params returns the tick period, descent rate (mm/s) and max single step
// (mm) in use.
func (c *Controller) Params() (time.Duration, float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.period, c.rate, c.maxStep
}

// UpdateParams changes the loop parameters while running and restarts
// completion detection.
func (c *Controller) UpdateParams(period time.Duration, rate, maxStep float64) {
	c.mu.Lock()
	c.period = max(period, MinPeriod)
	c.rate = math.Max(0, rate)
	c.maxStep = math.Max(0, maxStep)
	c.stable = 0
	c.mu.Unlock()
	monitoring.Logf("control params: period %s, rate %.1f mm/s, max step %.2f mm", period, rate, maxStep)
}

// Start arms the driver toward the target depth and launches the tick
// loop. After an emergency stop it clears the stop and resumes the
// existing loop; otherwise a running loop yields ErrAlreadyRunning. A
// driver that fails to arm leaves the controller as it was.
func (c *Controller) Start(period time.Duration, rate float64) error {
	c.mu.Lock()
	busy := c.running && !c.emergency.Load()
	c.mu.Unlock()
	if busy {
		return ErrAlreadyRunning
	}

	if err := c.driver.Arm(c.target); err != nil {
		return fmt.Errorf("arm driver: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running && !c.emergency.Load() {
		return ErrAlreadyRunning
	}
	c.period = max(period, MinPeriod)
	c.rate = math.Max(0, rate)
	c.stable = 0
	c.state = StateRunning
	c.emergency.Store(false)

	if c.running {
		monitoring.Logf("control loop resumed")
		return nil
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(c.stop, c.done)
	monitoring.Logf("control loop started, period %s", c.period)
	return nil
}

// Stop ends the tick loop, waits for it and returns to Idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	c.mu.Lock()
	c.running = false
	c.state = StateIdle
	c.mu.Unlock()
	monitoring.Logf("control loop stopped")
}

// Done returns a channel closed when the current loop exits, or nil when
// no loop was started.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// EmergencyStop halts planning from the next tick on and commands the
// driver to stop all motion. A dispatch already in flight finishes before
// StopAll is sent, and no later tick dispatches. Start recovers.
func (c *Controller) EmergencyStop() {
	c.emergency.Store(true)
	c.mu.Lock()
	c.state = StateEmergencyStopped
	c.mu.Unlock()

	monitoring.Logf("EMERGENCY STOP: halting all motion")
	c.dispatchMu.Lock()
	err := c.driver.StopAll()
	c.dispatchMu.Unlock()
	if err != nil {
		monitoring.Logf("emergency stop: driver: %v", err)
	}
	c.notify(Update{Time: time.Now(), State: StateEmergencyStopped, Status: "emergency stop"})
}

func (c *Controller) loop(stop, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	var last time.Time
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		period, _, _ := c.Params()
		now := time.Now()
		dt := period
		if !last.IsZero() {
			dt = max(now.Sub(last), time.Millisecond)
		}
		last = now

		if u := c.Tick(dt); u.State == StateCompleted {
			c.mu.Lock()
			c.running = false
			c.stop = nil
			c.mu.Unlock()
			return
		}
		timer.Reset(period)
	}
}

// Tick runs one control step for an elapsed time of dt. Failures are
// logged and reported in the returned Update; they never stop the loop.
func (c *Controller) Tick(dt time.Duration) Update {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	if c.emergency.Load() {
		monitoring.Debugf("tick skipped: emergency stop")
		return Update{Time: time.Now(), State: StateEmergencyStopped, Status: "emergency stop"}
	}

	c.mu.Lock()
	c.ticks++
	u := Update{Tick: c.ticks, Time: time.Now(), State: c.state}
	rate, maxStep := c.rate, c.maxStep
	c.mu.Unlock()

	if c.sensor != nil {
		if err := c.sensor.RefreshOnce(); err != nil {
			monitoring.Logf("tick %d: sensor refresh: %v", u.Tick, err)
		}
	}

	legs := c.rig.Snapshot()
	var forces estimator.ForceSource
	if c.sensor != nil {
		forces = c.sensor
	}
	st := c.est.Estimate(legs, forces)
	u.Estimate = st
	monitoring.Debugf("center X=%.2f Y=%.2f Z=%.2f", st.CenterX, st.CenterY, st.CenterZ)

	if c.checkCompletion(st) {
		monitoring.Logf("descent complete: center z %.1f mm at target %.1f mm", st.CenterZ, c.target)
		c.mu.Lock()
		c.state = StateCompleted
		c.mu.Unlock()
		if err := c.driver.StopAll(); err != nil {
			monitoring.Logf("stop after completion: %v", err)
			u.Err = err
		}
		u.State = StateCompleted
		u.Status = "completed"
		u.TargetCenterZ = c.TargetCenterZ()
		c.notify(u)
		return u
	}

	planned := math.Max(0, math.Min(rate*dt.Seconds(), maxStep))
	targetZ := math.Max(0, st.CenterZ-planned)
	c.mu.Lock()
	c.targetCenterZ = targetZ
	c.mu.Unlock()

	dz := c.plan.planDZ(st, planned, maxStep)
	dx, dy := c.plan.planDXY(st, legs)

	cmds := make([]rig.MotionCommand, 0, len(legs))
	for _, l := range legs {
		i := l.ID - 1
		cmds = append(cmds, rig.MotionCommand{ID: l.ID, DZ: dz[i], DX: dx[i], DY: dy[i]})
	}
	c.dispatchMu.Lock()
	if c.emergency.Load() {
		c.dispatchMu.Unlock()
		monitoring.Debugf("tick %d: dispatch skipped: emergency stop", u.Tick)
		return Update{Tick: u.Tick, Time: time.Now(), State: StateEmergencyStopped, Status: "emergency stop"}
	}
	err := driver.Dispatch(c.driver, cmds)
	c.dispatchMu.Unlock()

	u.Commands = cmds
	if err != nil {
		monitoring.Logf("tick %d: dispatch: %v", u.Tick, err)
		u.Err = err
	}

	u.TargetCenterZ = targetZ
	u.Status = fmt.Sprintf("target center z %.0f mm", targetZ)
	c.notify(u)
	return u
}

// checkCompletion counts consecutive ticks at the target depth with level
// corners.
func (c *Controller) checkCompletion(st estimator.State) bool {
	atDepth := math.Abs(st.CenterZ-c.target) <= c.tolerance
	level := st.MaxCornerDeviation() <= c.tolerance

	c.mu.Lock()
	defer c.mu.Unlock()
	if atDepth && level {
		c.stable++
		monitoring.Debugf("completion hold %d/%d", c.stable, c.stableMax)
	} else {
		c.stable = 0
	}
	return c.stable >= c.stableMax
}

func (c *Controller) notify(u Update) {
	for _, n := range c.notifiers {
		n.Notify(u)
	}
}

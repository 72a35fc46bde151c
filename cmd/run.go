// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/jackstat/pkg/config"
	"github.com/Thermoquad/jackstat/pkg/control"
	"github.com/Thermoquad/jackstat/pkg/driver"
	"github.com/Thermoquad/jackstat/pkg/estimator"
	"github.com/Thermoquad/jackstat/pkg/jackframe"
	"github.com/Thermoquad/jackstat/pkg/monitoring"
	"github.com/Thermoquad/jackstat/pkg/recorder"
	"github.com/Thermoquad/jackstat/pkg/rig"
	"github.com/Thermoquad/jackstat/pkg/sensor"
	"github.com/Thermoquad/jackstat/pkg/transport"
)

var (
	runDriverMode   string
	runSensorMode   string
	runSensorPort   string
	runSensorBaud   int
	runLegPorts     string
	runPeriod       time.Duration
	runRate         float64
	runMaxStep      float64
	runTarget       float64
	runRecord       string
	runTUI          bool
	runRandomLayout bool
	runSeed         int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the closed-loop descent controller",
	Long: `Lower the rig toward the target depth while keeping it level.

Each tick the controller refreshes the sensor, estimates the rig center and
attitude, plans a bounded per-leg motion and dispatches it to the driver.
The loop stops once the center has stayed within tolerance of the target for
the configured number of consecutive ticks.

Drivers:
  mock    simulated actuators moving the in-memory rig (default)
  serial  one actuator controller on --port or --url
  multi   one controller per leg group, mapped with --leg-ports

Sensors:
  mock    noisy readings of the in-memory rig (default)
  serial  text telemetry on --sensor-port
  frames  leg-state pushes on the serial driver's link

Ctrl+C stops the loop and commands all legs to stop. With --tui, 'e' is an
emergency stop and 's' resumes.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runDriverMode, "driver", driver.ModeMock, "Driver: mock, serial or multi")
	runCmd.Flags().StringVar(&runSensorMode, "sensor", sensor.ModeMock, "Sensor: mock, serial or frames")
	runCmd.Flags().StringVar(&runSensorPort, "sensor-port", "", "Serial port of the text telemetry sensor")
	runCmd.Flags().IntVar(&runSensorBaud, "sensor-baud", 115200, "Baud rate of the sensor port")
	runCmd.Flags().StringVar(&runLegPorts, "leg-ports", "", "Leg to port mapping for the multi driver (1=/dev/ttyUSB0,2=...)")
	runCmd.Flags().DurationVar(&runPeriod, "period", 0, "Tick period (default from tuning)")
	runCmd.Flags().Float64Var(&runRate, "rate", 0, "Descent rate in mm/s (default from tuning)")
	runCmd.Flags().Float64Var(&runMaxStep, "max-step", 0, "Largest descent per tick in mm (default from tuning)")
	runCmd.Flags().Float64Var(&runTarget, "target", 0, "Target center depth in mm (default from tuning)")
	runCmd.Flags().StringVar(&runRecord, "record", "", "Record every tick to a CBOR file")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the live rig monitor")
	runCmd.Flags().BoolVar(&runRandomLayout, "random-layout", false, "Start the simulated rig from a random leg layout")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "Seed for the simulated rig (0 picks one)")
}

// plannerTuning applies the run flags on top of the loaded tuning.
func plannerTuning(cmd *cobra.Command) (config.Planner, error) {
	p := tuning.Planner
	if cmd.Flags().Changed("period") {
		p.Period = config.Duration(runPeriod)
	}
	if cmd.Flags().Changed("rate") {
		p.DescentRate = runRate
	}
	if cmd.Flags().Changed("max-step") {
		p.MaxSingleStepMM = runMaxStep
	}
	if cmd.Flags().Changed("target") {
		p.TargetDepthMM = runTarget
	}

	check := tuning
	check.Planner = p
	if err := check.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// rigSession holds the assembled run so it can be torn down in one place.
type rigSession struct {
	rig      *rig.Rig
	driver   driver.Driver
	sensor   sensor.Sensor
	ctrl     *control.Controller
	stats    *jackframe.Statistics
	link     *transport.Supervisor
	recorder *recorder.Recorder
	planner  config.Planner
	info     string
}

func (s *rigSession) Close() {
	if s.ctrl != nil {
		s.ctrl.Stop()
	}
	if err := s.driver.StopAll(); err != nil {
		monitoring.Logf("stop all: %v", err)
	}
	if s.sensor != nil {
		if err := s.sensor.Close(); err != nil {
			monitoring.Logf("sensor close: %v", err)
		}
	}
	if err := s.driver.Disconnect(); err != nil {
		monitoring.Logf("disconnect: %v", err)
	}
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			monitoring.Logf("recording: %v", err)
		}
		monitoring.Logf("recorded %d ticks of run %s to %s", s.recorder.Records(), s.recorder.RunID(), runRecord)
	}
}

func buildRig(cmd *cobra.Command, notifiers ...control.Notifier) (*rigSession, error) {
	planner, err := plannerTuning(cmd)
	if err != nil {
		return nil, err
	}

	seed := runSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	r := rig.New()
	layout := rig.DefaultLayout()
	if runRandomLayout {
		layout = rig.RandomLayout(rng)
	}
	r.Reset(layout, rng)

	s := &rigSession{rig: r, planner: planner, stats: jackframe.NewStatistics()}

	legPorts, err := driver.ParseLegPorts(runLegPorts)
	if err != nil {
		return nil, err
	}
	endpoint := wsURL
	if endpoint == "" {
		endpoint = portName
	}
	opts := append(sessionOptions(), transport.WithStatistics(s.stats))
	s.driver, err = driver.Build(driver.Options{
		Mode:           runDriverMode,
		Rig:            r,
		Link:           tuning.Link,
		Port:           endpoint,
		LegPorts:       legPorts,
		OpenPort:       endpointOpener,
		SessionOptions: opts,
	})
	if err != nil {
		return nil, err
	}
	s.info = describeDriver(s.driver, endpoint, legPorts)

	if err := s.driver.Connect(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", s.info, err)
	}
	if sd, ok := s.driver.(*driver.SerialDriver); ok {
		s.link = sd.Supervisor()
	}

	sensorOpts := sensor.Options{
		Mode: runSensorMode,
		Rig:  r,
		Seed: seed,
		Port: runSensorPort,
		Open: func(name string) (io.ReadWriteCloser, error) {
			return OpenSerialConnection(name, config.PortOptions{BaudRate: runSensorBaud})
		},
	}
	if s.link != nil {
		sensorOpts.Session = s.link.Session()
	}
	s.sensor, err = sensor.Build(sensorOpts)
	if err != nil {
		s.driver.Disconnect()
		return nil, err
	}

	var ctrlOpts []control.Option
	ctrlOpts = append(ctrlOpts, control.WithRand(rng))
	if runRecord != "" {
		s.recorder, err = recorder.Create(runRecord)
		if err != nil {
			s.sensor.Close()
			s.driver.Disconnect()
			return nil, err
		}
		ctrlOpts = append(ctrlOpts, control.WithNotifier(s.recorder))
	}
	for _, n := range notifiers {
		ctrlOpts = append(ctrlOpts, control.WithNotifier(n))
	}

	est := estimator.New(tuning.Estimator)
	s.ctrl = control.New(r, est, s.sensor, s.driver, planner, ctrlOpts...)
	return s, nil
}

func describeDriver(d driver.Driver, endpoint string, legPorts map[int]string) string {
	switch d.(type) {
	case *driver.SerialDriver:
		return "serial driver on " + endpoint
	case *driver.MultiPortDriver:
		return "multi-port driver " + driver.FormatLegPorts(legPorts)
	default:
		return "simulated driver"
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	if runTUI {
		return runMonitor(cmd)
	}

	s, err := buildRig(cmd, control.NotifierFunc(printTick))
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Jackstat - Descent Run\n")
	fmt.Printf("Driver: %s\n", s.info)
	fmt.Printf("Target: %.1f mm (tolerance %.1f mm, %d stable ticks)\n",
		s.planner.TargetDepthMM, s.planner.ToleranceMM, s.planner.StableTicks)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.ctrl.Start(s.planner.Period.Std(), s.planner.DescentRate); err != nil {
		return err
	}

	select {
	case <-s.ctrl.Done():
		if s.ctrl.State() != control.StateCompleted {
			return errors.New("control loop ended before completion")
		}
		fmt.Printf("\nTarget reached: center z %.1f mm\n", s.ctrl.TargetCenterZ())
	case <-ctx.Done():
		fmt.Printf("\nInterrupted, stopping all legs\n")
	}
	if s.link != nil {
		fmt.Print(s.stats.String())
	}
	return nil
}

// printTick writes one status line per tick
func printTick(u control.Update) {
	timestamp := u.Time.Format("15:04:05.000")
	if u.State == control.StateEmergencyStopped {
		fmt.Printf("[%s] \033[1;31mEMERGENCY STOP\033[0m\n", timestamp)
		return
	}
	est := u.Estimate
	line := fmt.Sprintf("[%s] #%-4d %-9s center z=%7.1f target=%7.1f corner=%5.1f force=%5.1f",
		timestamp, u.Tick, u.State, est.CenterZ, u.TargetCenterZ, est.MaxCornerDeviation(), est.MeanForce())
	if est.ForceAbnormal {
		line += " \033[1;33mFORCE\033[0m"
	}
	if est.Degraded {
		line += " \033[1;33mDEGRADED\033[0m"
	}
	if u.Err != nil {
		line += fmt.Sprintf(" \033[1;31m%v\033[0m", u.Err)
	}
	fmt.Println(line)
}

// runMonitor runs the descent under the terminal monitor.
func runMonitor(cmd *cobra.Command) error {
	updates := make(chan control.Update, 64)
	forward := control.NotifierFunc(func(u control.Update) {
		select {
		case updates <- u:
		default:
		}
	})

	// keep the log off the terminal the monitor draws on
	if logFile == "" {
		monitoring.SetOutput(io.Discard)
	}

	s, err := buildRig(cmd, forward)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.ctrl.Start(s.planner.Period.Std(), s.planner.DescentRate); err != nil {
		return err
	}

	p := tea.NewProgram(newMonitorModel(s, updates), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

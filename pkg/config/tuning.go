// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config holds the immutable tuning parameters of the rig
// supervisor and their YAML file representation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration is a time.Duration that reads and writes YAML strings like
// "500ms".
type Duration time.Duration

// UnmarshalYAML parses a duration string
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Estimator tunes the geometric estimator
type Estimator struct {
	Alpha              float64 `yaml:"alpha"`                // EMA weight of the newest sample
	OutlierThresholdMM float64 `yaml:"outlier_threshold_mm"` // center leg z outlier distance
	AttitudeLimitMM    float64 `yaml:"attitude_limit_mm"`    // corner deviation limit
	ForceMinN          float64 `yaml:"force_min_n"`
	ForceMaxN          float64 `yaml:"force_max_n"`
}

// Planner tunes the motion planner and control loop
type Planner struct {
	Period          Duration `yaml:"period"`
	DescentRate     float64  `yaml:"descent_rate_mm_s"`
	MaxSingleStepMM float64  `yaml:"max_single_step_mm"`
	MaxStepZMM      float64  `yaml:"max_step_z_mm"`
	MaxStepXYMM     float64  `yaml:"max_step_xy_mm"`
	LevelingGain    float64  `yaml:"leveling_gain"`
	CenterGainXY    float64  `yaml:"center_gain_xy"`
	BandShiftGain   float64  `yaml:"band_shift_gain"`
	PairXJitterMM   float64  `yaml:"pair_x_jitter_mm"`
	TargetDepthMM   float64  `yaml:"target_depth_mm"`
	ToleranceMM     float64  `yaml:"tolerance_mm"`
	StableTicks     int      `yaml:"stable_ticks"`
}

// Link tunes the transport session and link supervisor
type Link struct {
	RequestTimeout    Duration    `yaml:"request_timeout"`
	Retries           int         `yaml:"retries"`
	HeartbeatInterval Duration    `yaml:"heartbeat_interval"`
	HeartbeatTimeout  Duration    `yaml:"heartbeat_timeout"`
	ReconnectInterval Duration    `yaml:"reconnect_interval"`
	MaxMisses         int         `yaml:"max_misses"`
	ReadyTimeout      Duration    `yaml:"ready_timeout"`
	Port              PortOptions `yaml:"port"`
}

// Tuning is the root configuration. It is passed by value at construction
// and never mutated by the components that receive it.
type Tuning struct {
	Estimator Estimator `yaml:"estimator"`
	Planner   Planner   `yaml:"planner"`
	Link      Link      `yaml:"link"`
}

// Default returns the built-in tuning
func Default() Tuning {
	return Tuning{
		Estimator: Estimator{
			Alpha:              0.35,
			OutlierThresholdMM: 30,
			AttitudeLimitMM:    20,
			ForceMinN:          80,
			ForceMaxN:          120,
		},
		Planner: Planner{
			Period:          Duration(500 * time.Millisecond),
			DescentRate:     10,
			MaxSingleStepMM: 5,
			MaxStepZMM:      10,
			MaxStepXYMM:     5,
			LevelingGain:    0.4,
			CenterGainXY:    0.2,
			BandShiftGain:   0.05,
			PairXJitterMM:   1.0,
			TargetDepthMM:   0,
			ToleranceMM:     2,
			StableTicks:     5,
		},
		Link: Link{
			RequestTimeout:    Duration(500 * time.Millisecond),
			Retries:           2,
			HeartbeatInterval: Duration(time.Second),
			HeartbeatTimeout:  Duration(300 * time.Millisecond),
			ReconnectInterval: Duration(2 * time.Second),
			MaxMisses:         3,
			ReadyTimeout:      Duration(2 * time.Second),
			Port:              PortOptions{BaudRate: 115200},
		},
	}
}

// Load reads a YAML tuning file. Fields omitted from the file keep their
// default values, so partial files are safe.
func Load(path string) (Tuning, error) {
	cfg := Default()

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return cfg, fmt.Errorf("config file must have .yaml or .yml extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the tuning as YAML
func (t Tuning) Save(path string) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration values are usable.
func (t Tuning) Validate() error {
	e := t.Estimator
	if e.Alpha <= 0 || e.Alpha > 1 {
		return fmt.Errorf("estimator.alpha must be in (0, 1], got %g", e.Alpha)
	}
	if e.OutlierThresholdMM <= 0 {
		return fmt.Errorf("estimator.outlier_threshold_mm must be positive, got %g", e.OutlierThresholdMM)
	}
	if e.AttitudeLimitMM <= 0 {
		return fmt.Errorf("estimator.attitude_limit_mm must be positive, got %g", e.AttitudeLimitMM)
	}
	if e.ForceMinN > e.ForceMaxN {
		return fmt.Errorf("estimator.force_min_n (%g) exceeds force_max_n (%g)", e.ForceMinN, e.ForceMaxN)
	}

	p := t.Planner
	if p.Period <= 0 {
		return fmt.Errorf("planner.period must be positive, got %s", p.Period.Std())
	}
	if p.DescentRate < 0 {
		return fmt.Errorf("planner.descent_rate_mm_s must be non-negative, got %g", p.DescentRate)
	}
	if p.MaxSingleStepMM < 0 || p.MaxStepZMM <= 0 || p.MaxStepXYMM < 0 {
		return fmt.Errorf("planner step limits must be non-negative (max_step_z_mm positive)")
	}
	if p.ToleranceMM < 0 {
		return fmt.Errorf("planner.tolerance_mm must be non-negative, got %g", p.ToleranceMM)
	}
	if p.StableTicks < 1 {
		return fmt.Errorf("planner.stable_ticks must be at least 1, got %d", p.StableTicks)
	}

	l := t.Link
	if l.RequestTimeout <= 0 || l.HeartbeatTimeout <= 0 {
		return fmt.Errorf("link timeouts must be positive")
	}
	if l.HeartbeatInterval <= 0 || l.ReconnectInterval <= 0 {
		return fmt.Errorf("link intervals must be positive")
	}
	if l.Retries < 0 {
		return fmt.Errorf("link.retries must be non-negative, got %d", l.Retries)
	}
	if l.MaxMisses < 1 {
		return fmt.Errorf("link.max_misses must be at least 1, got %d", l.MaxMisses)
	}
	if _, err := l.Port.Normalize(); err != nil {
		return fmt.Errorf("link.port: %w", err)
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package recorder

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/jackstat/pkg/config"
	"github.com/Thermoquad/jackstat/pkg/control"
	"github.com/Thermoquad/jackstat/pkg/driver"
	"github.com/Thermoquad/jackstat/pkg/estimator"
	"github.com/Thermoquad/jackstat/pkg/rig"
)

func TestRecorder_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec := New(&buf)
	_, err := uuid.Parse(rec.RunID().String())
	require.NoError(t, err)

	now := time.UnixMilli(1_700_000_000_123)
	rec.Notify(control.Update{
		Tick:          3,
		Time:          now,
		State:         control.StateRunning,
		Status:        "target center z 595 mm",
		TargetCenterZ: 595,
		Estimate: estimator.State{
			CenterX:       1.5,
			CenterZ:       600,
			CornerDZ:      map[int]float64{1: 0.5, 12: -2},
			ForceAbnormal: true,
		},
		Commands: []rig.MotionCommand{{ID: 1, DZ: 5, DX: -1}, {ID: 2, DZ: 5}},
		Err:      errors.New("leg 2 rejected"),
	})
	rec.Notify(control.Update{Tick: 4, Time: now, State: control.StateCompleted, Status: "completed"})
	require.NoError(t, rec.Close())
	assert.Equal(t, uint64(2), rec.Records())

	got, err := ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, rec.RunID().String(), first.RunID)
	assert.Equal(t, uint64(3), first.Tick)
	assert.True(t, now.Equal(first.Time()))
	assert.Equal(t, "RUNNING", first.State)
	assert.Equal(t, 595.0, first.TargetCenterZ)
	assert.Equal(t, 600.0, first.CenterZ)
	assert.Equal(t, map[int]float64{1: 0.5, 12: -2}, first.CornerDZ)
	assert.True(t, first.ForceAbnormal)
	assert.Equal(t, []Command{{ID: 1, DZ: 5, DX: -1}, {ID: 2, DZ: 5}}, first.Commands)
	assert.Equal(t, "leg 2 rejected", first.Err)

	assert.Equal(t, "COMPLETED", got[1].State)
	assert.Empty(t, got[1].Commands)
}

type brokenWriter struct{ writes int }

func (b *brokenWriter) Write([]byte) (int, error) {
	b.writes++
	return 0, errors.New("disk full")
}

func TestRecorder_WriteFailureStopsQuietly(t *testing.T) {
	w := &brokenWriter{}
	rec := New(w)
	for i := 0; i < 3; i++ {
		rec.Notify(control.Update{Tick: uint64(i + 1)})
	}
	assert.Zero(t, rec.Records())
	assert.Equal(t, 1, w.writes)
}

func TestReadAll_Truncated(t *testing.T) {
	var buf bytes.Buffer
	rec := New(&buf)
	rec.Notify(control.Update{Tick: 1})
	rec.Notify(control.Update{Tick: 2})
	require.NoError(t, rec.Close())

	data := buf.Bytes()
	got, err := ReadAll(bytes.NewReader(data[:len(data)-3]))
	assert.Error(t, err)
	assert.Len(t, got, 1)
}

func TestRecorder_RecordsControllerRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.cbor")
	rec, err := Create(path)
	require.NoError(t, err)

	r := rig.New()
	r.ApplyLayout(rig.DefaultLayout())
	sim := driver.NewSimDriver(r)
	require.NoError(t, sim.Connect())
	tuning := config.Default()
	c := control.New(r, estimator.New(tuning.Estimator), nil, sim, tuning.Planner,
		control.WithNotifier(rec), control.WithRand(rand.New(rand.NewSource(1))))

	for i := 0; i < 3; i++ {
		c.Tick(500 * time.Millisecond)
	}
	require.NoError(t, rec.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err := ReadAll(f)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, uint64(i+1), r.Tick)
		assert.Equal(t, rec.RunID().String(), r.RunID)
		assert.Len(t, r.Commands, rig.LegCount)
	}
	assert.Less(t, got[2].TargetCenterZ, got[0].TargetCenterZ)
}

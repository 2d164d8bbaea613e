package movement_test

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psptrack/psptrack/internal/movement"
)

func TestSimulator_WalkersAreIndependent(t *testing.T) {
	m := newTestModel(t)
	now := time.UnixMilli(1_700_000_000_000)

	sim := movement.NewSimulator(movement.SimulatorConfig{
		Model: m,
		Rand:  rand.New(rand.NewPCG(1, 2)),
		Now:   func() time.Time { return now },
	})
	ctx := context.Background()

	p, err := sim.Position(ctx, "0004a30b001c42ef")
	require.NoError(t, err)
	assert.Equal(t, now, p.Timestamp)
	assert.InDelta(t, movement.DefaultStart.Latitude, p.Latitude, 0.01)

	st, ok := sim.State("0004a30b001c42ef")
	require.True(t, ok)
	assert.Equal(t, "WALK", st.Name)
	assert.Equal(t, 9, st.Streak)

	_, ok = sim.State("0004a30b001c42f0")
	assert.False(t, ok)

	_, err = sim.Position(ctx, "0004a30b001c42f0")
	require.NoError(t, err)
	st2, ok := sim.State("0004a30b001c42f0")
	require.True(t, ok)
	assert.Equal(t, 9, st2.Streak)
}

func TestSimulator_CustomStart(t *testing.T) {
	start := movement.Point{Latitude: 52.37, Longitude: 4.89}
	sim := movement.NewSimulator(movement.SimulatorConfig{
		Model:        newTestModel(t),
		Start:        &start,
		InitialState: "REST",
	})

	p, err := sim.Position(context.Background(), "0004a30b001c42ef")
	require.NoError(t, err)
	assert.Equal(t, start.Latitude, p.Latitude)
	assert.Equal(t, start.Longitude, p.Longitude)
}

func TestSimulator_CancelledContext(t *testing.T) {
	sim := movement.NewSimulator(movement.SimulatorConfig{Model: newTestModel(t)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.Position(ctx, "0004a30b001c42ef")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulator_VerifyAcceptsAll(t *testing.T) {
	sim := movement.NewSimulator(movement.SimulatorConfig{Model: newTestModel(t)})
	assert.NoError(t, sim.Verify(context.Background(), "0004a30b001c42ef"))
	assert.Equal(t, "simulator", sim.Name())
}

func TestLoadStates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movement.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"name": "CRAWL", "speed": 1, "minProb": 0.5, "streak": 4},
		{"name": "SPRINT", "speed": 20, "minProb": 1, "streak": 1}
	]`), 0o600))

	states, err := movement.LoadStates(path)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "CRAWL", states[0].Name)
	assert.Equal(t, 0.5, states[0].MinProb)
	assert.Equal(t, 4, states[0].Streak)
}

func TestLoadStates_Invalid(t *testing.T) {
	dir := t.TempDir()

	missing := filepath.Join(dir, "missing.json")
	_, err := movement.LoadStates(missing)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[]`), 0o600))
	_, err = movement.LoadStates(bad)
	assert.ErrorIs(t, err, movement.ErrNoStates)
}

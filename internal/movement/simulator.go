package movement

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/psptrack/psptrack/internal/device"
)

// DefaultStart is the Polygone building in Grenoble.
var DefaultStart = Point{Latitude: 45.20415, Longitude: 5.6933013}

// SimulatorConfig holds configuration for the simulator.
type SimulatorConfig struct {
	Model *Model

	// Start is where every new walker begins. Zero value uses DefaultStart.
	Start *Point

	// InitialState names the state new walkers start in (default: WALK).
	InitialState string

	// Rand drives the walk. If nil, a time-seeded PCG source is used.
	Rand Rand

	// Now returns the timestamp stamped on generated positions.
	Now func() time.Time
}

// Simulator is a position source that walks one virtual tracker per EUI.
type Simulator struct {
	model   *Model
	start   Point
	initial string
	now     func() time.Time

	mu      sync.Mutex
	rng     Rand
	walkers map[string]*walker
}

type walker struct {
	state State
	pos   Point
}

// NewSimulator creates a simulator.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	start := DefaultStart
	if cfg.Start != nil {
		start = *cfg.Start
	}

	initial := cfg.InitialState
	if initial == "" {
		initial = "WALK"
	}

	rng := cfg.Rand
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Simulator{
		model:   cfg.Model,
		start:   start,
		initial: initial,
		now:     now,
		rng:     rng,
		walkers: make(map[string]*walker),
	}
}

// Name identifies the source in logs and metrics.
func (s *Simulator) Name() string {
	return "simulator"
}

// Position advances the walker for eui by one tick and returns where it is.
func (s *Simulator) Position(ctx context.Context, eui string) (device.Position, error) {
	if err := ctx.Err(); err != nil {
		return device.Position{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.walkers[eui]
	if !ok {
		w = &walker{state: s.model.InitialState(s.initial), pos: s.start}
		s.walkers[eui] = w
	}

	w.state, w.pos = s.model.Advance(w.state, w.pos, s.rng)

	return device.Position{
		Latitude:  w.pos.Latitude,
		Longitude: w.pos.Longitude,
		Timestamp: s.now(),
	}, nil
}

// State returns the current movement state of a walker, if it exists.
func (s *Simulator) State(eui string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.walkers[eui]
	if !ok {
		return State{}, false
	}
	return w.state, true
}

// Verify accepts every device; simulated trackers need no gateway lookup.
func (s *Simulator) Verify(_ context.Context, _ string) error {
	return nil
}

// LoadStates reads a movement table from a JSON file holding an array of
// {name, speed, minProb, streak} objects.
func LoadStates(path string) ([]StateConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read movement table: %w", err)
	}

	var states []StateConfig
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("decode movement table: %w", err)
	}

	if err := ValidateStates(states); err != nil {
		return nil, err
	}
	return states, nil
}

// Package movement provides the random-walk model used to simulate tracker
// positions when no LoRaWan gateway is wired in.
package movement

import (
	"errors"
	"fmt"
	"time"
)

// kmPerDegree is the flat-earth conversion used for simulated steps.
// It is only meaningful over short distances.
const kmPerDegree = 111.0

// Configuration errors.
var (
	ErrNoStates     = errors.New("movement table has no states")
	ErrInvalidState = errors.New("invalid movement state")
)

// StateConfig is one row of the configured movement table.
type StateConfig struct {
	// Name identifies the state (e.g. WALK, REST, RUN).
	Name string `json:"name"`

	// Speed is the travel speed in km/h while in this state.
	Speed float64 `json:"speed"`

	// MinProb is the cumulative probability threshold. States are tried in
	// table order and the first one with MinProb >= r wins.
	MinProb float64 `json:"minProb"`

	// Streak is the number of ticks spent in the state once selected.
	Streak int `json:"streak"`
}

// State is the mutable movement state of one simulated tracker.
type State struct {
	Name    string
	Speed   float64
	MinProb float64
	Streak  int
}

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Rand is the randomness the model consumes. *math/rand/v2.Rand satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Model advances simulated trackers one tick at a time.
type Model struct {
	states []StateConfig
	tick   time.Duration
}

// DefaultStates returns the table used when none is configured.
func DefaultStates() []StateConfig {
	return []StateConfig{
		{Name: "WALK", Speed: 5, MinProb: 0.6, Streak: 10},
		{Name: "REST", Speed: 0, MinProb: 0.9, Streak: 5},
		{Name: "RUN", Speed: 10, MinProb: 1, Streak: 3},
	}
}

// NewModel validates the table and returns a model whose steps cover one
// tick of the given duration.
func NewModel(states []StateConfig, tick time.Duration) (*Model, error) {
	if err := ValidateStates(states); err != nil {
		return nil, err
	}
	if tick <= 0 {
		return nil, fmt.Errorf("%w: tick must be positive, got %s", ErrInvalidState, tick)
	}

	table := make([]StateConfig, len(states))
	copy(table, states)

	return &Model{states: table, tick: tick}, nil
}

// ValidateStates checks a movement table.
func ValidateStates(states []StateConfig) error {
	if len(states) == 0 {
		return ErrNoStates
	}

	seen := make(map[string]bool, len(states))
	for i, st := range states {
		switch {
		case st.Name == "":
			return fmt.Errorf("%w: state %d has no name", ErrInvalidState, i)
		case seen[st.Name]:
			return fmt.Errorf("%w: duplicate state %q", ErrInvalidState, st.Name)
		case st.Speed < 0:
			return fmt.Errorf("%w: state %q has negative speed", ErrInvalidState, st.Name)
		case st.MinProb < 0 || st.MinProb > 1:
			return fmt.Errorf("%w: state %q minProb %v outside [0,1]", ErrInvalidState, st.Name, st.MinProb)
		case st.Streak < 1:
			return fmt.Errorf("%w: state %q streak must be at least 1", ErrInvalidState, st.Name)
		}
		seen[st.Name] = true
	}
	return nil
}

// States returns a copy of the configured table.
func (m *Model) States() []StateConfig {
	out := make([]StateConfig, len(m.states))
	copy(out, m.states)
	return out
}

// InitialState returns the named state with its full streak, or the first
// configured state when the name is unknown.
func (m *Model) InitialState(name string) State {
	for _, st := range m.states {
		if st.Name == name {
			return fromConfig(st)
		}
	}
	return fromConfig(m.states[0])
}

// Advance computes the next state and position.
//
// A new state is drawn only when the streak is exhausted; the streak is then
// decremented, so a freshly drawn state spends Streak-1 more ticks after this
// one. The latitude step is drawn before the longitude step.
func (m *Model) Advance(st State, pos Point, rng Rand) (State, Point) {
	if st.Streak <= 0 {
		st = m.draw(rng.Float64())
	}
	st.Streak--

	deg := m.degreesPerTick(st.Speed)
	next := Point{
		Latitude:  pos.Latitude + float64(step(rng))*deg,
		Longitude: pos.Longitude + float64(step(rng))*deg,
	}
	return st, next
}

// draw selects the first state whose threshold is met.
func (m *Model) draw(r float64) State {
	for _, st := range m.states {
		if r <= st.MinProb {
			return fromConfig(st)
		}
	}
	// Table thresholds below 1 leave a gap; the last state absorbs it.
	return fromConfig(m.states[len(m.states)-1])
}

func (m *Model) degreesPerTick(speed float64) float64 {
	km := speed * m.tick.Seconds() / 3600
	return km / kmPerDegree
}

// step returns -1, 0 or 1 with equal probability.
func step(rng Rand) int {
	return rng.IntN(3) - 1
}

func fromConfig(c StateConfig) State {
	return State{
		Name:    c.Name,
		Speed:   c.Speed,
		MinProb: c.MinProb,
		Streak:  c.Streak,
	}
}

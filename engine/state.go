package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is a snapshot of one definition's accumulator
type State struct {
	Name         string    `json:"name"`
	Params       []string  `json:"params"`
	Values       []string  `json:"values"`
	Filled       []bool    `json:"filled"`
	Previous     any       `json:"previous,omitempty"`
	HasPrevious  bool      `json:"has_previous"`
	LastUpdateAt time.Time `json:"last_update_at"`
	Evaluations  int64     `json:"evaluations"`
}

// Complete reports whether every slot holds a value
func (s State) Complete() bool {
	for _, f := range s.Filled {
		if !f {
			return false
		}
	}
	return len(s.Filled) > 0
}

// eventState backs one live definition. mu is only held for short reads and
// commits, never across user callbacks.
type eventState struct {
	def     Definition
	removed atomic.Bool

	mu           sync.Mutex
	values       []string
	filled       []bool
	previous     any
	hasPrevious  bool
	lastUpdateAt time.Time
	evaluations  int64
}

func newEventState(def Definition) *eventState {
	return &eventState{
		def:    def,
		values: make([]string, len(def.Params)),
		filled: make([]bool, len(def.Params)),
	}
}

// roundInput is what an evaluation reads from the state once the slots are full.
type roundInput struct {
	params       []string
	previous     any
	hasPrevious  bool
	lastUpdateAt time.Time
}

// fill writes value into every slot for label and reports the round input
// when all slots are filled.
func (s *eventState) fill(label, value string) (roundInput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.def.Params {
		if p == label {
			s.values[i] = value
			s.filled[i] = true
		}
	}
	for _, f := range s.filled {
		if !f {
			return roundInput{}, false
		}
	}

	params := make([]string, len(s.values))
	copy(params, s.values)
	return roundInput{
		params:       params,
		previous:     s.previous,
		hasPrevious:  s.hasPrevious,
		lastUpdateAt: s.lastUpdateAt,
	}, true
}

func (s *eventState) commit(current any, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previous = current
	s.hasPrevious = true
	s.lastUpdateAt = at
	s.evaluations++
}

func (s *eventState) latest() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previous, s.hasPrevious
}

func (s *eventState) snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Name:         s.def.Name,
		Params:       append([]string(nil), s.def.Params...),
		Values:       append([]string(nil), s.values...),
		Filled:       append([]bool(nil), s.filled...),
		Previous:     s.previous,
		HasPrevious:  s.hasPrevious,
		LastUpdateAt: s.lastUpdateAt,
		Evaluations:  s.evaluations,
	}
	return st
}

package stepgen

import (
	"iter"

	"pulsecnc/standalone"
)

// Timing gives the time offset of each driving-axis step of a move
type Timing interface {
	DrivingAxis() standalone.Axis
	TotalSteps() int64
	TimeOffset(i int64) float64
}

// Sequencer produces the pulse events of one move on demand. It is a
// single-pass cursor: once drained it yields nothing more.
//
// Non-driving axes are spread over the driving-axis indices with integer
// accumulators, so every axis emits exactly its required step count.
// Accumulators start at zero and fire once they reach the driving step
// count, so a minor axis lags by one phase: at a 1:2 ratio it steps on the
// odd indices and its last step lands on the final index.
type Sequencer struct {
	timing   Timing
	signs    [standalone.NumAxes]int
	required [standalone.NumAxes]int64
	errs     [standalone.NumAxes]int64
	driving  standalone.Axis
	total    int64

	dirSent bool
	index   int64
}

// NewSequencer creates the event cursor for a move planned by timing
func NewSequencer(timing Timing, delta standalone.Coordinates, cfg *standalone.MachineConfig) *Sequencer {
	s := &Sequencer{
		timing:  timing,
		signs:   delta.Sign(),
		driving: timing.DrivingAxis(),
		total:   timing.TotalSteps(),
	}
	for _, a := range standalone.Axes {
		s.required[a] = cfg.RequiredSteps(a, delta.Axis(a))
	}
	return s
}

// Next returns the next event, or false once the move is exhausted
func (s *Sequencer) Next() (Event, bool) {
	if !s.dirSent {
		s.dirSent = true
		return DirectionEvent{Signs: s.signs}, true
	}
	if s.index >= s.total {
		return nil, false
	}

	i := s.index
	s.index++

	axes := standalone.AxisSet(0).With(s.driving)
	for _, a := range standalone.Axes {
		if a == s.driving || s.required[a] == 0 {
			continue
		}
		s.errs[a] += s.required[a]
		if s.errs[a] >= s.total {
			s.errs[a] -= s.total
			axes = axes.With(a)
		}
	}

	return StepEvent{Index: i, Time: s.timing.TimeOffset(i), Axes: axes}, true
}

// All returns the remaining events as an iterator
func (s *Sequencer) All() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, ok := s.Next()
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

// Remaining returns how many step events are still to come
func (s *Sequencer) Remaining() int64 {
	return s.total - s.index
}

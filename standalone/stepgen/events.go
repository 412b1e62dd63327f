package stepgen

import (
	"fmt"

	"pulsecnc/standalone"
)

// Event is one item of a move's pulse sequence: a DirectionEvent followed
// by StepEvents.
type Event interface {
	isEvent()
}

// DirectionEvent sets the direction of every axis before stepping starts.
// Signs holds -1, 0 or +1 per axis; 0 leaves the axis pin untouched.
type DirectionEvent struct {
	Signs [standalone.NumAxes]int
}

// StepEvent is one instant at which every axis in Axes steps once
type StepEvent struct {
	Index int64   // driving-axis step index
	Time  float64 // seconds from the start of the move
	Axes  standalone.AxisSet
}

func (DirectionEvent) isEvent() {}
func (StepEvent) isEvent()      {}

func (e DirectionEvent) String() string {
	return fmt.Sprintf("dir %v", e.Signs)
}

func (e StepEvent) String() string {
	return fmt.Sprintf("step #%d t=%.6fs %s", e.Index, e.Time, e.Axes)
}

// Masks splits the direction signs into direction pins to raise (axes
// moving negative) and pins to lower (axes moving positive).
func (e DirectionEvent) Masks(cfg *standalone.MachineConfig) (set, clear uint32) {
	var neg, pos standalone.AxisSet
	for _, a := range standalone.Axes {
		switch {
		case e.Signs[a] < 0:
			neg = neg.With(a)
		case e.Signs[a] > 0:
			pos = pos.With(a)
		}
	}
	return cfg.DirMask(neg), cfg.DirMask(pos)
}

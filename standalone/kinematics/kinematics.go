// Package kinematics maps machine positions to axes and enforces travel limits.
package kinematics

import "pulsecnc/standalone"

// Kinematics defines the interface for coordinate transformations
type Kinematics interface {
	// CalcPosition converts a machine position to per-axis positions in X, Y, Z, E order
	CalcPosition(pos standalone.Coordinates) [standalone.NumAxes]float64

	// CheckLimits validates that a position is within configured limits
	CheckLimits(pos standalone.Coordinates) error
}

// AxisLimits represents position limits for an axis
type AxisLimits struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the limits
func (l AxisLimits) Contains(v float64) bool {
	return v >= l.Min && v <= l.Max
}

package kinematics

import (
	"fmt"

	"pulsecnc/standalone"
)

// limitTolerance absorbs float rounding of positions accumulated over many moves
const limitTolerance = 1e-6

// Cartesian implements basic Cartesian kinematics (XYZ 1:1 mapping).
// Homing puts each axis at 0, so travel runs from 0 to the table size.
type Cartesian struct {
	limits [standalone.NumAxes]*AxisLimits
}

// NewCartesian creates Cartesian kinematics. Axes without a table size
// (the extruder, usually) are unbounded.
func NewCartesian(config *standalone.MachineConfig) (*Cartesian, error) {
	k := &Cartesian{}
	for _, a := range standalone.Axes {
		size := config.Axis(a).TableSizeMM
		if size < 0 {
			return nil, fmt.Errorf("%w: axis %s table size %.3f", standalone.ErrConfig, a, size)
		}
		if size > 0 {
			k.limits[a] = &AxisLimits{Min: 0, Max: size}
		}
	}
	return k, nil
}

// CalcPosition implements Kinematics
func (k *Cartesian) CalcPosition(pos standalone.Coordinates) [standalone.NumAxes]float64 {
	return [standalone.NumAxes]float64{pos.X, pos.Y, pos.Z, pos.E}
}

// Limits returns the travel limits of axis a, nil when unbounded
func (k *Cartesian) Limits(a standalone.Axis) *AxisLimits {
	return k.limits[a]
}

// CheckLimits implements Kinematics
func (k *Cartesian) CheckLimits(pos standalone.Coordinates) error {
	for _, a := range standalone.Axes {
		l := k.limits[a]
		if l == nil {
			continue
		}
		v := pos.Axis(a)
		if v < l.Min-limitTolerance || v > l.Max+limitTolerance {
			return fmt.Errorf("%w: %s=%.3f outside [%.3f, %.3f]", standalone.ErrInvalidMove, a, v, l.Min, l.Max)
		}
	}
	return nil
}

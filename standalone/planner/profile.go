package planner

import (
	"fmt"
	"math"

	"pulsecnc/standalone"
)

// Phase of the trapezoidal velocity profile a step index belongs to
type Phase uint8

const (
	PhaseAccel Phase = iota
	PhaseCruise
	PhaseDecel
)

func (p Phase) String() string {
	switch p {
	case PhaseAccel:
		return "accel"
	case PhaseCruise:
		return "cruise"
	}
	return "decel"
}

// Profile is the trapezoidal timing backbone of one linear move. It is
// expressed on the driving axis, the axis that needs the most steps, and
// gives the time offset of every driving-axis step index.
//
// Velocity at index i is min(v, sqrt(2ai), sqrt(2a(N-1-i))) in steps/s.
// Offsets are the exact integral of that curve under constant acceleration,
// so step 0 fires at t=0, cruise steps are 1/v apart, and the profile turns
// into a triangle when the ramps meet before reaching v. Offsets are computed
// per index on demand; nothing is precomputed per step.
type Profile struct {
	delta       standalone.Coordinates
	velocity    float64 // clamped, mm/min
	drivingAxis standalone.Axis
	required    [standalone.NumAxes]int64
	totalSteps  int64

	v     float64 // cruise velocity, steps/s
	a     float64 // acceleration, steps/s^2
	span  float64 // totalSteps-1, distance between first and last step
	ramp  float64 // steps spent in each ramp
	tRamp float64 // seconds spent in each ramp
	total float64 // offset of the last step

	accelEnd   int64
	decelStart int64
}

// NewProfile plans a linear move of delta millimeters at velocity mm/min.
func NewProfile(delta standalone.Coordinates, velocity float64, cfg *standalone.MachineConfig) (*Profile, error) {
	if delta.IsZero() {
		return nil, fmt.Errorf("%w: zero-length move", standalone.ErrInvalidMove)
	}
	if cfg.MaxVelocity <= 0 || cfg.MaxAcceleration <= 0 {
		return nil, fmt.Errorf("%w: max velocity and acceleration must be positive", standalone.ErrConfig)
	}

	if velocity > cfg.MaxVelocity {
		velocity = cfg.MaxVelocity
	}
	if velocity <= 0 {
		return nil, fmt.Errorf("%w: velocity %.3f mm/min", standalone.ErrInvalidMove, velocity)
	}

	p := &Profile{
		delta:    delta,
		velocity: velocity,
	}

	// Ties keep the earlier axis in X, Y, Z, E order
	for _, axis := range standalone.Axes {
		d := delta.Axis(axis)
		if d != 0 && cfg.StepsPerMM(axis) <= 0 {
			return nil, fmt.Errorf("%w: axis %s has %.3f steps/mm", standalone.ErrConfig, axis, cfg.StepsPerMM(axis))
		}
		p.required[axis] = cfg.RequiredSteps(axis, d)
		if p.required[axis] > p.totalSteps {
			p.totalSteps = p.required[axis]
			p.drivingAxis = axis
		}
	}
	if p.totalSteps < 1 {
		return nil, fmt.Errorf("%w: %s is shorter than one step", standalone.ErrInvalidMove, delta)
	}

	spm := cfg.StepsPerMM(p.drivingAxis)
	p.v = velocity / 60.0 * spm
	p.a = cfg.MaxAcceleration * spm
	p.span = float64(p.totalSteps - 1)

	p.ramp = math.Min(p.v*p.v/(2*p.a), p.span/2)
	p.tRamp = math.Sqrt(2 * p.ramp / p.a)
	p.total = 2*p.tRamp + (p.span-2*p.ramp)/p.v

	p.accelEnd = int64(math.Floor(p.ramp)) + 1
	if p.accelEnd > p.totalSteps {
		p.accelEnd = p.totalSteps
	}
	p.decelStart = int64(math.Ceil(p.span - p.ramp))
	if p.decelStart < p.accelEnd {
		p.decelStart = p.accelEnd
	}

	return p, nil
}

// TimeOffset returns the time in seconds at which driving-axis step i fires
func (p *Profile) TimeOffset(i int64) float64 {
	x := float64(i)
	switch {
	case x <= p.ramp:
		return math.Sqrt(2 * x / p.a)
	case x < p.span-p.ramp:
		return p.tRamp + (x-p.ramp)/p.v
	default:
		rest := p.span - x
		if rest < 0 {
			rest = 0
		}
		return p.total - math.Sqrt(2*rest/p.a)
	}
}

// VelocityAt returns the profile velocity at step i in steps/s
func (p *Profile) VelocityAt(i int64) float64 {
	up := math.Sqrt(2 * p.a * float64(i))
	down := math.Sqrt(2 * p.a * (p.span - float64(i)))
	return math.Min(p.v, math.Min(up, down))
}

// PhaseAt returns which part of the trapezoid step i belongs to
func (p *Profile) PhaseAt(i int64) Phase {
	switch {
	case i < p.accelEnd:
		return PhaseAccel
	case i < p.decelStart:
		return PhaseCruise
	}
	return PhaseDecel
}

// TotalTime returns the estimated duration of the move in seconds. It is
// the sum of all per-step intervals, never less than the last offset.
func (p *Profile) TotalTime() float64 {
	return p.total
}

// TotalSteps returns the number of driving-axis steps, always at least 1
func (p *Profile) TotalSteps() int64 { return p.totalSteps }

// DrivingAxis returns the axis with the most steps
func (p *Profile) DrivingAxis() standalone.Axis { return p.drivingAxis }

// RequiredSteps returns the exact step count of axis a for this move
func (p *Profile) RequiredSteps(a standalone.Axis) int64 { return p.required[a] }

// AccelEnd returns the first index past the acceleration ramp
func (p *Profile) AccelEnd() int64 { return p.accelEnd }

// DecelStart returns the first index of the deceleration ramp
func (p *Profile) DecelStart() int64 { return p.decelStart }

// CruiseVelocity returns the cruise speed in steps/s on the driving axis
func (p *Profile) CruiseVelocity() float64 { return p.v }

// Velocity returns the clamped requested velocity in mm/min
func (p *Profile) Velocity() float64 { return p.velocity }

// Delta returns the planned displacement
func (p *Profile) Delta() standalone.Coordinates { return p.delta }

// Triangular reports whether the move never reaches cruise velocity
func (p *Profile) Triangular() bool {
	return p.ramp < p.v*p.v/(2*p.a)
}

package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pulsecnc/internal/logging"
	"pulsecnc/standalone"
)

// Estimator is a dry-run machine. It plans every move with the same
// trapezoid as the Planner but never generates pulses, so a program can be
// timed without hardware.
type Estimator struct {
	config *standalone.MachineConfig
	logger *slog.Logger

	pos     standalone.Coordinates
	total   time.Duration
	moves   int
	steps   int64
	spindle float64
}

// NewEstimator creates an estimator positioned at the origin
func NewEstimator(config *standalone.MachineConfig) *Estimator {
	return &Estimator{config: config, logger: logging.NewNop()}
}

// SetLogger replaces the no-op logger
func (e *Estimator) SetLogger(logger *slog.Logger) {
	e.logger = logger
}

// MoveLinear plans the move and adds its duration to the total
func (e *Estimator) MoveLinear(ctx context.Context, delta standalone.Coordinates, velocity float64) (*MoveReport, error) {
	profile, err := NewProfile(delta, velocity, e.config)
	if err != nil {
		return nil, err
	}
	report := &MoveReport{
		ID:          uuid.New(),
		Delta:       delta,
		Velocity:    profile.Velocity(),
		DrivingAxis: profile.DrivingAxis(),
		TotalSteps:  profile.TotalSteps(),
		Estimated:   time.Duration(profile.TotalTime() * float64(time.Second)),
	}
	e.pos = e.pos.Add(e.config.StepDelta(delta))
	e.total += report.Estimated
	e.moves++
	e.steps += report.TotalSteps
	e.logger.Debug("move estimated", "move", report.ID.String(), "delta", delta.String(),
		"driving_axis", report.DrivingAxis.String(), "estimated", report.Estimated)
	return report, nil
}

// MoveCircular reports arcs as unsupported, like the Planner
func (e *Estimator) MoveCircular(ctx context.Context, delta, center standalone.Coordinates, plane Plane, velocity float64, dir ArcDirection) error {
	return fmt.Errorf("circular interpolation: %w", standalone.ErrNotSupported)
}

// Home assumes every configured endstop is found at the current position
func (e *Estimator) Home(ctx context.Context) (HomingResult, error) {
	var result HomingResult
	for _, a := range homingAxes {
		if e.config.Axis(a).HasEndstop {
			result.Homed = result.Homed.With(a)
			e.pos = e.pos.WithAxis(a, 0)
		}
	}
	return result, nil
}

// Join returns immediately: nothing is ever executing
func (e *Estimator) Join(ctx context.Context) error { return nil }

// Deinit has nothing to release
func (e *Estimator) Deinit(ctx context.Context) error { return nil }

// SpindleControl records the requested speed
func (e *Estimator) SpindleControl(percent float64) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: spindle speed %.1f%% out of range", standalone.ErrInvalidMove, percent)
	}
	e.spindle = percent
	return nil
}

// Position returns the position reached by all estimated moves
func (e *Estimator) Position() standalone.Coordinates { return e.pos }

// SetPosition redefines the current position without moving
func (e *Estimator) SetPosition(pos standalone.Coordinates) { e.pos = pos }

// Total returns the summed duration of all estimated moves
func (e *Estimator) Total() time.Duration { return e.total }

// Moves returns the number of estimated moves
func (e *Estimator) Moves() int { return e.moves }

// Steps returns the summed driving-axis step count
func (e *Estimator) Steps() int64 { return e.steps }

// Spindle returns the last requested spindle speed in percent
func (e *Estimator) Spindle() float64 { return e.spindle }

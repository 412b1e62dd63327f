package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pulsecnc/core"
	"pulsecnc/internal/logging"
	"pulsecnc/standalone"
	"pulsecnc/standalone/stepgen"
)

// JoinPollInterval is the sleep between engine polls in Join
const JoinPollInterval = 10 * time.Millisecond

// spindlePWMCycle is the PWM period requested for the spindle output, in timer ticks
const spindlePWMCycle = 10000

// Plane selects the arc interpolation plane
type Plane uint8

const (
	PlaneXY Plane = iota
	PlaneZX
	PlaneYZ
)

// ArcDirection selects clockwise or counterclockwise arcs
type ArcDirection uint8

const (
	Clockwise ArcDirection = iota
	CounterClockwise
)

// MoveReport describes one executed linear move
type MoveReport struct {
	ID          uuid.UUID
	Delta       standalone.Coordinates
	Velocity    float64 // mm/min after clamping
	DrivingAxis standalone.Axis
	TotalSteps  int64
	Estimated   time.Duration
	Stream      stepgen.StreamReport
}

// Planner turns move requests into pulse streams on a PulseEngine.
// One move is in flight at a time; a Planner is not safe for concurrent use.
type Planner struct {
	config  *standalone.MachineConfig
	engine  core.PulseEngine
	feeder  *stepgen.Feeder
	gpio    core.GPIODriver
	pwm     core.PWMDriver
	logger  *slog.Logger
	metrics *Metrics

	currentPos  standalone.Coordinates
	homed       [standalone.NumAxes]bool
	spindle     float64
	spindleOn   bool
	lastMove    *MoveReport
	initialized bool
}

// Option configures a Planner
type Option func(*Planner)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		p.logger = logger
	}
}

// WithMetrics records moves and homing runs in m
func WithMetrics(m *Metrics) Option {
	return func(p *Planner) {
		p.metrics = m
	}
}

// WithGPIO provides the driver used to read endstops during homing
func WithGPIO(d core.GPIODriver) Option {
	return func(p *Planner) {
		p.gpio = d
	}
}

// WithPWM provides the driver of the spindle output
func WithPWM(d core.PWMDriver) Option {
	return func(p *Planner) {
		p.pwm = d
	}
}

// NewPlanner creates a planner streaming into engine
func NewPlanner(config *standalone.MachineConfig, engine core.PulseEngine, opts ...Option) *Planner {
	p := &Planner{
		config: config,
		engine: engine,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.NewNop()
	}
	p.feeder = stepgen.NewFeeder(engine, config, p.logger)
	return p
}

// Init configures endstop inputs and the spindle output
func (p *Planner) Init() error {
	if p.initialized {
		return nil
	}
	if p.gpio != nil {
		for _, a := range homingAxes {
			axis := p.config.Axis(a)
			if !axis.HasEndstop {
				continue
			}
			if err := p.gpio.ConfigureInputPullUp(core.GPIOPin(axis.EndstopPin)); err != nil {
				return fmt.Errorf("configure %s endstop: %w", a, err)
			}
		}
	}
	if p.pwm != nil {
		if err := p.pwm.DisablePWM(core.PWMPin(p.config.SpindlePWMPin)); err != nil {
			return fmt.Errorf("reset spindle output: %w", err)
		}
	}
	p.initialized = true
	return nil
}

// MoveLinear moves the head by delta millimeters at velocity mm/min.
// It returns once the whole move is buffered; with instant run the engine
// may still be executing it.
func (p *Planner) MoveLinear(ctx context.Context, delta standalone.Coordinates, velocity float64) (*MoveReport, error) {
	id := uuid.New()
	log := p.logger.With("move", id.String())
	log.Info("move", "delta", delta.String(), "velocity", velocity)

	profile, err := NewProfile(delta, velocity, p.config)
	if err != nil {
		p.metrics.observeRejected()
		return nil, err
	}

	seq := stepgen.NewSequencer(profile, delta, p.config)
	stream, err := p.feeder.Stream(ctx, seq)
	p.metrics.observeMove(profile.TotalTime(), stream, err)
	if err != nil {
		return nil, fmt.Errorf("stream move %s: %w", id, err)
	}

	// Whole steps only, so the tracked position matches the engine
	p.currentPos = p.currentPos.Add(p.config.StepDelta(delta))

	report := &MoveReport{
		ID:          id,
		Delta:       delta,
		Velocity:    profile.Velocity(),
		DrivingAxis: profile.DrivingAxis(),
		TotalSteps:  profile.TotalSteps(),
		Estimated:   time.Duration(profile.TotalTime() * float64(time.Second)),
		Stream:      stream,
	}
	p.lastMove = report

	log.Info("move prepared",
		"prepared", stream.Prepared.Round(10*time.Millisecond),
		"estimated", report.Estimated.Round(10*time.Millisecond),
		"steps", stream.Steps,
		"instant_run", stream.InstantRun)
	return report, nil
}

// MoveCircular is not implemented: arc interpolation is unsupported
func (p *Planner) MoveCircular(ctx context.Context, delta, center standalone.Coordinates, plane Plane, velocity float64, dir ArcDirection) error {
	p.logger.Warn("circular move requested", "delta", delta.String(), "center", center.String(),
		"plane", plane, "direction", dir, "velocity", velocity)
	return fmt.Errorf("circular interpolation: %w", standalone.ErrNotSupported)
}

// Join blocks until the engine has executed everything buffered
func (p *Planner) Join(ctx context.Context) error {
	p.logger.Debug("join")
	return stepgen.WaitIdle(ctx, p.engine, JoinPollInterval)
}

// Deinit waits for motion to finish and turns the spindle off
func (p *Planner) Deinit(ctx context.Context) error {
	if err := p.Join(ctx); err != nil {
		return err
	}
	return p.SpindleControl(0)
}

// SpindleControl sets the spindle speed in percent; 0 stops it
func (p *Planner) SpindleControl(percent float64) error {
	p.logger.Info("spindle control", "percent", percent)
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: spindle speed %.1f%% out of range", standalone.ErrInvalidMove, percent)
	}
	p.spindle = percent
	if p.pwm == nil {
		return nil
	}

	pin := core.PWMPin(p.config.SpindlePWMPin)
	if percent == 0 {
		p.spindleOn = false
		return p.pwm.DisablePWM(pin)
	}
	if !p.spindleOn {
		if _, err := p.pwm.ConfigureHardwarePWM(pin, spindlePWMCycle); err != nil {
			return fmt.Errorf("configure spindle pwm: %w", err)
		}
		p.spindleOn = true
	}
	return p.pwm.SetDutyCycle(pin, core.PercentToDuty(percent, p.pwm.GetMaxValue()))
}

// Position returns the position reached by all buffered moves
func (p *Planner) Position() standalone.Coordinates {
	return p.currentPos
}

// SetPosition redefines the current position without moving
func (p *Planner) SetPosition(pos standalone.Coordinates) {
	p.currentPos = pos
}

// Homed reports which axes have found their endstop
func (p *Planner) Homed() [standalone.NumAxes]bool {
	return p.homed
}

// Spindle returns the last commanded spindle speed in percent
func (p *Planner) Spindle() float64 {
	return p.spindle
}

// LastMove returns the report of the most recent move, or nil
func (p *Planner) LastMove() *MoveReport {
	return p.lastMove
}

// IsIdle reports whether the engine has finished all buffered motion
func (p *Planner) IsIdle() (bool, error) {
	busy, err := p.engine.IsBusy()
	return !busy, err
}

// Config returns the machine configuration the planner runs with
func (p *Planner) Config() *standalone.MachineConfig {
	return p.config
}

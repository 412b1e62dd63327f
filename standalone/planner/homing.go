package planner

import (
	"context"
	"fmt"
	"math"
	"time"

	"pulsecnc/core"
	"pulsecnc/standalone"
	"pulsecnc/standalone/stepgen"
)

// homingAxes are the axes that seek an endstop; the extruder never homes
var homingAxes = [...]standalone.Axis{standalone.AxisX, standalone.AxisY, standalone.AxisZ}

// HomingOutcome is how a homing run ended
type HomingOutcome uint8

const (
	HomingComplete HomingOutcome = iota
	HomingFailed                 // pulse budget ran out before every endstop triggered
	HomingCanceled               // context canceled by the operator
)

func (o HomingOutcome) String() string {
	switch o {
	case HomingComplete:
		return "complete"
	case HomingFailed:
		return "failed"
	}
	return "canceled"
}

// HomingResult reports a homing run. A failed or canceled run is not an
// error: the machine may still be used, at the operator's risk.
type HomingResult struct {
	Outcome HomingOutcome
	Homed   standalone.AxisSet // axes whose endstop triggered
	Pending standalone.AxisSet // axes still seeking when the run ended
	Pulses  int64
	Elapsed time.Duration
}

// Err returns ErrHomingFailed for runs that did not complete
func (r HomingResult) Err() error {
	if r.Outcome == HomingComplete {
		return nil
	}
	return fmt.Errorf("%w: %s, axes %s not homed", standalone.ErrHomingFailed, r.Outcome, r.Pending)
}

// homingBudget returns the maximum number of pulses one homing run may emit
func (p *Planner) homingBudget() int64 {
	var spm, table float64
	for _, a := range homingAxes {
		ax := p.config.Axis(a)
		spm = math.Max(spm, ax.StepsPerMM)
		table = math.Max(table, ax.TableSizeMM)
	}
	return int64(math.Ceil(p.config.Homing.BudgetFactor * spm * table))
}

// homingInterval paces pulses at the configured share of max velocity
func (p *Planner) homingInterval() time.Duration {
	var spm float64
	for _, a := range homingAxes {
		spm = math.Max(spm, p.config.StepsPerMM(a))
	}
	rate := p.config.Homing.VelocityPercent / 100 * p.config.MaxVelocity / 60 * spm
	if rate <= 0 {
		return time.Millisecond
	}
	return time.Duration(float64(time.Second) / rate)
}

// Home drives X, Y and Z toward their endstops, one pulse at a time, until
// every endstop reads low or the pulse budget is spent. Canceling ctx stops
// the search and keeps whatever was reached.
func (p *Planner) Home(ctx context.Context) (HomingResult, error) {
	var result HomingResult
	if p.gpio == nil {
		return result, fmt.Errorf("%w: homing needs an endstop input driver", standalone.ErrConfig)
	}
	if err := p.Init(); err != nil {
		return result, err
	}
	if err := p.Join(ctx); err != nil {
		return result, err
	}

	var active standalone.AxisSet
	for _, a := range homingAxes {
		if p.config.Axis(a).HasEndstop {
			active = active.With(a)
		}
	}

	budget := p.homingBudget()
	interval := p.homingInterval()
	warnAfter := time.Duration(p.config.Homing.ProgressWarnMS) * time.Millisecond
	dirMask := p.config.DirMask(active)

	p.logger.Info("homing", "axes", active.String(), "budget", budget, "interval", interval)

	start := time.Now()
	warned := false
	canceled := false

loop:
	for budget > 0 {
		for _, a := range homingAxes {
			if !active.Has(a) {
				continue
			}
			level, err := p.gpio.GetPin(core.GPIOPin(p.config.Axis(a).EndstopPin))
			if err != nil {
				return result, fmt.Errorf("read %s endstop: %w", a, err)
			}
			if !level {
				active = active.Without(a)
				result.Homed = result.Homed.With(a)
				p.logger.Debug("endstop reached", "axis", a.String(), "pulses", result.Pulses)
			}
		}
		if active == 0 {
			break
		}

		if err := p.homingPulse(dirMask, p.config.StepMask(active)); err != nil {
			return result, err
		}
		result.Pulses++
		budget--

		select {
		case <-ctx.Done():
			canceled = true
			break loop
		case <-time.After(interval):
		}

		if !warned && time.Since(start) > warnAfter {
			p.logger.Error("homing still in progress, check that the machine is moving; cancel to proceed as is")
			warned = true
		}
	}

	result.Pending = active
	result.Elapsed = time.Since(start)
	switch {
	case active == 0:
		result.Outcome = HomingComplete
	case canceled:
		result.Outcome = HomingCanceled
		p.logger.Error("homing canceled by user, be careful", "pending", active.String())
	default:
		result.Outcome = HomingFailed
		p.logger.Error("homing failed, you may proceed but be careful", "pending", active.String(), "pulses", result.Pulses)
	}

	for _, a := range homingAxes {
		if result.Homed.Has(a) {
			p.homed[a] = true
			p.currentPos = p.currentPos.WithAxis(a, 0)
		}
	}
	p.metrics.observeHoming(result.Outcome)
	return result, nil
}

// homingPulse emits one pulse on mask with the direction pins in dirMask raised
func (p *Planner) homingPulse(dirMask, mask uint32) error {
	if err := stepgen.WaitIdle(context.Background(), p.engine, stepgen.IdlePollInterval); err != nil {
		return err
	}
	if err := p.engine.Clear(); err != nil {
		return fmt.Errorf("homing: %w", err)
	}
	if err := p.engine.AppendDirection(dirMask, 0); err != nil {
		return fmt.Errorf("homing: %w", err)
	}
	if err := p.engine.AppendPulse(mask, p.config.PulseWidthUS); err != nil {
		return fmt.Errorf("homing: %w", err)
	}
	if err := p.engine.RunBlocking(); err != nil {
		return fmt.Errorf("homing: %w", err)
	}
	return nil
}

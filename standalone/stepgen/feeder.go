package stepgen

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"pulsecnc/core"
	"pulsecnc/internal/logging"
	"pulsecnc/standalone"
)

// IdlePollInterval is the sleep between IsBusy polls while waiting for the
// engine to finish the previous move
const IdlePollInterval = time.Millisecond

// EventSource yields the events of one move
type EventSource interface {
	Next() (Event, bool)
}

// StreamReport summarizes one streamed move
type StreamReport struct {
	Steps      int64         // step events appended
	Commands   int           // engine commands appended
	MotionUS   int64         // buffered motion time including the last pulse
	Prepared   time.Duration // wall time spent generating the buffer
	InstantRun bool          // engine was started before generation finished
	SlowStart  bool          // instant run horizon was reached after the budget
}

// Feeder drains pulse events into a PulseEngine. The engine is started
// early ("instant run") once enough motion is buffered, otherwise the
// whole move is played with RunBlocking at the end.
type Feeder struct {
	engine     core.PulseEngine
	cfg        *standalone.MachineConfig
	maxDelayUS uint32
	logger     *slog.Logger

	// PollInterval overrides IdlePollInterval when non-zero
	PollInterval time.Duration
}

// NewFeeder creates a feeder for engine using the machine pulse settings
func NewFeeder(engine core.PulseEngine, cfg *standalone.MachineConfig, logger *slog.Logger) *Feeder {
	if logger == nil {
		logger = logging.NewNop()
	}
	f := &Feeder{
		engine: engine,
		cfg:    cfg,
		logger: logger,
	}
	if ip, ok := engine.(core.InfoProvider); ok {
		f.maxDelayUS = ip.Info().MaxDelayUS
	}
	return f
}

// WaitIdle polls engine.IsBusy every interval until the engine is idle.
// There is no timeout; ctx is only checked between polls.
func WaitIdle(ctx context.Context, engine core.PulseEngine, interval time.Duration) error {
	for {
		busy, err := engine.IsBusy()
		if err != nil {
			return fmt.Errorf("query engine state: %w", err)
		}
		if !busy {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Stream waits for the engine to go idle, then buffers every event of src
// and runs it. Streaming itself cannot be cancelled.
func (f *Feeder) Stream(ctx context.Context, src EventSource) (StreamReport, error) {
	var report StreamReport

	interval := f.PollInterval
	if interval <= 0 {
		interval = IdlePollInterval
	}
	if err := WaitIdle(ctx, f.engine, interval); err != nil {
		return report, err
	}
	if err := f.engine.Clear(); err != nil {
		return report, fmt.Errorf("clear engine buffer: %w", err)
	}

	pw := f.cfg.PulseWidthUS
	threshold := int64(f.cfg.InstantRunThresholdUS)
	budget := time.Duration(f.cfg.InstantRunBudgetMS) * time.Millisecond

	begin := time.Now()
	var prev int64
	started := false

	for {
		ev, ok := src.Next()
		if !ok {
			break
		}

		switch e := ev.(type) {
		case DirectionEvent:
			set, clear := e.Masks(f.cfg)
			if err := f.engine.AppendDirection(set, clear); err != nil {
				return report, fmt.Errorf("append direction: %w", err)
			}
			report.Commands++

		case StepEvent:
			tus := int64(math.Round(e.Time * 1e6))
			if gap := tus - prev; gap > 0 {
				for _, chunk := range core.SplitDelay(uint64(gap), f.maxDelayUS) {
					if err := f.engine.AppendDelay(chunk); err != nil {
						return report, fmt.Errorf("append delay before step %d: %w", e.Index, err)
					}
					report.Commands++
				}
			}
			if err := f.engine.AppendPulse(f.cfg.StepMask(e.Axes), pw); err != nil {
				return report, fmt.Errorf("append pulse %d: %w", e.Index, err)
			}
			report.Commands++
			report.Steps++
			prev = tus + int64(pw)

			if f.cfg.InstantRun && !started && tus >= threshold {
				if elapsed := time.Since(begin); elapsed > budget {
					report.SlowStart = true
					f.logger.Warn("instant run buffer filled too slowly",
						"elapsed", elapsed, "budget", budget, "buffered_us", tus)
				}
				if err := f.engine.StartAsync(); err != nil {
					return report, fmt.Errorf("start engine: %w", err)
				}
				started = true
				report.InstantRun = true
			}
		}
	}

	report.MotionUS = prev
	report.Prepared = time.Since(begin)

	if started {
		if err := f.engine.Finalize(); err != nil {
			return report, fmt.Errorf("finalize engine buffer: %w", err)
		}
		return report, nil
	}
	if err := f.engine.RunBlocking(); err != nil {
		return report, fmt.Errorf("run engine: %w", err)
	}
	return report, nil
}

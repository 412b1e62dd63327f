package planner

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsecnc/core"
	"pulsecnc/internal/logging"
	"pulsecnc/standalone"
	"pulsecnc/standalone/config"
)

type testRig struct {
	planner *Planner
	engine  *core.VirtualEngine
	gpio    *core.VirtualGPIO
	reg     *prometheus.Registry
	logs    *bytes.Buffer
}

func newTestRig(t *testing.T, cfg *standalone.MachineConfig) *testRig {
	t.Helper()
	eng := core.NewVirtualEngine()
	for _, a := range standalone.Axes {
		ax := cfg.Axis(a)
		eng.BindAxis(a.String(), ax.StepPin, ax.DirPin)
	}
	gpio := core.NewVirtualGPIO()
	reg := prometheus.NewRegistry()
	logs := &bytes.Buffer{}

	p := NewPlanner(cfg, eng,
		WithGPIO(gpio),
		WithPWM(gpio),
		WithMetrics(NewMetrics(reg)),
		WithLogger(logging.NewWriter(logs, slog.LevelDebug)),
	)
	require.NoError(t, p.Init())
	return &testRig{planner: p, engine: eng, gpio: gpio, reg: reg, logs: logs}
}

// metricValue returns the value of a counter, optionally selected by one label value
func metricValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label != "" {
				if len(m.GetLabel()) == 0 || m.GetLabel()[0].GetValue() != label {
					continue
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

// pulseTimes replays the engine history and returns the start time of every pulse in microseconds
func pulseTimes(history []core.EngineCommand) []uint64 {
	var out []uint64
	var now uint64
	for _, cmd := range history {
		if cmd.Kind == core.CmdPulse {
			out = append(out, now)
		}
		now += uint64(cmd.Duration())
	}
	return out
}

func TestMoveLinearFullTable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Y.StepsPerMM = 80
	rig := newTestRig(t, cfg)
	ctx := context.Background()

	delta := standalone.NewCoordinates(cfg.X.TableSizeMM, cfg.Y.TableSizeMM, cfg.Z.TableSizeMM, 100)
	report, err := rig.planner.MoveLinear(ctx, delta, cfg.MaxVelocity)
	require.NoError(t, err)
	require.NoError(t, rig.planner.Join(ctx))
	rig.engine.Wait()

	assert.Equal(t, standalone.AxisZ, report.DrivingAxis)
	assert.Equal(t, int64(88000), report.TotalSteps)
	assert.True(t, report.Stream.InstantRun)

	assert.Equal(t, int64(20000), rig.engine.Position("x"))
	assert.Equal(t, int64(16000), rig.engine.Position("y"))
	assert.Equal(t, int64(88000), rig.engine.Position("z"))
	assert.Equal(t, int64(15000), rig.engine.Position("e"))
	assert.Empty(t, rig.engine.Errors())
	assert.Equal(t, delta, rig.planner.Position())
	assert.Same(t, report, rig.planner.LastMove())
}

func TestMoveLinearDirections(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.InstantRun = false
	rig := newTestRig(t, cfg)

	_, err := rig.planner.MoveLinear(context.Background(), standalone.NewCoordinates(-1, 2, -3, 4), cfg.MaxVelocity)
	require.NoError(t, err)

	assert.Equal(t, int64(-100), rig.engine.Position("x"))
	assert.Equal(t, int64(200), rig.engine.Position("y"))
	assert.Equal(t, int64(-1200), rig.engine.Position("z"))
	assert.Equal(t, int64(600), rig.engine.Position("e"))
	assert.Empty(t, rig.engine.Errors())
}

func TestMoveLinearSingleStep(t *testing.T) {
	cfg := config.DefaultConfig()
	rig := newTestRig(t, cfg)
	rig.engine.KeepHistory(true)

	_, err := rig.planner.MoveLinear(context.Background(), standalone.NewCoordinates(1/cfg.X.StepsPerMM, 0, 0, 0), cfg.MaxVelocity)
	require.NoError(t, err)

	history := rig.engine.History()
	require.Len(t, history, 2)
	assert.Equal(t, core.CmdDirection, history[0].Kind)
	assert.Equal(t, core.EngineCommand{Kind: core.CmdPulse, Mask: 1 << cfg.X.StepPin, WidthUS: cfg.PulseWidthUS}, history[1])
}

func TestMoveLinearAccelerationShape(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.InstantRun = false
	rig := newTestRig(t, cfg)
	rig.engine.KeepHistory(true)

	_, err := rig.planner.MoveLinear(context.Background(), standalone.NewCoordinates(100, 0, 0, 0), cfg.MaxVelocity)
	require.NoError(t, err)

	times := pulseTimes(rig.engine.History())
	require.Len(t, times, 10000)

	n := len(times)
	first := times[1] - times[0]
	last := times[n-1] - times[n-2]
	mid := times[n/2] - times[n/2-1]

	assert.Greater(t, first, mid)
	assert.Greater(t, last, mid)

	velocity := 60 / (float64(mid) / 1e6 * cfg.X.StepsPerMM)
	assert.InDelta(t, cfg.MaxVelocity, velocity, 10)

	for i := 1; i < n; i++ {
		require.Greater(t, times[i], times[i-1], "pulse %d", i)
	}
}

func TestMoveLinearSequentialMoves(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.InstantRunThresholdUS = 1000
	rig := newTestRig(t, cfg)
	rig.engine.TimeScale = 0.01
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := rig.planner.MoveLinear(ctx, standalone.NewCoordinates(10, -5, 0, 0), cfg.MaxVelocity)
		require.NoError(t, err)
	}
	require.NoError(t, rig.planner.Join(ctx))
	rig.engine.Wait()

	assert.Equal(t, int64(3000), rig.engine.Position("x"))
	assert.Equal(t, int64(-1500), rig.engine.Position("y"))
	assert.Equal(t, 3, rig.engine.Runs())
	assert.Empty(t, rig.engine.Errors())
	assert.InDelta(t, 30.0, rig.planner.Position().X, 1e-9)
}

func TestMoveLinearRejectsInvalid(t *testing.T) {
	cfg := config.DefaultConfig()
	rig := newTestRig(t, cfg)

	_, err := rig.planner.MoveLinear(context.Background(), standalone.Coordinates{}, cfg.MaxVelocity)
	assert.ErrorIs(t, err, standalone.ErrInvalidMove)

	_, err = rig.planner.MoveLinear(context.Background(), standalone.NewCoordinates(1, 0, 0, 0), 0)
	assert.ErrorIs(t, err, standalone.ErrInvalidMove)

	assert.Zero(t, rig.engine.Runs())
	assert.Equal(t, 2.0, metricValue(t, rig.reg, "pulsecnc_moves_total", "rejected"))
}

func TestMoveLinearMetrics(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.InstantRun = false
	rig := newTestRig(t, cfg)

	_, err := rig.planner.MoveLinear(context.Background(), standalone.NewCoordinates(1, 1, 0, 0), cfg.MaxVelocity)
	require.NoError(t, err)

	assert.Equal(t, 1.0, metricValue(t, rig.reg, "pulsecnc_moves_total", "ok"))
	assert.Equal(t, 100.0, metricValue(t, rig.reg, "pulsecnc_step_events_total", ""))
	assert.Contains(t, rig.logs.String(), "move prepared")
}

func TestMoveCircularNotSupported(t *testing.T) {
	rig := newTestRig(t, config.DefaultConfig())
	err := rig.planner.MoveCircular(context.Background(), standalone.NewCoordinates(10, 0, 0, 0),
		standalone.NewCoordinates(5, 0, 0, 0), PlaneXY, 600, Clockwise)
	assert.ErrorIs(t, err, standalone.ErrNotSupported)
	assert.Zero(t, rig.engine.Runs())
}

func TestSpindleAndDeinit(t *testing.T) {
	cfg := config.DefaultConfig()
	rig := newTestRig(t, cfg)
	pin := core.PWMPin(cfg.SpindlePWMPin)

	require.NoError(t, rig.planner.SpindleControl(50))
	duty, on := rig.gpio.Duty(pin)
	assert.True(t, on)
	assert.Equal(t, core.PWMValue(128), duty)
	assert.Equal(t, 50.0, rig.planner.Spindle())

	require.NoError(t, rig.planner.SpindleControl(100))
	duty, _ = rig.gpio.Duty(pin)
	assert.Equal(t, core.PWMValue(255), duty)

	assert.ErrorIs(t, rig.planner.SpindleControl(120), standalone.ErrInvalidMove)

	require.NoError(t, rig.planner.Deinit(context.Background()))
	_, on = rig.gpio.Duty(pin)
	assert.False(t, on)
	assert.Zero(t, rig.planner.Spindle())
}

func TestJoinHonorsContext(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.InstantRunThresholdUS = 1
	rig := newTestRig(t, cfg)
	// Play in real time so the half-second move outlasts the deadline
	rig.engine.TimeScale = 1

	_, err := rig.planner.MoveLinear(context.Background(), standalone.NewCoordinates(10, 0, 0, 0), cfg.MaxVelocity)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rig.planner.Join(ctx), context.DeadlineExceeded)

	rig.engine.Wait()
	assert.NoError(t, rig.planner.Join(context.Background()))
}

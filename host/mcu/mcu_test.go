package mcu

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsecnc/core"
	"pulsecnc/standalone"
	"pulsecnc/standalone/config"
	"pulsecnc/standalone/planner"
)

type loopback struct {
	mcu    *MCU
	engine *core.VirtualEngine
	gpio   *core.VirtualGPIO
	cfg    *standalone.MachineConfig
}

// newLoopback connects an MCU client to an in-process device over a pipe
func newLoopback(t *testing.T) *loopback {
	t.Helper()
	cfg := config.DefaultConfig()

	engine := core.NewVirtualEngine()
	for _, a := range standalone.Axes {
		ax := cfg.Axis(a)
		engine.BindAxis(a.String(), ax.StepPin, ax.DirPin)
	}
	gpio := core.NewVirtualGPIO()

	hostConn, devConn := net.Pipe()
	dev := core.NewDevice(devConn, engine, core.WithDeviceGPIO(gpio), core.WithDevicePWM(gpio))
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = dev.Serve(ctx, devConn)
	}()

	m := New(hostConn, WithAckTimeout(time.Second))
	t.Cleanup(func() {
		cancel()
		_ = m.Close()
		_ = devConn.Close()
		<-served
	})

	require.NoError(t, m.Identify(context.Background()))
	return &loopback{mcu: m, engine: engine, gpio: gpio, cfg: cfg}
}

func TestIdentify(t *testing.T) {
	lb := newLoopback(t)

	dict := lb.mcu.Dictionary()
	require.NotNil(t, dict)
	assert.Equal(t, core.DictionaryVersion, dict.Version)
	assert.Equal(t, 0, dict.Responses["identify_response offset=%u data=%.*s"])
	assert.Equal(t, 1, dict.Commands["identify offset=%u count=%c"])
	assert.NotEmpty(t, lb.mcu.RawDictionary())

	f, err := lb.mcu.Command("pulse_step")
	require.NoError(t, err)
	assert.Equal(t, "pulse_step mask=%u width=%u", f.String())

	_, err = lb.mcu.Command("no_such_command")
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestCommandErrorReported(t *testing.T) {
	lb := newLoopback(t)

	err := lb.mcu.Send(context.Background(), "pulse_finalize")
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "pulse_finalize", cmdErr.Command)
	assert.Contains(t, cmdErr.Message, "not started")

	// The error is consumed by the command that caused it
	assert.NoError(t, lb.mcu.Send(context.Background(), "pulse_clear"))
}

func TestBatchPacksBlocks(t *testing.T) {
	lb := newLoopback(t)
	lb.engine.KeepHistory(true)
	ctx := context.Background()

	require.NoError(t, lb.mcu.Send(ctx, "pulse_clear"))
	batch := lb.mcu.NewBatch()
	require.NoError(t, batch.Add(ctx, "pulse_dir", 0, 1<<20))
	for i := 0; i < 50; i++ {
		require.NoError(t, batch.Add(ctx, "pulse_step", 1<<21, 2))
		require.NoError(t, batch.Add(ctx, "pulse_delay", 500))
	}
	// Full blocks went out while adding
	assert.Less(t, batch.Pending(), 101)
	require.NoError(t, batch.Flush(ctx))
	assert.Zero(t, batch.Pending())

	status, err := lb.mcu.Query(ctx, "pulse_query", "pulse_status")
	require.NoError(t, err)
	assert.Equal(t, uint32(101), status.Uint("queued"))
	assert.Equal(t, uint32(0), status.Uint("busy"))
}

func TestSerialEngineInfo(t *testing.T) {
	lb := newLoopback(t)
	engine, err := NewSerialEngine(lb.mcu)
	require.NoError(t, err)

	info := engine.Info()
	assert.Equal(t, "serial/virtual", info.Name)
	assert.Equal(t, uint32(1), info.MinPulseUS)
	assert.Zero(t, info.MaxDelayUS)
}

func TestPlannerOverSerial(t *testing.T) {
	lb := newLoopback(t)
	engine, err := NewSerialEngine(lb.mcu)
	require.NoError(t, err)
	io := NewSerialIO(lb.mcu)

	p := planner.NewPlanner(lb.cfg, engine, planner.WithGPIO(io), planner.WithPWM(io))
	require.NoError(t, p.Init())

	ctx := context.Background()
	report, err := p.MoveLinear(ctx, standalone.NewCoordinates(1, -0.5, 0, 0), 600)
	require.NoError(t, err)
	assert.Equal(t, standalone.AxisX, report.DrivingAxis)
	assert.Equal(t, int64(100), report.TotalSteps)
	require.NoError(t, p.Join(ctx))

	assert.Equal(t, int64(100), lb.engine.Position("x"))
	assert.Equal(t, int64(-50), lb.engine.Position("y"))
	assert.Zero(t, lb.engine.Pulses("z"))
	assert.Empty(t, lb.engine.Errors())

	require.NoError(t, p.SpindleControl(50))
	duty, ok := lb.gpio.Duty(core.PWMPin(lb.cfg.SpindlePWMPin))
	require.True(t, ok)
	assert.Equal(t, core.PWMValue(128), duty)

	require.NoError(t, p.Deinit(ctx))
	_, ok = lb.gpio.Duty(core.PWMPin(lb.cfg.SpindlePWMPin))
	assert.False(t, ok)
}

func TestHomingOverSerial(t *testing.T) {
	lb := newLoopback(t)
	engine, err := NewSerialEngine(lb.mcu)
	require.NoError(t, err)
	io := NewSerialIO(lb.mcu)

	for _, a := range []standalone.Axis{standalone.AxisX, standalone.AxisY, standalone.AxisZ} {
		name := a.String()
		lb.gpio.SetInput(core.GPIOPin(lb.cfg.Axis(a).EndstopPin), func() bool {
			return lb.engine.Position(name) > -3
		})
	}

	p := planner.NewPlanner(lb.cfg, engine, planner.WithGPIO(io), planner.WithPWM(io))
	require.NoError(t, p.Init())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := p.Home(ctx)
	require.NoError(t, err)
	assert.Equal(t, planner.HomingComplete, result.Outcome)
	assert.Equal(t, int64(3), result.Pulses)
	assert.Equal(t, int64(-3), lb.engine.Position("x"))
	assert.Equal(t, int64(-3), lb.engine.Position("z"))
}

func TestSerialEngineConcurrentBusyPolling(t *testing.T) {
	lb := newLoopback(t)
	lb.engine.KeepHistory(true)
	engine, err := NewSerialEngine(lb.mcu)
	require.NoError(t, err)
	require.NoError(t, engine.Clear())

	const count = 2000
	stop := make(chan struct{})
	polled := make(chan error, 1)
	go func() {
		for {
			select {
			case <-stop:
				polled <- nil
				return
			default:
			}
			if _, err := engine.IsBusy(); err != nil {
				polled <- err
				return
			}
		}
	}()

	for i := 1; i <= count; i++ {
		require.NoError(t, engine.AppendDelay(uint32(i)))
	}
	close(stop)
	require.NoError(t, <-polled)

	require.NoError(t, engine.RunBlocking())

	history := lb.engine.History()
	require.Len(t, history, count)
	for i, cmd := range history {
		require.Equal(t, core.CmdDelay, cmd.Kind)
		require.Equal(t, uint32(i+1), cmd.DelayUS, "command %d out of order", i)
	}
}

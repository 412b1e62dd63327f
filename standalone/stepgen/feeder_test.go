package stepgen_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsecnc/core"
	"pulsecnc/standalone"
	"pulsecnc/standalone/config"
	"pulsecnc/standalone/stepgen"
)

// scriptedEngine records calls and reports busy for a fixed number of polls
type scriptedEngine struct {
	mu        sync.Mutex
	calls     []string
	busyPolls int
	delays    []uint32
	pulses    []uint32
	failPulse error
}

func (e *scriptedEngine) record(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, name)
}

func (e *scriptedEngine) Clear() error { e.record("clear"); return nil }
func (e *scriptedEngine) AppendDelay(us uint32) error {
	e.record("delay")
	e.delays = append(e.delays, us)
	return nil
}
func (e *scriptedEngine) AppendPulse(mask, width uint32) error {
	if e.failPulse != nil {
		return e.failPulse
	}
	e.record("pulse")
	e.pulses = append(e.pulses, mask)
	return nil
}
func (e *scriptedEngine) AppendDirection(set, clear uint32) error { e.record("dir"); return nil }
func (e *scriptedEngine) IsBusy() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busyPolls > 0 {
		e.busyPolls--
		e.calls = append(e.calls, "busy")
		return true, nil
	}
	return false, nil
}
func (e *scriptedEngine) StartAsync() error  { e.record("start"); return nil }
func (e *scriptedEngine) Finalize() error    { e.record("finalize"); return nil }
func (e *scriptedEngine) RunBlocking() error { e.record("run"); return nil }

func (e *scriptedEngine) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c == name {
			n++
		}
	}
	return n
}

type sliceSource struct {
	events []stepgen.Event
}

func (s *sliceSource) Next() (stepgen.Event, bool) {
	if len(s.events) == 0 {
		return nil, false
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, true
}

func TestFeederCommandStream(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.InstantRun = false
	eng := &scriptedEngine{}
	x := standalone.AxisSet(0).With(standalone.AxisX)
	xy := x.With(standalone.AxisY)

	src := &sliceSource{events: []stepgen.Event{
		stepgen.DirectionEvent{Signs: [4]int{1, -1, 0, 0}},
		stepgen.StepEvent{Index: 0, Time: 0, Axes: xy},
		stepgen.StepEvent{Index: 1, Time: 0.0000014, Axes: x}, // 1 us, inside the previous pulse
		stepgen.StepEvent{Index: 2, Time: 0.0001, Axes: xy},
	}}

	f := stepgen.NewFeeder(eng, cfg, nil)
	report, err := f.Stream(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, []string{"clear", "dir", "pulse", "pulse", "delay", "pulse", "run"}, eng.calls)
	// second pulse ends at 1+2, third starts at 100
	assert.Equal(t, []uint32{97}, eng.delays)
	assert.Equal(t, []uint32{cfg.StepMask(xy), cfg.StepMask(x), cfg.StepMask(xy)}, eng.pulses)
	assert.Equal(t, int64(3), report.Steps)
	assert.Equal(t, int64(102), report.MotionUS)
	assert.False(t, report.InstantRun)
}

func TestFeederWaitsForIdle(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.InstantRun = false
	eng := &scriptedEngine{busyPolls: 3}

	f := stepgen.NewFeeder(eng, cfg, nil)
	_, err := f.Stream(context.Background(), &sliceSource{})
	require.NoError(t, err)

	assert.Equal(t, []string{"busy", "busy", "busy", "clear", "run"}, eng.calls)
}

func TestFeederCancelWhileWaiting(t *testing.T) {
	cfg := config.DefaultConfig()
	eng := &scriptedEngine{busyPolls: 1 << 30}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f := stepgen.NewFeeder(eng, cfg, nil)
	_, err := f.Stream(ctx, &sliceSource{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, eng.count("clear"))
}

func TestFeederPropagatesEngineErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	boom := errors.New("fifo overflow")
	eng := &scriptedEngine{failPulse: boom}

	src := &sliceSource{events: []stepgen.Event{
		stepgen.DirectionEvent{},
		stepgen.StepEvent{Axes: standalone.AxisSet(0).With(standalone.AxisX)},
	}}
	_, err := stepgen.NewFeeder(eng, cfg, nil).Stream(context.Background(), src)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, eng.count("run"))
}

func TestFeederInstantRun(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.InstantRunBudgetMS = 60000
	eng := core.NewVirtualEngine()
	for _, a := range standalone.Axes {
		ax := cfg.Axis(a)
		eng.BindAxis(a.String(), ax.StepPin, ax.DirPin)
	}

	delta := standalone.NewCoordinates(200, 0, 0, 0)
	seq, _ := newSequencer(t, cfg, delta)

	report, err := stepgen.NewFeeder(eng, cfg, nil).Stream(context.Background(), seq)
	require.NoError(t, err)
	eng.Wait()

	assert.True(t, report.InstantRun)
	assert.False(t, report.SlowStart)
	assert.Equal(t, int64(20000), report.Steps)
	assert.Equal(t, int64(20000), eng.Position("x"))
	assert.Empty(t, eng.Errors())
	assert.Equal(t, 1, eng.Runs())
}

func TestFeederSlowStartWarning(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.InstantRunThresholdUS = 1
	cfg.InstantRunBudgetMS = 0
	eng := &scriptedEngine{}

	seq, _ := newSequencer(t, cfg, standalone.NewCoordinates(1, 0, 0, 0))
	report, err := stepgen.NewFeeder(eng, cfg, nil).Stream(context.Background(), seq)
	require.NoError(t, err)

	assert.True(t, report.InstantRun)
	assert.True(t, report.SlowStart)
	assert.Equal(t, 1, eng.count("start"))
	assert.Equal(t, 1, eng.count("finalize"))
	assert.Zero(t, eng.count("run"))
}

func TestFeederSplitsLongDelays(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.InstantRun = false
	eng := &limitedEngine{scriptedEngine: &scriptedEngine{}}

	src := &sliceSource{events: []stepgen.Event{
		stepgen.DirectionEvent{},
		stepgen.StepEvent{Index: 0, Time: 0, Axes: 1},
		stepgen.StepEvent{Index: 1, Time: 0.0025, Axes: 1},
	}}
	_, err := stepgen.NewFeeder(eng, cfg, nil).Stream(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1000, 1000, 498}, eng.delays)
}

type limitedEngine struct {
	*scriptedEngine
}

func (limitedEngine) Info() core.PulseEngineInfo {
	return core.PulseEngineInfo{Name: "limited", MaxDelayUS: 1000}
}

func TestFeederSplitsGapBeyondCommandRange(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.InstantRun = false
	eng := &scriptedEngine{}

	// 5000 s between steps, longer than one uint32 delay can hold
	src := &sliceSource{events: []stepgen.Event{
		stepgen.DirectionEvent{},
		stepgen.StepEvent{Index: 0, Time: 0, Axes: 1},
		stepgen.StepEvent{Index: 1, Time: 5000, Axes: 1},
	}}
	_, err := stepgen.NewFeeder(eng, cfg, nil).Stream(context.Background(), src)
	require.NoError(t, err)

	require.Len(t, eng.delays, 2)
	assert.Equal(t, uint32(math.MaxUint32), eng.delays[0])
	var total uint64
	for _, d := range eng.delays {
		total += uint64(d)
	}
	assert.Equal(t, uint64(5_000_000_000)-uint64(cfg.PulseWidthUS), total)
}

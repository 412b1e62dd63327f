package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrEngineBusy      = errors.New("pulse engine busy")
	ErrBufferFinalized = errors.New("pulse buffer already finalized")
	ErrNotStarted      = errors.New("pulse engine not started")
)

// CommandKind tags a buffered pulse engine command
type CommandKind uint8

const (
	CmdDelay CommandKind = iota
	CmdPulse
	CmdDirection
)

func (k CommandKind) String() string {
	switch k {
	case CmdDelay:
		return "delay"
	case CmdPulse:
		return "pulse"
	case CmdDirection:
		return "direction"
	}
	return "unknown"
}

// EngineCommand is one buffered engine command
type EngineCommand struct {
	Kind    CommandKind
	DelayUS uint32 // CmdDelay
	Mask    uint32 // CmdPulse: step pins
	WidthUS uint32 // CmdPulse
	Set     uint32 // CmdDirection
	Clear   uint32 // CmdDirection
}

// Duration returns the engine time the command occupies in microseconds
func (c EngineCommand) Duration() uint32 {
	switch c.Kind {
	case CmdDelay:
		return c.DelayUS
	case CmdPulse:
		return c.WidthUS
	}
	return 0
}

type virtualAxis struct {
	name     string
	stepPin  uint8
	dirPin   uint8
	pulses   int64
	position int64
	pending  bool // step pin high, fall timer scheduled
}

// VirtualEngine is a software PulseEngine. It replays the buffered commands
// on a simulated microsecond clock driven by a Scheduler, tracks per-axis
// pulse counts and positions, and records protocol violations instead of
// moving hardware. With a non-zero TimeScale playback also sleeps, so a
// started move stays busy for a realistic wall-clock duration.
type VirtualEngine struct {
	mu   sync.Mutex
	cond *sync.Cond

	buffer    []EngineCommand
	next      int
	running   bool
	finalized bool
	done      chan struct{}

	sched     *Scheduler
	dirPins   uint32 // current direction pin levels
	dirSet    uint32 // direction pins written since the last Clear
	axes      []*virtualAxis
	history   []EngineCommand
	keepLog   bool
	errs      []error
	underruns int
	starved   bool
	runs      int

	// TimeScale multiplies engine time to wall-clock sleep during playback; 0 plays instantly
	TimeScale float64
}

// NewVirtualEngine creates an idle virtual engine
func NewVirtualEngine() *VirtualEngine {
	v := &VirtualEngine{
		sched: NewScheduler(),
	}
	v.cond = sync.NewCond(&v.mu)
	return v
}

// BindAxis tells the engine which step/dir pins form an axis so it can
// count pulses and track position. A high direction pin moves negative.
func (v *VirtualEngine) BindAxis(name string, stepPin, dirPin uint8) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.axes = append(v.axes, &virtualAxis{name: name, stepPin: stepPin, dirPin: dirPin})
}

// KeepHistory makes the engine record every executed command
func (v *VirtualEngine) KeepHistory(keep bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keepLog = keep
}

// Info implements InfoProvider
func (v *VirtualEngine) Info() PulseEngineInfo {
	return PulseEngineInfo{Name: "virtual", MinPulseUS: 1}
}

// Clear implements PulseEngine
func (v *VirtualEngine) Clear() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		return ErrEngineBusy
	}
	v.buffer = v.buffer[:0]
	v.next = 0
	v.finalized = false
	v.dirSet = 0
	v.starved = false
	return nil
}

func (v *VirtualEngine) appendCommand(cmd EngineCommand) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.finalized {
		return ErrBufferFinalized
	}
	v.buffer = append(v.buffer, cmd)
	v.cond.Broadcast()
	return nil
}

// AppendDelay implements PulseEngine
func (v *VirtualEngine) AppendDelay(us uint32) error {
	return v.appendCommand(EngineCommand{Kind: CmdDelay, DelayUS: us})
}

// AppendPulse implements PulseEngine
func (v *VirtualEngine) AppendPulse(mask uint32, widthUS uint32) error {
	if widthUS == 0 {
		return fmt.Errorf("pulse width must be positive")
	}
	return v.appendCommand(EngineCommand{Kind: CmdPulse, Mask: mask, WidthUS: widthUS})
}

// AppendDirection implements PulseEngine
func (v *VirtualEngine) AppendDirection(set, clear uint32) error {
	if set&clear != 0 {
		return fmt.Errorf("direction pins both set and cleared: 0x%x", set&clear)
	}
	return v.appendCommand(EngineCommand{Kind: CmdDirection, Set: set, Clear: clear})
}

// IsBusy implements PulseEngine
func (v *VirtualEngine) IsBusy() (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.running, nil
}

// StartAsync implements PulseEngine
func (v *VirtualEngine) StartAsync() error {
	v.mu.Lock()
	if v.running {
		v.mu.Unlock()
		return ErrEngineBusy
	}
	v.running = true
	v.runs++
	v.done = make(chan struct{})
	done := v.done
	v.mu.Unlock()

	go func() {
		defer close(done)
		v.play()
	}()
	return nil
}

// Finalize implements PulseEngine
func (v *VirtualEngine) Finalize() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.running {
		return ErrNotStarted
	}
	v.finalized = true
	v.cond.Broadcast()
	return nil
}

// RunBlocking implements PulseEngine
func (v *VirtualEngine) RunBlocking() error {
	v.mu.Lock()
	if v.running {
		v.mu.Unlock()
		return ErrEngineBusy
	}
	v.running = true
	v.finalized = true
	v.runs++
	v.mu.Unlock()

	v.play()
	return nil
}

// Wait blocks until an asynchronous playback has finished
func (v *VirtualEngine) Wait() {
	v.mu.Lock()
	done := v.done
	v.mu.Unlock()
	if done != nil {
		<-done
	}
}

// play executes buffered commands until the finalized buffer is exhausted
func (v *VirtualEngine) play() {
	defer func() {
		v.sched.Drain()
		v.mu.Lock()
		v.running = false
		v.mu.Unlock()
	}()

	for {
		v.mu.Lock()
		for v.next >= len(v.buffer) && !v.finalized {
			// Ran dry while the producer is still appending
			if !v.starved {
				v.starved = true
				v.underruns++
			}
			v.cond.Wait()
		}
		if v.next >= len(v.buffer) {
			v.mu.Unlock()
			return
		}
		v.starved = false
		cmd := v.buffer[v.next]
		v.next++
		v.mu.Unlock()

		v.execute(cmd)

		if v.TimeScale > 0 && cmd.Duration() > 0 {
			time.Sleep(time.Duration(float64(cmd.Duration()) * v.TimeScale * float64(time.Microsecond)))
		}
	}
}

func (v *VirtualEngine) execute(cmd EngineCommand) {
	now := v.sched.Now()

	v.mu.Lock()
	if v.keepLog {
		v.history = append(v.history, cmd)
	}
	switch cmd.Kind {
	case CmdDirection:
		v.dirPins = (v.dirPins | cmd.Set) &^ cmd.Clear
		v.dirSet |= cmd.Set | cmd.Clear
	case CmdPulse:
		for _, ax := range v.axes {
			if cmd.Mask&(1<<ax.stepPin) == 0 {
				continue
			}
			if v.dirSet&(1<<ax.dirPin) == 0 {
				v.errs = append(v.errs, fmt.Errorf("axis %s: pulse at %dus before direction was set", ax.name, now))
			}
			if ax.pending {
				v.errs = append(v.errs, fmt.Errorf("axis %s: overlapping pulse at %dus", ax.name, now))
			}
			ax.pulses++
			if v.dirPins&(1<<ax.dirPin) != 0 {
				ax.position--
			} else {
				ax.position++
			}
			ax.pending = true
			axis := ax
			v.sched.Schedule(&Timer{
				WakeTime: now + uint64(cmd.WidthUS),
				Handler: func(*Timer) uint8 {
					axis.pending = false
					return SF_DONE
				},
			})
		}
	}
	v.mu.Unlock()

	// Falling edges fire from inside AdvanceTo, which must run without v.mu held
	v.sched.AdvanceTo(now + uint64(cmd.Duration()))
}

// Pulses returns the number of pulses an axis received since creation
func (v *VirtualEngine) Pulses(name string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, ax := range v.axes {
		if ax.name == name {
			return ax.pulses
		}
	}
	return 0
}

// Position returns the signed step position of an axis
func (v *VirtualEngine) Position(name string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, ax := range v.axes {
		if ax.name == name {
			return ax.position
		}
	}
	return 0
}

// ClockUS returns the simulated time consumed by all playbacks so far
func (v *VirtualEngine) ClockUS() uint64 {
	return v.sched.Now()
}

// History returns the executed commands when KeepHistory is enabled
func (v *VirtualEngine) History() []EngineCommand {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]EngineCommand, len(v.history))
	copy(out, v.history)
	return out
}

// Buffered returns the number of commands in the current buffer
func (v *VirtualEngine) Buffered() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.buffer)
}

// Errors returns every violation detected during playback
func (v *VirtualEngine) Errors() []error {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]error, len(v.errs))
	copy(out, v.errs)
	return out
}

// Underruns counts how often streaming playback ran out of buffered commands
func (v *VirtualEngine) Underruns() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.underruns
}

// Runs counts playbacks started with StartAsync or RunBlocking
func (v *VirtualEngine) Runs() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.runs
}

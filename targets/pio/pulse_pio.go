//go:build rp2040

// Package pio is a PulseEngine for the RP2040 that plays pulse buffers on a
// PIO state machine, so step timing is independent of the CPU.
package pio

import (
	"errors"
	"fmt"
	"machine"
	"sync"
	"time"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"pulsecnc/core"
)

// PIO program. Every engine command is two FIFO words: the level of every
// pin in the output window, then how long to hold it.
//
//	.wrap_target
//	pull block
//	out pins, 32
//	pull block
//	out x, 32
//	hold:
//	jmp x--, hold
//	.wrap
//
// A command lasts x+5 state machine cycles from one "out pins" to the next.
func buildPulseProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		asm.Pull(false, true).Encode(),           // 0
		asm.Out(rp2pio.OutDestPins, 32).Encode(), // 1
		asm.Pull(false, true).Encode(),           // 2
		asm.Out(rp2pio.OutDestX, 32).Encode(),    // 3
		asm.Jmp(4, rp2pio.JmpXNZeroDec).Encode(), // 4
	}
}

const (
	programOrigin = 0 // jump targets are absolute

	// State machine clock: 125 MHz / 12.5 = 10 MHz
	clkDivInt    = 12
	clkDivFrac   = 128
	cyclesPerUS  = 10
	commandSetup = 5 // cycles spent outside the hold loop

	// Words that fit in the TX FIFO plus the command executing
	inFlight = 3

	pumpInterval = 20 * time.Microsecond
)

var errWindow = errors.New("pin outside the pio output window")

// Config selects the state machine and the consecutive pins it drives.
// Every step and direction pin must lie in [PinBase, PinBase+PinCount).
type Config struct {
	PIO          uint8 // 0 or 1
	StateMachine uint8 // 0-3
	PinBase      machine.Pin
	PinCount     uint8
	BufferLimit  int // max buffered commands, 0 = DefaultBufferLimit
}

// DefaultBufferLimit bounds RAM used by the command buffer
const DefaultBufferLimit = 4096

type command struct {
	pattern uint32 // window-relative pin levels
	cycles  uint32
}

// Engine implements core.PulseEngine on a PIO state machine
type Engine struct {
	pio    *rp2pio.PIO
	sm     rp2pio.StateMachine
	base   uint8
	window uint32 // absolute mask of the pins the engine owns
	limit  int

	mu        sync.Mutex
	buffer    []command
	next      int
	levels    uint32 // absolute direction pin levels
	running   bool
	finalized bool
	recent    [inFlight]uint32
	recentPos int
}

// NewEngine claims a state machine, loads the program and drives every
// window pin low.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.PinCount == 0 || uint32(cfg.PinBase)+uint32(cfg.PinCount) > 30 {
		return nil, fmt.Errorf("invalid pio pin window %d+%d", cfg.PinBase, cfg.PinCount)
	}
	hw := rp2pio.PIO0
	if cfg.PIO == 1 {
		hw = rp2pio.PIO1
	}
	e := &Engine{
		pio:    hw,
		sm:     hw.StateMachine(cfg.StateMachine),
		base:   uint8(cfg.PinBase),
		window: (uint32(1)<<cfg.PinCount - 1) << uint8(cfg.PinBase),
		limit:  cfg.BufferLimit,
	}
	if e.limit <= 0 {
		e.limit = DefaultBufferLimit
	}

	if !e.sm.TryClaim() {
		return nil, fmt.Errorf("pio%d state machine %d already claimed", cfg.PIO, cfg.StateMachine)
	}
	program := buildPulseProgram()
	offset, err := e.pio.AddProgram(program, programOrigin)
	if err != nil {
		return nil, err
	}

	for i := uint8(0); i < cfg.PinCount; i++ {
		(cfg.PinBase + machine.Pin(i)).Configure(machine.PinConfig{Mode: e.pio.PinMode()})
	}

	smCfg := rp2pio.DefaultStateMachineConfig()
	smCfg.SetOutPins(cfg.PinBase, cfg.PinCount)
	smCfg.SetOutShift(true, false, 32)
	smCfg.SetWrap(offset+uint8(len(program))-1, offset)
	smCfg.SetClkDivIntFrac(clkDivInt, clkDivFrac)

	// Pin directions must be set after Init
	e.sm.Init(offset, smCfg)
	e.sm.SetPindirsConsecutive(cfg.PinBase, cfg.PinCount, true)
	e.sm.SetPinsConsecutive(cfg.PinBase, cfg.PinCount, false)
	e.sm.SetEnabled(true)
	return e, nil
}

// Info implements core.InfoProvider
func (e *Engine) Info() core.PulseEngineInfo {
	return core.PulseEngineInfo{
		Name:        "pio",
		MinPulseUS:  1,
		MaxDelayUS:  100_000_000,
		BufferLimit: e.limit,
	}
}

// Clear implements core.PulseEngine. Direction levels are kept.
func (e *Engine) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return core.ErrEngineBusy
	}
	e.buffer = e.buffer[:0]
	e.next = 0
	e.finalized = false
	return nil
}

// AppendDelay implements core.PulseEngine. A delay following a pulse or
// direction change extends that command's idle hold.
func (e *Engine) AppendDelay(us uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		return err
	}
	cycles := us * cyclesPerUS
	if n := len(e.buffer); n > e.next && e.buffer[n-1].pattern == e.relative(e.levels) {
		e.buffer[n-1].cycles += cycles
		return nil
	}
	return e.push(command{pattern: e.relative(e.levels), cycles: cycles})
}

// AppendPulse implements core.PulseEngine
func (e *Engine) AppendPulse(mask uint32, widthUS uint32) error {
	if widthUS == 0 {
		return fmt.Errorf("pulse width must be positive")
	}
	if mask&^e.window != 0 {
		return fmt.Errorf("step mask 0x%x: %w", mask, errWindow)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		return err
	}
	if err := e.push(command{pattern: e.relative(e.levels | mask), cycles: widthUS * cyclesPerUS}); err != nil {
		return err
	}
	return e.push(command{pattern: e.relative(e.levels)})
}

// AppendDirection implements core.PulseEngine
func (e *Engine) AppendDirection(set, clear uint32) error {
	if set&clear != 0 {
		return fmt.Errorf("direction pins both set and cleared: 0x%x", set&clear)
	}
	if (set|clear)&^e.window != 0 {
		return fmt.Errorf("direction mask 0x%x: %w", set|clear, errWindow)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writable(); err != nil {
		return err
	}
	e.levels = (e.levels | set) &^ clear
	return e.push(command{pattern: e.relative(e.levels)})
}

// IsBusy implements core.PulseEngine
func (e *Engine) IsBusy() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running, nil
}

// StartAsync implements core.PulseEngine
func (e *Engine) StartAsync() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return core.ErrEngineBusy
	}
	e.running = true
	e.mu.Unlock()
	go e.pump()
	return nil
}

// Finalize implements core.PulseEngine
func (e *Engine) Finalize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return core.ErrNotStarted
	}
	e.finalized = true
	return nil
}

// RunBlocking implements core.PulseEngine
func (e *Engine) RunBlocking() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return core.ErrEngineBusy
	}
	e.running = true
	e.finalized = true
	e.mu.Unlock()
	e.pump()
	return nil
}

func (e *Engine) writable() error {
	if e.finalized {
		return core.ErrBufferFinalized
	}
	return nil
}

// push appends a command; while playing, it waits for the pump to make room.
// Called with e.mu held.
func (e *Engine) push(c command) error {
	for len(e.buffer)-e.next >= e.limit {
		if !e.running {
			return fmt.Errorf("pulse buffer full (%d commands)", e.limit)
		}
		e.mu.Unlock()
		time.Sleep(pumpInterval)
		e.mu.Lock()
	}
	e.buffer = append(e.buffer, c)
	return nil
}

func (e *Engine) relative(levels uint32) uint32 {
	return (levels & e.window) >> e.base
}

// pump feeds the TX FIFO until the finalized buffer is played out
func (e *Engine) pump() {
	for {
		e.mu.Lock()
		for e.next < len(e.buffer) && !e.sm.IsTxFIFOFull() {
			c := e.buffer[e.next]
			e.sm.TxPut(c.pattern)
			for e.sm.IsTxFIFOFull() {
			}
			hold := uint32(0)
			if c.cycles > commandSetup {
				hold = c.cycles - commandSetup
			}
			e.sm.TxPut(hold)
			e.recent[e.recentPos] = c.cycles
			e.recentPos = (e.recentPos + 1) % inFlight
			e.next++
		}
		// Drop played commands so a long stream stays within the limit
		if e.next > e.limit/2 {
			n := copy(e.buffer, e.buffer[e.next:])
			e.buffer = e.buffer[:n]
			e.next = 0
		}
		done := e.next >= len(e.buffer) && e.finalized
		e.mu.Unlock()
		if done {
			break
		}
		time.Sleep(pumpInterval)
	}

	for !e.sm.IsTxFIFOEmpty() {
		time.Sleep(pumpInterval)
	}
	// The FIFO is empty but up to inFlight commands may still be holding
	var tail uint32
	e.mu.Lock()
	for _, c := range e.recent {
		tail += c
	}
	e.recent = [inFlight]uint32{}
	e.mu.Unlock()
	time.Sleep(time.Duration(tail/cyclesPerUS+1) * time.Microsecond)

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

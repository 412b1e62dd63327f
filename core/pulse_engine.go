package core

import "math"

// PulseEngine is the hardware abstraction for timed step pulse output.
// Implementations buffer delay, pulse and direction commands and play them
// back with hardware timing: DMA on a host SBC, PIO on an RP2040, a serial
// MCU, or the VirtualEngine used in tests.
//
// Only one move may be buffered or executing at a time. Callers wait for
// IsBusy to return false before calling Clear for the next move.
type PulseEngine interface {
	// Clear drops any buffered commands. Must not be called while busy.
	Clear() error

	// AppendDelay queues a pause of us microseconds
	AppendDelay(us uint32) error

	// AppendPulse raises every pin in mask for widthUS microseconds, then lowers them
	AppendPulse(mask uint32, widthUS uint32) error

	// AppendDirection sets the pins in set and clears the pins in clear
	AppendDirection(set, clear uint32) error

	// IsBusy reports whether the engine is still executing buffered commands
	IsBusy() (bool, error)

	// StartAsync begins playback while more commands may still be appended
	StartAsync() error

	// Finalize marks the end of the buffer of a move started with StartAsync.
	// The engine drains what is left and then goes idle.
	Finalize() error

	// RunBlocking plays the whole buffer and returns once it has been executed
	RunBlocking() error
}

// PulseEngineInfo provides information about an engine implementation
type PulseEngineInfo struct {
	Name        string
	MinPulseUS  uint32 // Shortest supported pulse width
	MaxDelayUS  uint32 // Longest single delay command, longer delays are split
	BufferLimit int    // Max buffered commands, 0 = unbounded
}

// InfoProvider is implemented by engines that can describe themselves
type InfoProvider interface {
	Info() PulseEngineInfo
}

// SplitDelay breaks a delay into chunks no longer than max microseconds.
// A zero max only splits at the range of a single uint32 command.
func SplitDelay(us uint64, max uint32) []uint32 {
	if max == 0 {
		max = math.MaxUint32
	}
	limit := uint64(max)
	if us <= limit {
		return []uint32{uint32(us)}
	}
	chunks := make([]uint32, 0, us/limit+1)
	for us > limit {
		chunks = append(chunks, max)
		us -= limit
	}
	if us > 0 {
		chunks = append(chunks, uint32(us))
	}
	return chunks
}

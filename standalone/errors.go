package standalone

import "errors"

var (
	// ErrInvalidMove rejects a move before any pulse is generated: zero delta,
	// non-positive velocity, or a delta shorter than one step on every axis.
	ErrInvalidMove = errors.New("invalid move")

	// ErrConfig reports an inconsistent machine configuration
	ErrConfig = errors.New("invalid machine configuration")

	// ErrNotSupported is returned for motion types the machine does not implement
	ErrNotSupported = errors.New("not supported")

	// ErrHomingFailed marks a homing run that ended without every endstop triggering
	ErrHomingFailed = errors.New("homing failed")
)

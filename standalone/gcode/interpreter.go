package gcode

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pulsecnc/internal/logging"
	"pulsecnc/standalone"
	"pulsecnc/standalone/kinematics"
	"pulsecnc/standalone/planner"
)

const mmPerInch = 25.4

// Machine is the motion back end the interpreter drives. *planner.Planner
// implements it.
type Machine interface {
	MoveLinear(ctx context.Context, delta standalone.Coordinates, velocity float64) (*planner.MoveReport, error)
	MoveCircular(ctx context.Context, delta, center standalone.Coordinates, plane planner.Plane, velocity float64, dir planner.ArcDirection) error
	Home(ctx context.Context) (planner.HomingResult, error)
	Join(ctx context.Context) error
	SpindleControl(percent float64) error
	Position() standalone.Coordinates
	SetPosition(pos standalone.Coordinates)
}

// Interpreter executes G-code commands against a Machine
type Interpreter struct {
	state   *standalone.MachineState
	config  *standalone.MachineConfig
	machine Machine
	kin     kinematics.Kinematics
	logger  *slog.Logger
	plane   planner.Plane
}

// NewInterpreter creates an interpreter in absolute millimeter mode with
// the feed rate at the machine maximum. kin may be nil to skip limit checks.
func NewInterpreter(config *standalone.MachineConfig, machine Machine, kin kinematics.Kinematics, logger *slog.Logger) *Interpreter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Interpreter{
		state: &standalone.MachineState{
			AbsoluteMode: true,
			FeedRate:     config.MaxVelocity,
		},
		config:  config,
		machine: machine,
		kin:     kin,
		logger:  logger,
	}
}

// Execute runs one parsed command. The returned text, if any, is a report
// for the sender (M114).
func (interp *Interpreter) Execute(ctx context.Context, cmd *standalone.GCodeCommand) (string, error) {
	if cmd == nil || cmd.Type == 0 {
		return "", nil
	}

	switch cmd.Type {
	case 'G':
		return "", interp.executeG(ctx, cmd)
	case 'M':
		return interp.executeM(ctx, cmd)
	}
	return "", fmt.Errorf("%w: %s", standalone.ErrNotSupported, cmd)
}

func (interp *Interpreter) executeG(ctx context.Context, cmd *standalone.GCodeCommand) error {
	switch cmd.Number {
	case 0:
		return interp.doMove(ctx, cmd, interp.config.MaxVelocity)
	case 1:
		if cmd.HasParameter('F') {
			interp.state.FeedRate = interp.toMM(cmd.GetParameter('F', 0))
		}
		return interp.doMove(ctx, cmd, interp.state.FeedRate)
	case 2, 3:
		return interp.doArc(ctx, cmd)
	case 4:
		return interp.doDwell(ctx, cmd)
	case 17:
		interp.plane = planner.PlaneXY
	case 18:
		interp.plane = planner.PlaneZX
	case 19:
		interp.plane = planner.PlaneYZ
	case 20:
		interp.state.Inches = true
	case 21:
		interp.state.Inches = false
	case 28:
		return interp.doHome(ctx)
	case 90:
		interp.state.AbsoluteMode = true
	case 91:
		interp.state.AbsoluteMode = false
	case 92:
		interp.doSetPosition(cmd)
	default:
		return fmt.Errorf("%w: %s", standalone.ErrNotSupported, cmd)
	}
	return nil
}

func (interp *Interpreter) executeM(ctx context.Context, cmd *standalone.GCodeCommand) (string, error) {
	switch cmd.Number {
	case 2, 30:
		return "", interp.machine.Join(ctx)
	case 3:
		speed := cmd.GetParameter('S', 100)
		if err := interp.machine.SpindleControl(speed); err != nil {
			return "", err
		}
		interp.state.SpindleSpeed = speed
	case 5:
		if err := interp.machine.SpindleControl(0); err != nil {
			return "", err
		}
		interp.state.SpindleSpeed = 0
	case 114:
		pos := interp.machine.Position()
		return fmt.Sprintf("X:%.3f Y:%.3f Z:%.3f E:%.3f", pos.X, pos.Y, pos.Z, pos.E), nil
	default:
		return "", fmt.Errorf("%w: %s", standalone.ErrNotSupported, cmd)
	}
	return "", nil
}

// axisLetter returns the G-code word of axis a
func axisLetter(a standalone.Axis) byte {
	return toUpper(a.String()[0])
}

// toMM converts a word value in the active units to millimeters
func (interp *Interpreter) toMM(v float64) float64 {
	if interp.state.Inches {
		return v * mmPerInch
	}
	return v
}

// target resolves the X, Y, Z and E words of cmd against the current position
func (interp *Interpreter) target(cmd *standalone.GCodeCommand) standalone.Coordinates {
	current := interp.machine.Position()
	target := current
	for _, a := range standalone.Axes {
		letter := axisLetter(a)
		if !cmd.HasParameter(letter) {
			continue
		}
		v := interp.toMM(cmd.GetParameter(letter, 0))
		if interp.state.AbsoluteMode {
			target = target.WithAxis(a, v)
		} else {
			target = target.WithAxis(a, current.Axis(a)+v)
		}
	}
	return target
}

func (interp *Interpreter) checkLimits(target standalone.Coordinates) error {
	if interp.kin == nil {
		return nil
	}
	return interp.kin.CheckLimits(target)
}

// doMove executes a linear move (G0/G1). Both ends are snapped to the step
// grid, so a target less than half a step away is a no-op and rounding
// never accumulates across moves.
func (interp *Interpreter) doMove(ctx context.Context, cmd *standalone.GCodeCommand, velocity float64) error {
	target := interp.config.SnapToGrid(interp.target(cmd))
	current := interp.config.SnapToGrid(interp.machine.Position())
	delta := interp.config.StepDelta(target.Sub(current))
	if delta.IsZero() {
		return nil
	}
	if err := interp.checkLimits(target); err != nil {
		return err
	}
	_, err := interp.machine.MoveLinear(ctx, delta, velocity)
	return err
}

// doArc hands G2/G3 to the machine, which may not support arcs
func (interp *Interpreter) doArc(ctx context.Context, cmd *standalone.GCodeCommand) error {
	if cmd.HasParameter('F') {
		interp.state.FeedRate = interp.toMM(cmd.GetParameter('F', 0))
	}
	target := interp.target(cmd)
	if err := interp.checkLimits(target); err != nil {
		return err
	}
	center := standalone.NewCoordinates(
		interp.toMM(cmd.GetParameter('I', 0)),
		interp.toMM(cmd.GetParameter('J', 0)),
		interp.toMM(cmd.GetParameter('K', 0)),
		0)
	dir := planner.Clockwise
	if cmd.Number == 3 {
		dir = planner.CounterClockwise
	}
	delta := target.Sub(interp.machine.Position())
	return interp.machine.MoveCircular(ctx, delta, center, interp.plane, interp.state.FeedRate, dir)
}

// doDwell waits for motion to finish, then pauses for P milliseconds or S seconds
func (interp *Interpreter) doDwell(ctx context.Context, cmd *standalone.GCodeCommand) error {
	if err := interp.machine.Join(ctx); err != nil {
		return err
	}
	d := time.Duration(cmd.GetParameter('P', 0) * float64(time.Millisecond))
	if cmd.HasParameter('S') {
		d = time.Duration(cmd.GetParameter('S', 0) * float64(time.Second))
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// doHome runs the endstop search (G28). A failed search is logged by the
// machine and does not stop the program.
func (interp *Interpreter) doHome(ctx context.Context) error {
	result, err := interp.machine.Home(ctx)
	if err != nil {
		return err
	}
	for _, a := range standalone.Axes {
		if result.Homed.Has(a) {
			interp.state.Homed[a] = true
		}
	}
	return nil
}

// doSetPosition redefines the current position without moving (G92)
func (interp *Interpreter) doSetPosition(cmd *standalone.GCodeCommand) {
	pos := interp.machine.Position()
	for _, a := range standalone.Axes {
		letter := axisLetter(a)
		if cmd.HasParameter(letter) {
			pos = pos.WithAxis(a, interp.toMM(cmd.GetParameter(letter, 0)))
		}
	}
	interp.machine.SetPosition(pos)
}

// State returns the modal state after the last command
func (interp *Interpreter) State() standalone.MachineState {
	s := *interp.state
	s.Position = interp.machine.Position()
	return s
}

// Package manager drives the machine from a stream of G-code lines.
package manager

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"pulsecnc/internal/logging"
	"pulsecnc/standalone"
	"pulsecnc/standalone/gcode"
	"pulsecnc/standalone/kinematics"
)

// Machine is the motion back end: a *planner.Planner, or a
// *planner.Estimator for dry runs.
type Machine interface {
	gcode.Machine
	Deinit(ctx context.Context) error
}

// Manager coordinates the parser, interpreter and machine
type Manager struct {
	config      *standalone.MachineConfig
	parser      *gcode.Parser
	interpreter *gcode.Interpreter
	machine     Machine
	logger      *slog.Logger

	lines  int
	failed int

	// StopOnError makes Run abort at the first failing line
	StopOnError bool

	// AfterLine, when set, is called after every executed line
	AfterLine func()
}

// New creates a manager driving machine. Targets are checked against the
// configured table sizes.
func New(cfg *standalone.MachineConfig, machine Machine, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	kin, err := kinematics.NewCartesian(cfg)
	if err != nil {
		return nil, err
	}
	return &Manager{
		config:      cfg,
		parser:      gcode.NewParser(),
		interpreter: gcode.NewInterpreter(cfg, machine, kin, logger),
		machine:     machine,
		logger:      logger,
	}, nil
}

// State returns the interpreter's modal state
func (m *Manager) State() standalone.MachineState {
	return m.interpreter.State()
}

// ProcessLine parses and executes one line and returns the reply for the
// sender: "ok", or "ok " followed by a report.
func (m *Manager) ProcessLine(ctx context.Context, line string) (string, error) {
	m.lines++
	cmd, err := m.parser.ParseLine(line)
	if err != nil {
		return "", err
	}
	out, err := m.interpreter.Execute(ctx, cmd)
	if err != nil {
		return "", err
	}
	if out != "" {
		return "ok " + out, nil
	}
	return "ok", nil
}

// Run executes every line read from r and writes one reply per non-blank
// line to w. Failing lines are answered with "error: ..." and, unless
// StopOnError is set, execution continues. Run waits for motion to finish
// before returning.
func (m *Manager) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++
		line := scanner.Text()

		reply, err := m.ProcessLine(ctx, line)
		if m.AfterLine != nil {
			m.AfterLine()
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			m.failed++
			m.logger.Warn("line failed", "line", lineNo, "gcode", line, "error", err)
			if _, werr := fmt.Fprintf(w, "error: %v\n", err); werr != nil {
				return werr
			}
			if m.StopOnError {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			continue
		}
		if cmdIsBlank(line) {
			continue
		}
		if _, err := fmt.Fprintln(w, reply); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return m.machine.Join(ctx)
}

func cmdIsBlank(line string) bool {
	for i := 0; i < len(line); i++ {
		if line[i] != ' ' && line[i] != '\t' && line[i] != '\r' {
			return false
		}
	}
	return true
}

// Stats returns the number of processed and failed lines
func (m *Manager) Stats() (lines, failed int) {
	return m.lines, m.failed
}

// Close waits for motion to finish and turns the spindle off
func (m *Manager) Close(ctx context.Context) error {
	return m.machine.Deinit(ctx)
}

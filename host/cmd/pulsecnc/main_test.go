package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeProgram(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.gcode")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestRunVirtual(t *testing.T) {
	path := writeProgram(t, "G28\nG1 X10 F1200\nM3 S25\nG1 Y5\nM5\nM114\n")
	out, err := execute(t, "run", path)
	require.NoError(t, err)
	assert.Equal(t, "ok\nok\nok\nok\nok\nok X:10.000 Y:5.000 Z:0.000 E:0.000\n", out)
}

func TestRunLoopback(t *testing.T) {
	path := writeProgram(t, "G1 X1 Y1 F600\nG1 X0\nM114\n")
	out, err := execute(t, "run", path, "--engine", "loopback")
	require.NoError(t, err)
	assert.Equal(t, "ok\nok\nok X:0.000 Y:1.000 Z:0.000 E:0.000\n", out)
}

func TestRunReportsFailedLines(t *testing.T) {
	path := writeProgram(t, "G1 X1\nG2 X2 I1\n")
	out, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 lines failed")
	assert.Contains(t, out, "error: ")
}

func TestRunMissingFile(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "missing.gcode"))
	assert.Error(t, err)
}

func TestEstimate(t *testing.T) {
	path := writeProgram(t, "G1 X10 F600\nG1 X0\n")
	out, err := execute(t, "estimate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "lines=2 failed=0 moves=2 steps=2000")
	assert.Contains(t, out, "estimated=2.098s")
}

func TestMove(t *testing.T) {
	out, err := execute(t, "move", "--x", "10", "--y", "-2", "--feed", "1200")
	require.NoError(t, err)
	assert.Contains(t, out, "driving=x steps=1000")
}

func TestMoveRejectsZero(t *testing.T) {
	_, err := execute(t, "move")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero-length move")
}

func TestHome(t *testing.T) {
	for _, engine := range []string{"virtual", "loopback"} {
		t.Run(engine, func(t *testing.T) {
			out, err := execute(t, "home", "--engine", engine)
			require.NoError(t, err)
			assert.Equal(t, "homing complete: homed=xyz pending=- pulses=0\n", out)
		})
	}
}

func TestDict(t *testing.T) {
	for _, engine := range []string{"virtual", "loopback"} {
		t.Run(engine, func(t *testing.T) {
			out, err := execute(t, "dict", "--engine", engine)
			require.NoError(t, err)
			assert.Contains(t, out, `"pulse_step mask=%u width=%u"`)
			assert.Contains(t, out, `"version": "pulsecnc-0.1.0"`)
		})
	}
}

func TestUnknownEngine(t *testing.T) {
	_, err := execute(t, "dict", "--engine", "dma")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown engine")
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x:\n  steps_per_mm: 50\n  step_pin: 1\n  dir_pin: 2\nmax_velocity_mm_per_min: 600\nmax_acceleration_mm_per_s2: 100\n"), 0o644))

	out, err := execute(t, "move", "--config", path, "--x", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "steps=100")
}

package standalone

import (
	"fmt"
	"math"
)

// Axis identifies one of the four machine axes.
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
	AxisZ
	AxisE

	NumAxes = 4
)

// Axes lists every axis in driving-axis priority order (X wins ties, then Y, Z, E).
var Axes = [NumAxes]Axis{AxisX, AxisY, AxisZ, AxisE}

// String returns the lowercase axis name used in config files
func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	case AxisE:
		return "e"
	}
	return fmt.Sprintf("axis(%d)", uint8(a))
}

// AxisSet is a bitmask of axes, bit N set for Axis(N)
type AxisSet uint8

// Has reports whether the set contains axis a
func (s AxisSet) Has(a Axis) bool {
	return s&(1<<a) != 0
}

// With returns the set with axis a added
func (s AxisSet) With(a Axis) AxisSet {
	return s | 1<<a
}

// Without returns the set with axis a removed
func (s AxisSet) Without(a Axis) AxisSet {
	return s &^ (1 << a)
}

// Len returns the number of axes in the set
func (s AxisSet) Len() int {
	n := 0
	for _, a := range Axes {
		if s.Has(a) {
			n++
		}
	}
	return n
}

func (s AxisSet) String() string {
	out := ""
	for _, a := range Axes {
		if s.Has(a) {
			out += a.String()
		}
	}
	if out == "" {
		return "-"
	}
	return out
}

// Coordinates is a position or displacement in machine space, in millimeters.
// It is a value type; every operation returns a new value.
type Coordinates struct {
	X float64
	Y float64
	Z float64
	E float64 // Extruder
}

// NewCoordinates builds coordinates from the four axis values
func NewCoordinates(x, y, z, e float64) Coordinates {
	return Coordinates{X: x, Y: y, Z: z, E: e}
}

// Axis returns the component for axis a
func (c Coordinates) Axis(a Axis) float64 {
	switch a {
	case AxisX:
		return c.X
	case AxisY:
		return c.Y
	case AxisZ:
		return c.Z
	case AxisE:
		return c.E
	}
	return 0
}

// WithAxis returns a copy of c with axis a replaced by v
func (c Coordinates) WithAxis(a Axis, v float64) Coordinates {
	switch a {
	case AxisX:
		c.X = v
	case AxisY:
		c.Y = v
	case AxisZ:
		c.Z = v
	case AxisE:
		c.E = v
	}
	return c
}

// Add returns c + o
func (c Coordinates) Add(o Coordinates) Coordinates {
	return Coordinates{c.X + o.X, c.Y + o.Y, c.Z + o.Z, c.E + o.E}
}

// Sub returns c - o
func (c Coordinates) Sub(o Coordinates) Coordinates {
	return Coordinates{c.X - o.X, c.Y - o.Y, c.Z - o.Z, c.E - o.E}
}

// Scale returns c multiplied by k
func (c Coordinates) Scale(k float64) Coordinates {
	return Coordinates{c.X * k, c.Y * k, c.Z * k, c.E * k}
}

// Abs returns the component-wise absolute value
func (c Coordinates) Abs() Coordinates {
	return Coordinates{math.Abs(c.X), math.Abs(c.Y), math.Abs(c.Z), math.Abs(c.E)}
}

// Sign returns -1, 0 or +1 for each axis
func (c Coordinates) Sign() [NumAxes]int {
	var s [NumAxes]int
	for _, a := range Axes {
		s[a] = sign(c.Axis(a))
	}
	return s
}

// FindMax returns the largest absolute component
func (c Coordinates) FindMax() float64 {
	return math.Max(math.Max(math.Abs(c.X), math.Abs(c.Y)), math.Max(math.Abs(c.Z), math.Abs(c.E)))
}

// IsZero reports whether every component is exactly zero
func (c Coordinates) IsZero() bool {
	return c.X == 0 && c.Y == 0 && c.Z == 0 && c.E == 0
}

// String formats the coordinates the way move logs print them
func (c Coordinates) String() string {
	return fmt.Sprintf("X%.3f Y%.3f Z%.3f E%.3f", c.X, c.Y, c.Z, c.E)
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// AxisConfig represents configuration for a single axis
type AxisConfig struct {
	StepsPerMM  float64 `yaml:"steps_per_mm"`
	StepPin     uint8   `yaml:"step_pin"`
	DirPin      uint8   `yaml:"dir_pin"`
	EndstopPin  uint8   `yaml:"endstop_pin"`
	HasEndstop  bool    `yaml:"has_endstop"`
	TableSizeMM float64 `yaml:"table_size_mm"` // 0 = unbounded (extruder)
}

// HomingConfig tunes the endstop search
type HomingConfig struct {
	BudgetFactor    float64 `yaml:"budget_factor"`    // pulses = factor * max steps/mm * max table size
	VelocityPercent float64 `yaml:"velocity_percent"` // fraction of max velocity used while seeking, in percent
	ProgressWarnMS  int     `yaml:"progress_warn_ms"` // "still in progress" log after this long
}

// MachineConfig represents the complete machine configuration
type MachineConfig struct {
	X AxisConfig `yaml:"x"`
	Y AxisConfig `yaml:"y"`
	Z AxisConfig `yaml:"z"`
	E AxisConfig `yaml:"e"`

	// Global motion parameters
	MaxVelocity     float64 `yaml:"max_velocity_mm_per_min"`
	MaxAcceleration float64 `yaml:"max_acceleration_mm_per_s2"`
	PulseWidthUS    uint32  `yaml:"pulse_width_us"`

	// Instant run starts the engine once this much motion is buffered
	InstantRun            bool   `yaml:"instant_run"`
	InstantRunThresholdUS uint32 `yaml:"instant_run_threshold_us"`
	InstantRunBudgetMS    uint32 `yaml:"instant_run_budget_ms"`

	SpindlePWMPin uint8        `yaml:"spindle_pwm_pin"`
	Homing        HomingConfig `yaml:"homing"`
}

// Axis returns the configuration of axis a
func (m *MachineConfig) Axis(a Axis) AxisConfig {
	switch a {
	case AxisX:
		return m.X
	case AxisY:
		return m.Y
	case AxisZ:
		return m.Z
	}
	return m.E
}

// StepsPerMM returns the steps/mm conversion of axis a
func (m *MachineConfig) StepsPerMM(a Axis) float64 {
	return m.Axis(a).StepsPerMM
}

// RequiredSteps returns round(|d| * steps/mm) for axis a
func (m *MachineConfig) RequiredSteps(a Axis, d float64) int64 {
	return int64(math.Round(math.Abs(d) * m.StepsPerMM(a)))
}

// SnapToGrid rounds every axis of c to the nearest whole step. Axes
// without a steps/mm conversion are left untouched.
func (m *MachineConfig) SnapToGrid(c Coordinates) Coordinates {
	for _, a := range Axes {
		if spm := m.StepsPerMM(a); spm > 0 {
			c = c.WithAxis(a, math.Round(c.Axis(a)*spm)/spm)
		}
	}
	return c
}

// StepDelta returns the displacement a move of delta actually produces once
// each axis is rounded to RequiredSteps. Sub-step components become zero.
func (m *MachineConfig) StepDelta(delta Coordinates) Coordinates {
	out := delta
	for _, a := range Axes {
		spm := m.StepsPerMM(a)
		if spm <= 0 {
			continue
		}
		steps := m.RequiredSteps(a, delta.Axis(a))
		if steps == 0 {
			out = out.WithAxis(a, 0)
			continue
		}
		out = out.WithAxis(a, math.Copysign(float64(steps)/spm, delta.Axis(a)))
	}
	return out
}

// StepMask returns the step-pin mask for a set of axes
func (m *MachineConfig) StepMask(s AxisSet) uint32 {
	var mask uint32
	for _, a := range Axes {
		if s.Has(a) {
			mask |= 1 << m.Axis(a).StepPin
		}
	}
	return mask
}

// DirMask returns the direction-pin mask for a set of axes
func (m *MachineConfig) DirMask(s AxisSet) uint32 {
	var mask uint32
	for _, a := range Axes {
		if s.Has(a) {
			mask |= 1 << m.Axis(a).DirPin
		}
	}
	return mask
}

// MachineState represents the current machine state
type MachineState struct {
	Position     Coordinates // Current position
	Homed        [NumAxes]bool
	AbsoluteMode bool    // Absolute (G90) vs relative (G91) positioning
	FeedRate     float64 // Current feedrate (mm/min)
	Inches       bool    // G20 units
	SpindleSpeed float64 // percent, 0 = off
}

// GCodeCommand represents a parsed G-code command
type GCodeCommand struct {
	Type       byte             // 'G', 'M', 'T'
	Number     int              // Command number (e.g., 0 for G0, 28 for G28)
	Parameters map[byte]float64 // Parameters (X, Y, Z, E, F, S, etc.)
	Comment    string           // Comment text
}

// HasParameter checks if a parameter exists in the command
func (cmd *GCodeCommand) HasParameter(param byte) bool {
	_, ok := cmd.Parameters[param]
	return ok
}

// GetParameter gets a parameter value, or returns the default if not present
func (cmd *GCodeCommand) GetParameter(param byte, defaultValue float64) float64 {
	if val, ok := cmd.Parameters[param]; ok {
		return val
	}
	return defaultValue
}

// String renders the command back as a G-code word list
func (cmd *GCodeCommand) String() string {
	if cmd.Type == 0 {
		return cmd.Comment
	}
	out := fmt.Sprintf("%c%d", cmd.Type, cmd.Number)
	for _, p := range []byte("XYZEFSPR") {
		if v, ok := cmd.Parameters[p]; ok {
			out += fmt.Sprintf(" %c%g", p, v)
		}
	}
	return out
}

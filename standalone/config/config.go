package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"pulsecnc/standalone"
)

// LoadConfig parses a YAML (or JSON) configuration and returns a MachineConfig.
// Keys missing from data keep their DefaultConfig values.
func LoadConfig(data []byte) (*standalone.MachineConfig, error) {
	config := DefaultConfig()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: %v", standalone.ErrConfig, err)
	}

	applyDefaults(config)

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFile reads and parses a configuration file
func LoadFile(path string) (*standalone.MachineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills in values that were explicitly zeroed but must not be
func applyDefaults(config *standalone.MachineConfig) {
	if config.PulseWidthUS == 0 {
		config.PulseWidthUS = 2
	}
	if config.InstantRunThresholdUS == 0 {
		config.InstantRunThresholdUS = 500000 // 500 ms of motion
	}
	if config.InstantRunBudgetMS == 0 {
		config.InstantRunBudgetMS = 500
	}

	if config.Homing.BudgetFactor == 0 {
		config.Homing.BudgetFactor = 1.2
	}
	if config.Homing.VelocityPercent == 0 {
		config.Homing.VelocityPercent = 10
	}
	if config.Homing.ProgressWarnMS == 0 {
		config.Homing.ProgressWarnMS = 2000
	}
}

// Validate rejects configurations the pulse generator cannot run with
func Validate(config *standalone.MachineConfig) error {
	if config.MaxVelocity <= 0 {
		return fmt.Errorf("%w: max_velocity_mm_per_min must be positive", standalone.ErrConfig)
	}
	if config.MaxAcceleration <= 0 {
		return fmt.Errorf("%w: max_acceleration_mm_per_s2 must be positive", standalone.ErrConfig)
	}
	if config.PulseWidthUS == 0 {
		return fmt.Errorf("%w: pulse_width_us must be positive", standalone.ErrConfig)
	}

	used := make(map[uint8]string)
	claim := func(pin uint8, owner string) error {
		if pin >= 32 {
			return fmt.Errorf("%w: %s pin %d out of range", standalone.ErrConfig, owner, pin)
		}
		if prev, ok := used[pin]; ok {
			return fmt.Errorf("%w: pin %d used by both %s and %s", standalone.ErrConfig, pin, prev, owner)
		}
		used[pin] = owner
		return nil
	}

	for _, a := range standalone.Axes {
		axis := config.Axis(a)
		if axis.StepsPerMM <= 0 {
			return fmt.Errorf("%w: axis %s steps_per_mm must be positive", standalone.ErrConfig, a)
		}
		if axis.TableSizeMM < 0 {
			return fmt.Errorf("%w: axis %s table_size_mm is negative", standalone.ErrConfig, a)
		}
		if err := claim(axis.StepPin, a.String()+" step"); err != nil {
			return err
		}
		if err := claim(axis.DirPin, a.String()+" dir"); err != nil {
			return err
		}
		if axis.HasEndstop {
			if err := claim(axis.EndstopPin, a.String()+" endstop"); err != nil {
				return err
			}
		}
	}
	if err := claim(config.SpindlePWMPin, "spindle"); err != nil {
		return err
	}
	return nil
}

// DefaultConfig returns the configuration of a small three-axis router
// with an extruder channel, wired to Raspberry Pi GPIO numbers.
func DefaultConfig() *standalone.MachineConfig {
	return &standalone.MachineConfig{
		X: standalone.AxisConfig{
			StepsPerMM:  100,
			StepPin:     21,
			DirPin:      20,
			EndstopPin:  23,
			HasEndstop:  true,
			TableSizeMM: 200,
		},
		Y: standalone.AxisConfig{
			StepsPerMM:  100,
			StepPin:     16,
			DirPin:      19,
			EndstopPin:  10,
			HasEndstop:  true,
			TableSizeMM: 200,
		},
		Z: standalone.AxisConfig{
			StepsPerMM:  400,
			StepPin:     12,
			DirPin:      13,
			EndstopPin:  25,
			HasEndstop:  true,
			TableSizeMM: 220,
		},
		E: standalone.AxisConfig{
			StepsPerMM: 150,
			StepPin:    8,
			DirPin:     7,
		},
		MaxVelocity:           1800,
		MaxAcceleration:       200,
		PulseWidthUS:          2,
		InstantRun:            true,
		InstantRunThresholdUS: 500000,
		InstantRunBudgetMS:    500,
		SpindlePWMPin:         4,
		Homing: standalone.HomingConfig{
			BudgetFactor:    1.2,
			VelocityPercent: 10,
			ProgressWarnMS:  2000,
		},
	}
}

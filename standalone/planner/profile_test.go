package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsecnc/standalone"
	"pulsecnc/standalone/config"
)

func TestNewProfileRejectsInvalidMoves(t *testing.T) {
	cfg := config.DefaultConfig()

	_, err := NewProfile(standalone.Coordinates{}, 1000, cfg)
	assert.ErrorIs(t, err, standalone.ErrInvalidMove)

	_, err = NewProfile(standalone.NewCoordinates(1, 0, 0, 0), 0, cfg)
	assert.ErrorIs(t, err, standalone.ErrInvalidMove)

	_, err = NewProfile(standalone.NewCoordinates(1, 0, 0, 0), -5, cfg)
	assert.ErrorIs(t, err, standalone.ErrInvalidMove)

	// 0.001 mm at 100 steps/mm rounds to zero steps
	_, err = NewProfile(standalone.NewCoordinates(0.001, 0, 0, 0), 1000, cfg)
	assert.ErrorIs(t, err, standalone.ErrInvalidMove)
}

func TestNewProfileRejectsBadConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Y.StepsPerMM = 0

	_, err := NewProfile(standalone.NewCoordinates(1, 1, 0, 0), 1000, cfg)
	assert.ErrorIs(t, err, standalone.ErrConfig)

	// An unused axis with a broken conversion does not matter
	_, err = NewProfile(standalone.NewCoordinates(1, 0, 0, 0), 1000, cfg)
	assert.NoError(t, err)

	cfg = config.DefaultConfig()
	cfg.MaxAcceleration = 0
	_, err = NewProfile(standalone.NewCoordinates(1, 0, 0, 0), 1000, cfg)
	assert.ErrorIs(t, err, standalone.ErrConfig)
}

func TestNewProfileClampsVelocity(t *testing.T) {
	cfg := config.DefaultConfig()
	p, err := NewProfile(standalone.NewCoordinates(10, 0, 0, 0), 1e6, cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.MaxVelocity, p.Velocity())
	assert.InDelta(t, cfg.MaxVelocity/60*cfg.X.StepsPerMM, p.CruiseVelocity(), 1e-9)
}

func TestDrivingAxisTieBreak(t *testing.T) {
	cfg := config.DefaultConfig()

	tests := []struct {
		name  string
		delta standalone.Coordinates
		want  standalone.Axis
		steps int64
	}{
		{"x beats y", standalone.NewCoordinates(1, -1, 0, 0), standalone.AxisX, 100},
		{"y beats z", standalone.NewCoordinates(0, 1, 0.25, 0), standalone.AxisY, 100},
		{"z beats e", standalone.NewCoordinates(0, 0, 0.375, 1), standalone.AxisZ, 150},
		{"most steps wins", standalone.NewCoordinates(1, 0, 1, 0), standalone.AxisZ, 400},
		{"extruder only", standalone.NewCoordinates(0, 0, 0, -2), standalone.AxisE, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProfile(tt.delta, 1000, cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.DrivingAxis())
			assert.Equal(t, tt.steps, p.TotalSteps())
		})
	}
}

func TestProfileSingleStep(t *testing.T) {
	cfg := config.DefaultConfig()
	p, err := NewProfile(standalone.NewCoordinates(1/cfg.X.StepsPerMM, 0, 0, 0), cfg.MaxVelocity, cfg)
	require.NoError(t, err)

	assert.Equal(t, int64(1), p.TotalSteps())
	assert.Equal(t, 0.0, p.TimeOffset(0))
	assert.Equal(t, 0.0, p.TotalTime())
}

func TestProfileTrapezoid(t *testing.T) {
	cfg := config.DefaultConfig()
	// 100 mm on X: 10000 steps, cruise 3000 steps/s, ramps of 225 steps
	p, err := NewProfile(standalone.NewCoordinates(100, 0, 0, 0), cfg.MaxVelocity, cfg)
	require.NoError(t, err)

	require.Equal(t, int64(10000), p.TotalSteps())
	assert.False(t, p.Triangular())
	assert.Equal(t, int64(226), p.AccelEnd())
	assert.Equal(t, int64(9774), p.DecelStart())

	assert.Equal(t, PhaseAccel, p.PhaseAt(0))
	assert.Equal(t, PhaseCruise, p.PhaseAt(5000))
	assert.Equal(t, PhaseDecel, p.PhaseAt(9999))
	assert.InDelta(t, 3000.0, p.VelocityAt(5000), 1e-9)
	assert.Equal(t, 0.0, p.VelocityAt(0))

	// Ramp time v/a = 0.15 s, cruise (9999-450)/3000 s
	assert.InDelta(t, 0.3+9549.0/3000.0, p.TotalTime(), 1e-9)
	assert.InDelta(t, p.TotalTime(), p.TimeOffset(9999), 1e-12)

	prev := p.TimeOffset(0)
	assert.Equal(t, 0.0, prev)
	for i := int64(1); i < p.TotalSteps(); i++ {
		cur := p.TimeOffset(i)
		require.Greater(t, cur, prev, "offset %d", i)
		prev = cur
	}
	assert.GreaterOrEqual(t, p.TotalTime(), prev)

	mid := p.TimeOffset(5000) - p.TimeOffset(4999)
	assert.InDelta(t, 1.0/3000, mid, 1e-12)
}

func TestProfileTriangle(t *testing.T) {
	cfg := config.DefaultConfig()
	// 1 mm on X is 100 steps, far shorter than the two 225-step ramps
	p, err := NewProfile(standalone.NewCoordinates(1, 0, 0, 0), cfg.MaxVelocity, cfg)
	require.NoError(t, err)

	assert.True(t, p.Triangular())
	assert.Equal(t, p.AccelEnd(), p.DecelStart(), "no cruise phase")
	assert.Less(t, p.VelocityAt(50), p.CruiseVelocity())

	span := p.TotalSteps() - 1
	for i := int64(0); i <= span; i++ {
		assert.InDelta(t, p.TotalTime(), p.TimeOffset(i)+p.TimeOffset(span-i), 1e-9, "symmetry at %d", i)
	}
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "accel", PhaseAccel.String())
	assert.Equal(t, "cruise", PhaseCruise.String())
	assert.Equal(t, "decel", PhaseDecel.String())
}

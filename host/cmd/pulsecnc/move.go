package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pulsecnc/standalone"
)

func newMoveCmd(o *rootOptions) *cobra.Command {
	var (
		x, y, z, e float64
		feed       float64
	)

	cmd := &cobra.Command{
		Use:   "move",
		Short: "Execute one relative linear move",
		Example: `  pulsecnc move --x 10 --y -5 --feed 1200
  pulsecnc move --engine serial --device /dev/ttyACM0 --z 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := openRig(ctx, o)
			if err != nil {
				return err
			}
			defer r.Close()

			p, err := r.planner(o, nil)
			if err != nil {
				return err
			}
			if feed <= 0 {
				feed = r.cfg.MaxVelocity
			}

			report, err := p.MoveLinear(ctx, standalone.NewCoordinates(x, y, z, e), feed)
			if err != nil {
				return err
			}
			if err := p.Join(ctx); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "move %s: %s driving=%s steps=%d estimated=%s\n",
				report.ID, report.Delta, report.DrivingAxis, report.TotalSteps, report.Estimated)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Float64Var(&x, "x", 0, "X displacement in mm")
	flags.Float64Var(&y, "y", 0, "Y displacement in mm")
	flags.Float64Var(&z, "z", 0, "Z displacement in mm")
	flags.Float64Var(&e, "e", 0, "extruder displacement in mm")
	flags.Float64VarP(&feed, "feed", "f", 0, "velocity in mm/min (default: machine maximum)")
	return cmd
}

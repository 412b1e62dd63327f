package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHomeCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "home",
		Short: "Drive X, Y and Z to their endstops",
		Args:  cobra.NoArgs,
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
			result, err := p.Home(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "homing %s: homed=%s pending=%s pulses=%d\n",
				result.Outcome, result.Homed, result.Pending, result.Pulses)
			return nil
		},
	}
}

package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pulsecnc/standalone/manager"
	"pulsecnc/standalone/planner"
)

func newEstimateCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate <file.gcode>",
		Short: "Time a G-code program without moving anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.machineConfig()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			est := planner.NewEstimator(cfg)
			est.SetLogger(o.logger)
			m, err := manager.New(cfg, est, o.logger)
			if err != nil {
				return err
			}
			if err := m.Run(cmd.Context(), f, io.Discard); err != nil {
				return err
			}

			lines, failed := m.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "lines=%d failed=%d moves=%d steps=%d estimated=%s\n",
				lines, failed, est.Moves(), est.Steps(), est.Total().Round(time.Millisecond))
			return nil
		},
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pulsecnc/host/status"
	"pulsecnc/standalone/manager"
)

func newRunCmd(o *rootOptions) *cobra.Command {
	var stopOnError bool

	cmd := &cobra.Command{
		Use:   "run <file.gcode>",
		Short: "Execute a G-code program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			r, err := openRig(ctx, o)
			if err != nil {
				return err
			}
			defer r.Close()

			metrics, srv := r.statusServer(ctx, o)
			p, err := r.planner(o, metrics)
			if err != nil {
				return err
			}
			m, err := manager.New(r.cfg, p, o.logger)
			if err != nil {
				return err
			}
			m.StopOnError = stopOnError
			if srv != nil {
				m.AfterLine = func() {
					lines, failed := m.Stats()
					snap := status.Snapshot{
						Position: p.Position(),
						Homed:    p.Homed(),
						Spindle:  p.Spindle(),
						Lines:    lines,
						Failed:   failed,
					}
					if last := p.LastMove(); last != nil {
						snap.LastMove = last.ID.String()
					}
					srv.Update(snap)
				}
			}

			runErr := m.Run(ctx, f, cmd.OutOrStdout())
			if err := m.Close(ctx); err != nil && runErr == nil {
				runErr = err
			}
			lines, failed := m.Stats()
			o.logger.Info("program finished", "file", args[0], "lines", lines, "failed", failed)
			if runErr != nil {
				return runErr
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d lines failed", failed, lines)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "abort at the first failing line")
	return cmd
}

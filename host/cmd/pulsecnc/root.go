package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"pulsecnc/host/serial"
	"pulsecnc/internal/logging"
	"pulsecnc/standalone"
	"pulsecnc/standalone/config"
)

const (
	engineVirtual  = "virtual"
	engineSerial   = "serial"
	engineLoopback = "loopback"
)

// rootOptions holds the persistent flags shared by every subcommand
type rootOptions struct {
	configPath  string
	engine      string
	device      string
	baud        int
	logLevel    string
	metricsAddr string
	timeScale   float64

	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "pulsecnc",
		Short:         "Step-pulse generation for multi-axis CNC machines",
		Long:          `pulsecnc plans trapezoidal moves, turns them into synchronized step pulses and streams them into a pulse engine.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = logging.NewWriter(cmd.ErrOrStderr(), level)
			switch opts.engine {
			case engineVirtual, engineSerial, engineLoopback:
			default:
				return fmt.Errorf("unknown engine %q, want virtual, serial or loopback", opts.engine)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "machine configuration file (YAML or JSON)")
	flags.StringVar(&opts.engine, "engine", engineVirtual, "pulse engine: virtual, serial or loopback")
	flags.StringVar(&opts.device, "device", "/dev/ttyACM0", "serial device of the pulse engine MCU")
	flags.IntVar(&opts.baud, "baud", serial.DefaultBaud, "baud rate (ignored for USB CDC)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /status and /metrics on this address")
	flags.Float64Var(&opts.timeScale, "time-scale", 0, "virtual engine playback speed, 1 = real time, 0 = instant")

	cmd.AddCommand(
		newRunCmd(opts),
		newMoveCmd(opts),
		newEstimateCmd(opts),
		newHomeCmd(opts),
		newDictCmd(opts),
	)
	return cmd
}

// machineConfig loads --config or falls back to the built-in machine
func (o *rootOptions) machineConfig() (*standalone.MachineConfig, error) {
	if o.configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadFile(o.configPath)
}

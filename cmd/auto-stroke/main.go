package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/calvinmclean/autostroke"
	"github.com/calvinmclean/autostroke/client"
	"github.com/calvinmclean/autostroke/motor"
	"github.com/calvinmclean/autostroke/service"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
)

func main() {
	err := rootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string
	level := &slog.LevelVar{}

	root := &cobra.Command{
		Use:          "auto-stroke",
		Short:        "Drive a linear stroking actuator through a 57AIM30 servo",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML device configuration file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the control loop with the HTTP API and console",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := service.LoadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := service.New(cfg, slog.Default(), level)
			if err != nil {
				return err
			}
			defer s.Close()

			return s.Run(ctx, os.Stdin, os.Stdout)
		},
	}
	service.RegisterFlags(serve.Flags())

	root.AddCommand(serve, portsCmd(), scanCmd(&configFile), setBaudRateCmd(&configFile), remoteCmd())
	return root
}

func portsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List USB serial ports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := motor.GetSerialPorts()
			if err != nil {
				return err
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

func scanCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Find the baud rate and device id of the motor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := service.LoadConfig(*configFile, cmd.Flags())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			mc := cfg.MotorConfig()
			result, err := motor.Scan(ctx, motor.ScanOpener(mc), motor.DirectionFor(mc), slog.Default())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	service.RegisterFlags(cmd.Flags())
	return cmd
}

func setBaudRateCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-baud-rate BAUD",
		Short: "Store a new baud rate in the motor, used after it is power cycled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baud, err := cast.ToIntE(args[0])
			if err != nil {
				return fmt.Errorf("invalid baud rate %q", args[0])
			}

			cfg, err := service.LoadConfig(*configFile, cmd.Flags())
			if err != nil {
				return err
			}

			m, err := motor.Open(cfg.MotorConfig(), slog.Default())
			if err != nil {
				return err
			}
			defer m.Close()

			err = m.SetBaudRate(baud)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "baud rate set to %d, power cycle the motor to apply\n", baud)
			return nil
		},
	}
	service.RegisterFlags(cmd.Flags())
	return cmd
}

func remoteCmd() *cobra.Command {
	var addr string

	remote := &cobra.Command{
		Use:   "remote",
		Short: "Control a running auto-stroke over HTTP",
	}
	remote.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "address of the auto-stroke API")

	pause := func(use, short string, args cobra.PositionalArgs, req func([]string) (autostroke.PauseRequest, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  args,
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := req(args)
				if err != nil {
					return err
				}
				cfg, err := client.New(addr).Pause(cmd.Context(), r)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cfg)
			},
		}
	}

	remote.AddCommand(
		&cobra.Command{
			Use:   "state",
			Short: "Print the latest engine state",
			RunE: func(cmd *cobra.Command, _ []string) error {
				state, err := client.New(addr).GetState(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), state)
			},
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the motion configuration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := client.New(addr).GetConfig(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cfg)
			},
		},
		&cobra.Command{
			Use:   "set-config FILE",
			Short: "Replace the motion configuration with a complete JSON document, - reads stdin",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var data []byte
				var err error
				if args[0] == "-" {
					data, err = io.ReadAll(cmd.InOrStdin())
				} else {
					data, err = os.ReadFile(args[0])
				}
				if err != nil {
					return err
				}

				cfg, err := autostroke.ParseConfig(data)
				if err != nil {
					return err
				}

				cfg, err = client.New(addr).SetConfig(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cfg)
			},
		},
		pause("pause", "Pause at the paused position", cobra.NoArgs, func([]string) (autostroke.PauseRequest, error) {
			return autostroke.Pause(true), nil
		}),
		pause("start", "Resume motion", cobra.NoArgs, func([]string) (autostroke.PauseRequest, error) {
			return autostroke.Pause(false), nil
		}),
		pause("position POSITION", "Set the paused position", cobra.ExactArgs(1), func(args []string) (autostroke.PauseRequest, error) {
			p, err := cast.ToFloat64E(args[0])
			if err != nil {
				return autostroke.PauseRequest{}, fmt.Errorf("invalid position %q", args[0])
			}
			return autostroke.SetPosition(p), nil
		}),
		pause("adjust DELTA", "Move the paused position by DELTA", cobra.ExactArgs(1), func(args []string) (autostroke.PauseRequest, error) {
			d, err := cast.ToFloat64E(args[0])
			if err != nil {
				return autostroke.PauseRequest{}, fmt.Errorf("invalid delta %q", args[0])
			}
			return autostroke.AdjustPosition(d), nil
		}),
		&cobra.Command{
			Use:   "clear-fault",
			Short: "Resume sending commands after too many motor failures",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return client.New(addr).ClearFault(cmd.Context())
			},
		},
	)

	return remote
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}


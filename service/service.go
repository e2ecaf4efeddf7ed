// Package service wires the motion engine to its motor, storage, HTTP API and console.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/calvinmclean/autostroke"
	"github.com/calvinmclean/autostroke/api"
	"github.com/calvinmclean/autostroke/commands"
	"github.com/calvinmclean/autostroke/controller"
	"github.com/calvinmclean/autostroke/motor"
	"github.com/calvinmclean/autostroke/storage"
)

// Service owns every long-lived component
type Service struct {
	cfg    Config
	logger *slog.Logger

	storage    *storage.Store
	store      *controller.ConfigStore
	transport  motor.Transport
	controller *controller.Controller
	api        *api.API
	console    *commands.Console

	closeMotor func() error
}

// New opens storage and the motor and builds the controller. Saved pin configuration
// overrides cfg. level may be nil.
func New(cfg Config, logger *slog.Logger, level *slog.LevelVar) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := storage.Open(cfg.StorageFile, logger)
	if err != nil {
		return nil, err
	}

	s := &Service{storage: st, logger: logger.With("component", "service"), closeMotor: func() error { return nil }}

	err = s.setup(cfg, logger, level)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) setup(cfg Config, logger *slog.Logger, level *slog.LevelVar) error {
	defaultPins := cfg.Pins()

	pins, err := s.storage.LoadPins()
	switch {
	case err == nil:
		cfg = cfg.WithPins(pins)
		s.logger.Info("using saved pin configuration", "serial_port", cfg.SerialPort, "baud_rate", cfg.BaudRate, "device_id", cfg.DeviceID)
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}
	err = cfg.Validate()
	if err != nil {
		return err
	}
	s.cfg = cfg

	if cfg.Verbose && level != nil {
		level.Set(slog.LevelDebug)
	}

	motion, err := s.storage.LoadConfig()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		motion = autostroke.DefaultConfig()
	case err != nil:
		s.logger.Warn("ignoring saved config", "error", err)
		motion = autostroke.DefaultConfig()
	}

	s.store, err = controller.NewConfigStore(motion)
	if err != nil {
		return err
	}

	s.transport, err = s.openMotor(logger)
	if err != nil {
		return err
	}

	mapper, err := controller.NewPositionMapper(cfg.PosMin, cfg.PosMax)
	if err != nil {
		return err
	}

	opts := cfg.ControllerOptions()
	opts.Logger = logger
	opts.LogLevel = level

	s.controller, err = controller.New(s.store, s.transport, mapper, opts)
	if err != nil {
		return fmt.Errorf("error creating controller: %w", err)
	}

	s.api = api.New(s.controller, logger)
	s.console = &commands.Console{
		Controller:  s.controller,
		Pins:        s.storage,
		DefaultPins: defaultPins,
		Terminate:   cfg.Terminate,
		Logger:      logger,
	}

	return nil
}

func (s *Service) openMotor(logger *slog.Logger) (motor.Transport, error) {
	if s.cfg.SerialPort == motor.SerialPortNone {
		s.logger.Info("using simulated motor")
		return motor.NewSimulator((s.cfg.PosMin+s.cfg.PosMax)/2, s.cfg.SimulatedSpeed), nil
	}

	m, err := motor.Open(s.cfg.MotorConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("error opening motor: %w", err)
	}
	s.closeMotor = m.Close

	if s.cfg.InitMotor {
		err = m.Init(s.cfg.Motor)
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (s *Service) Controller() *controller.Controller {
	return s.controller
}

func (s *Service) Storage() *storage.Store {
	return s.storage
}

func (s *Service) API() *api.API {
	return s.api
}

// Run runs the controller, the persistence watcher and the HTTP API until ctx is done or one
// of them fails. When in is not nil and the console is enabled, commands are read from in and
// answered on out. The console is not waited for since a blocked read cannot be interrupted.
func (s *Service) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 3)

	start := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				errs <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	start("controller", s.controller.Run)
	start("storage", func(ctx context.Context) error {
		s.storage.Watch(ctx, s.store, storage.DefaultWatchInterval)
		return nil
	})
	if s.cfg.HTTPAddr != "" {
		start("api", func(ctx context.Context) error {
			return s.api.Serve(ctx, s.cfg.HTTPAddr)
		})
	}

	if s.cfg.Console && in != nil {
		go func() {
			err := s.console.Run(ctx, in, out)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("console stopped", "error", err)
			}
		}()
	}

	s.logger.Info("service started", "http_addr", s.cfg.HTTPAddr, "serial_port", s.cfg.SerialPort)
	wg.Wait()
	close(errs)

	var all []error
	for err := range errs {
		all = append(all, err)
	}
	return errors.Join(all...)
}

// Close saves the configuration and releases the motor and storage
func (s *Service) Close() error {
	var err error
	if s.store != nil {
		err = s.storage.SaveConfig(s.store.Get())
	}
	err = errors.Join(err, s.closeMotor())
	s.storage.Close()
	return err
}

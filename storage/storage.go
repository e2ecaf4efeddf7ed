// Package storage persists the motion configuration and the pin configuration so both
// survive a restart.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/calvinmclean/autostroke"

	"github.com/tarmac-project/hord"
	"github.com/tarmac-project/hord/drivers/hashmap"
)

const (
	motorConfigKey = "motor_config"
	pinConfigKey   = "pin_configuration"

	// DefaultWatchInterval is how often Watch checks for a new configuration version
	DefaultWatchInterval = 200 * time.Millisecond
)

// ErrNotFound is returned when nothing has been saved under a key yet
var ErrNotFound = errors.New("not found")

// ErrUnsupportedFile is returned by Open for a file the database cannot be stored in
var ErrUnsupportedFile = errors.New("storage file must have a .json, .yaml or .yml extension")

// PinConfiguration describes how the motor is wired. Changes apply at the next start.
type PinConfiguration struct {
	SerialPort   string `json:"serial_port" yaml:"serial_port"`
	Driver       string `json:"driver,omitempty" yaml:"driver"`
	Direction    string `json:"de_re" yaml:"de_re"`
	DirectionPin string `json:"de_re_pin,omitempty" yaml:"de_re_pin"`
	BaudRate     int    `json:"baud_rate" yaml:"baud_rate"`
	DeviceID     byte   `json:"device_id" yaml:"device_id"`
}

// Store keeps JSON documents in a hord database
type Store struct {
	db     hord.Database
	logger *slog.Logger
}

// Open uses a hashmap database backed by filename, which must be a .json, .yaml or .yml
// file. An empty filename keeps everything in memory.
func Open(filename string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if filename != "" {
		switch filepath.Ext(filename) {
		case ".json", ".yaml", ".yml":
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedFile, filename)
		}
	}

	db, err := hashmap.Dial(hashmap.Config{Filename: filename})
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	err = db.Setup()
	if err != nil {
		return nil, fmt.Errorf("error setting up database: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "storage")}, nil
}

// Close releases the database
func (s *Store) Close() {
	s.db.Close()
}

// LoadConfig returns the saved motion configuration, normalized
func (s *Store) LoadConfig() (autostroke.Config, error) {
	var cfg autostroke.Config
	err := s.get(motorConfigKey, &cfg)
	if err != nil {
		return autostroke.Config{}, err
	}

	return cfg.Normalize()
}

func (s *Store) SaveConfig(cfg autostroke.Config) error {
	return s.set(motorConfigKey, cfg)
}

func (s *Store) LoadPins() (PinConfiguration, error) {
	var pins PinConfiguration
	err := s.get(pinConfigKey, &pins)
	return pins, err
}

func (s *Store) SavePins(pins PinConfiguration) error {
	return s.set(pinConfigKey, pins)
}

// UpdatePins applies fn to the saved pin configuration, starting from fallback when nothing
// is saved yet
func (s *Store) UpdatePins(fallback PinConfiguration, fn func(*PinConfiguration)) (PinConfiguration, error) {
	pins, err := s.LoadPins()
	switch {
	case errors.Is(err, ErrNotFound):
		pins = fallback
	case err != nil:
		return PinConfiguration{}, err
	}

	fn(&pins)

	return pins, s.SavePins(pins)
}

func (s *Store) get(key string, v any) error {
	data, err := s.db.Get(key)
	if errors.Is(err, hord.ErrNil) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("error reading %s: %w", key, err)
	}

	err = json.Unmarshal(data, v)
	if err != nil {
		return fmt.Errorf("error decoding %s: %w", key, err)
	}
	return nil
}

func (s *Store) set(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", key, err)
	}

	err = s.db.Set(key, data)
	if err != nil {
		return fmt.Errorf("error writing %s: %w", key, err)
	}
	return nil
}

// Versioned is a configuration source with a change counter
type Versioned interface {
	Load() (autostroke.Config, uint64)
}

// Watch saves the configuration every time its version changes until ctx is done. The
// version seen at start is treated as already saved.
func (s *Store) Watch(ctx context.Context, source Versioned, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	_, saved := source.Load()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cfg, version := source.Load()
		if version == saved {
			continue
		}

		err := s.SaveConfig(cfg)
		if err != nil {
			s.logger.Warn("error saving config", "version", version, "error", err)
			continue
		}
		saved = version
		s.logger.Debug("saved config", "version", version)
	}
}

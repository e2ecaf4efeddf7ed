package controller

import (
	"sync"
	"sync/atomic"

	"github.com/calvinmclean/autostroke"
)

// ConfigStore holds the active motion configuration. Readers dereference the latest
// installed snapshot without locking; writers are serialized so versions increase in the
// order snapshots are installed.
type ConfigStore struct {
	current atomic.Pointer[versionedConfig]
	writeMu sync.Mutex
}

type versionedConfig struct {
	cfg     autostroke.Config
	version uint64
}

// NewConfigStore validates the initial configuration and installs it as version 1
func NewConfigStore(initial autostroke.Config) (*ConfigStore, error) {
	cfg, err := initial.Normalize()
	if err != nil {
		return nil, err
	}

	s := &ConfigStore{}
	s.current.Store(&versionedConfig{cfg: cfg, version: 1})
	return s, nil
}

// Get returns a copy of the current configuration
func (s *ConfigStore) Get() autostroke.Config {
	return s.load().cfg.Clone()
}

// Load returns a copy of the current configuration together with its version
func (s *ConfigStore) Load() (autostroke.Config, uint64) {
	vc := s.load()
	return vc.cfg.Clone(), vc.version
}

// Version increases by one with every installed configuration
func (s *ConfigStore) Version() uint64 {
	return s.load().version
}

// Replace validates and installs a complete configuration. On error the current
// configuration is kept and the error is an *autostroke.ValidationError.
func (s *ConfigStore) Replace(cfg autostroke.Config) (autostroke.Config, error) {
	return s.Update(func(autostroke.Config) (autostroke.Config, error) {
		return cfg, nil
	})
}

// Update installs the configuration computed from the current one. fn receives a private
// copy; concurrent updates are applied one after another, never interleaved.
func (s *ConfigStore) Update(fn func(autostroke.Config) (autostroke.Config, error)) (autostroke.Config, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev := s.load()
	next, err := fn(prev.cfg.Clone())
	if err != nil {
		return autostroke.Config{}, err
	}

	next, err = next.Normalize()
	if err != nil {
		return autostroke.Config{}, err
	}

	s.current.Store(&versionedConfig{cfg: next, version: prev.version + 1})
	return next.Clone(), nil
}

// load returns the installed snapshot. Callers must not modify it.
func (s *ConfigStore) load() *versionedConfig {
	return s.current.Load()
}

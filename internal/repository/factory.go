package repository

import (
	"fmt"
	"sync"

	"github.com/RMSantista/VibeCForms-sub002/internal/config"
	"github.com/RMSantista/VibeCForms-sub002/pkg/domain"
)

// Factory hands out repository instances, one cached per backend type.
// Backends may hold open connections or file handles, so instances are
// shared by every entity bound to the same backend; the migration
// manager uses ForBackend to hold the source and destination drivers of
// different types at the same time.
//
// The factory is an explicit context object owned by the application's
// composition point, not process-global state.
type Factory struct {
	cfg *config.Config

	mu    sync.Mutex
	cache map[domain.BackendType]domain.Repository
}

// NewFactory builds a factory over a configuration document.
func NewFactory(cfg *config.Config) *Factory {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Factory{cfg: cfg, cache: make(map[domain.BackendType]domain.Repository)}
}

// Config exposes the configuration document the factory resolves against.
func (f *Factory) Config() *config.Config { return f.cfg }

// ForEntity resolves the backend type bound to the entity (or the global
// default) and returns the driver serving it.
func (f *Factory) ForEntity(entity string) (domain.Repository, error) {
	return f.ForBackend(f.cfg.BackendFor(entity))
}

// ForBackend returns the cached driver for a backend type, constructing
// it on first use. Unregistered types fail with ErrUnsupportedBackend
// before any storage is touched.
func (f *Factory) ForBackend(t domain.BackendType) (domain.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if repo, ok := f.cache[t]; ok {
		return repo, nil
	}
	ctor, ok := lookup(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedBackend, t)
	}
	repo, err := ctor(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("construct %s repository: %w", t, err)
	}
	f.cache[t] = repo
	return repo, nil
}

// Invalidate closes and discards every cached instance. Call it whenever
// the configuration changes at runtime, e.g. after an entity is rebound
// to a different backend.
func (f *Factory) Invalidate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for t, repo := range f.cache {
		if err := repo.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s repository: %w", t, err)
		}
		delete(f.cache, t)
	}
	return firstErr
}

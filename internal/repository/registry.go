// Package repository resolves which backend driver serves an entity and
// caches one live driver instance per backend type. Drivers register a
// constructor at start-up; nothing here knows how any backend works.
package repository

import (
	"fmt"
	"sort"
	"sync"

	"github.com/RMSantista/VibeCForms-sub002/internal/config"
	"github.com/RMSantista/VibeCForms-sub002/pkg/domain"
)

// Constructor builds a repository instance from the configuration
// document. Each driver package registers one for its backend type.
type Constructor func(cfg *config.Config) (domain.Repository, error)

var (
	registryMu sync.Mutex
	registry   = make(map[domain.BackendType]Constructor)
)

// Register binds a backend type to its driver constructor. Registering
// the same type twice is a programming error and panics at start-up.
func Register(t domain.BackendType, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[t]; dup {
		panic(fmt.Sprintf("repository: duplicate driver registration for %s", t))
	}
	registry[t] = ctor
}

func lookup(t domain.BackendType) (Constructor, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	ctor, ok := registry[t]
	return ctor, ok
}

// Registered returns the backend types with a registered driver, sorted.
func Registered() []domain.BackendType {
	registryMu.Lock()
	defer registryMu.Unlock()
	types := make([]domain.BackendType, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

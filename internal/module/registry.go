package module

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	v1 "github.com/gxo-labs/statesync/pkg/statesync/v1"
	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/store"
)

// StoreFactory builds a fresh store definition. It is called once per worker,
// so every worker gets its own initial state.
type StoreFactory func() store.Config

// ManagerFactory builds a manager definition.
type ManagerFactory func() store.ManagerConfig

// StaticRegistry holds store and manager factories registered at compile time.
// It is safe for concurrent use.
type StaticRegistry struct {
	mu       sync.RWMutex
	stores   map[string]StoreFactory
	managers map[string]ManagerFactory
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		stores:   make(map[string]StoreFactory),
		managers: make(map[string]ManagerFactory),
	}
}

// RegisterStore associates a store type with its factory. Empty names, nil
// factories and duplicates are rejected.
func (r *StaticRegistry) RegisterStore(name string, factory StoreFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return syncerrors.NewConfigError("store registration error: name cannot be empty", nil)
	}
	if factory == nil {
		return syncerrors.NewConfigError(fmt.Sprintf("store registration error for '%s': factory cannot be nil", name), nil)
	}
	if _, exists := r.stores[name]; exists {
		return syncerrors.NewConfigError(fmt.Sprintf("store registration error: duplicate store name '%s'", name), nil)
	}
	r.stores[name] = factory
	return nil
}

// RegisterManager associates a manager type with its factory.
func (r *StaticRegistry) RegisterManager(name string, factory ManagerFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return syncerrors.NewConfigError("manager registration error: name cannot be empty", nil)
	}
	if factory == nil {
		return syncerrors.NewConfigError(fmt.Sprintf("manager registration error for '%s': factory cannot be nil", name), nil)
	}
	if _, exists := r.managers[name]; exists {
		return syncerrors.NewConfigError(fmt.Sprintf("manager registration error: duplicate manager name '%s'", name), nil)
	}
	r.managers[name] = factory
	return nil
}

// StoreNames returns the registered store names, sorted.
func (r *StaticRegistry) StoreNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ManagerNames returns the registered manager names, sorted.
func (r *StaticRegistry) ManagerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.managers))
	for name := range r.managers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Install registers the named stores and managers on router, in the order
// given. Nil name lists install everything in sorted order. A name missing
// from the registry or a rejected registration is collected and returned
// after the remaining entries have been tried.
func (r *StaticRegistry) Install(router v1.RouterV1, storeNames, managerNames []string) error {
	if storeNames == nil {
		storeNames = r.StoreNames()
	}
	if managerNames == nil {
		managerNames = r.ManagerNames()
	}

	var errs []error
	for _, name := range storeNames {
		r.mu.RLock()
		factory, ok := r.stores[name]
		r.mu.RUnlock()
		if !ok {
			errs = append(errs, syncerrors.NewConfigError(fmt.Sprintf("store '%s' is not registered", name), nil))
			continue
		}
		if err := router.RegisterStore(factory()); err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range managerNames {
		r.mu.RLock()
		factory, ok := r.managers[name]
		r.mu.RUnlock()
		if !ok {
			errs = append(errs, syncerrors.NewConfigError(fmt.Sprintf("manager '%s' is not registered", name), nil))
			continue
		}
		if err := router.RegisterManager(factory()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var globalRegistry = NewStaticRegistry()

// RegisterStore adds a store factory to the default registry. It is meant
// to be called from init() and panics on error.
func RegisterStore(name string, factory StoreFactory) {
	if err := globalRegistry.RegisterStore(name, factory); err != nil {
		panic(fmt.Errorf("failed to register store '%s' globally: %w", name, err))
	}
}

// RegisterManager adds a manager factory to the default registry. It panics
// on error.
func RegisterManager(name string, factory ManagerFactory) {
	if err := globalRegistry.RegisterManager(name, factory); err != nil {
		panic(fmt.Errorf("failed to register manager '%s' globally: %w", name, err))
	}
}

// Default returns the registry populated by init-time registration.
func Default() *StaticRegistry {
	return globalRegistry
}

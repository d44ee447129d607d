// Package store implements the worker-side store: a named slice of state
// whose only writer is its mutation table.
package store

import (
	"fmt"
	"maps"
	"sort"
	"sync"

	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
	synclog "github.com/gxo-labs/statesync/pkg/statesync/v1/log"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/protocol"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/store"
)

// Poster sends an envelope to the observers. The router binds it to the
// worker port.
type Poster func(protocol.Envelope) error

// Store implements store.Store.
type Store struct {
	typ    string
	tables tables
	post   Poster
	log    synclog.Logger

	// mu serializes commits and reads so envelope order matches state order,
	// even when asynchronous actions commit from other goroutines.
	mu    sync.Mutex
	state interface{}
}

// New builds a store from cfg. Results are reported through post.
func New(cfg store.Config, post Poster, log synclog.Logger) (*Store, error) {
	if cfg.Type == "" {
		return nil, syncerrors.NewConfigError("store registration error: type cannot be empty", nil)
	}
	if post == nil {
		return nil, syncerrors.NewConfigError(fmt.Sprintf("store '%s' requires a poster", cfg.Type), nil)
	}
	if log == nil {
		panic("store.New requires a non-nil logger")
	}
	return &Store{
		typ:    cfg.Type,
		tables: mergeDefaults(cfg),
		post:   post,
		log:    log.With("component", "Store", "store", cfg.Type),
		state:  cfg.State,
	}, nil
}

func (s *Store) Type() string { return s.typ }

// Dispatch runs the named action. Errors returned by the action, and panics
// raised by it, come back as a *HandlerError.
func (s *Store) Dispatch(action string, payload interface{}) (err error) {
	fn, ok := s.tables.actions[action]
	if !ok {
		return syncerrors.NewUnknownActionError(s.typ, action)
	}

	defer func() {
		if r := recover(); r != nil {
			err = syncerrors.NewHandlerError(s.typ, action, fmt.Errorf("action panic: %v", r))
		}
	}()

	s.log.Debugf("Dispatching action '%s'", action)
	if actionErr := fn(s.bindCommit(), payload); actionErr != nil {
		return syncerrors.NewHandlerError(s.typ, action, actionErr)
	}
	return nil
}

// bindCommit returns the commit function handed to actions.
func (s *Store) bindCommit() store.Commit {
	return func(mutation string, payload interface{}, opts ...store.CommitOption) error {
		resolved := store.ResolveCommitOptions(opts...)
		return s.Commit(mutation, payload, resolved.Provide)
	}
}

// Commit applies the named mutation, replaces the state and reports the
// change. When provide is false the envelope omits the new state. If the
// report cannot be posted the new state is kept and the TransportError is
// returned.
func (s *Store) Commit(mutation string, payload interface{}, provide bool) error {
	fn, ok := s.tables.mutations[mutation]
	if !ok {
		return syncerrors.NewUnknownMutationError(s.typ, mutation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.applyMutation(mutation, fn, payload)
	if err != nil {
		return err
	}
	s.state = next

	env := protocol.Envelope{Type: s.typ, Mutation: mutation}
	if provide {
		env.Payload = next
	}
	return s.post(env)
}

func (s *Store) applyMutation(name string, fn store.Mutation, payload interface{}) (next interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = syncerrors.NewHandlerError(s.typ, name, fmt.Errorf("mutation panic: %v", r))
		}
	}()
	return fn(s.state, payload), nil
}

// GetState computes the named getter and reports the result. An empty name
// selects the default getter. An unknown getter emits nothing.
func (s *Store) GetState(getter string, payload interface{}) error {
	if getter == "" {
		getter = protocol.DefaultGetter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := s.compute(getter, payload)
	if err != nil {
		return err
	}
	return s.post(protocol.Envelope{Type: s.typ, Getter: getter, Payload: value})
}

// Snapshot computes the named getter without reporting it.
func (s *Store) Snapshot(getter string, payload interface{}) (interface{}, error) {
	if getter == "" {
		getter = protocol.DefaultGetter
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compute(getter, payload)
}

// compute runs a getter. Callers hold s.mu.
func (s *Store) compute(getter string, payload interface{}) (value interface{}, err error) {
	fn, ok := s.tables.getters[getter]
	if !ok {
		return nil, syncerrors.NewUnknownGetterError(s.typ, getter)
	}
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = syncerrors.NewHandlerError(s.typ, getter, fmt.Errorf("getter panic: %v", r))
		}
	}()
	return fn(s.state, payload, maps.Clone(s.tables.getters)), nil
}

func (s *Store) ActionNames() []string { return sortedKeys(s.tables.actions) }

func (s *Store) GetterNames() []string { return sortedKeys(s.tables.getters) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ store.Store = (*Store)(nil)

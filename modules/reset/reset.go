// Package reset provides the "reset" manager, which returns the demo stores
// to their initial state.
package reset

import (
	"errors"

	"github.com/gxo-labs/statesync/internal/module"
	"github.com/gxo-labs/statesync/modules/counter"
	"github.com/gxo-labs/statesync/modules/todos"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/store"
)

const Type = "reset"

// targets maps a store type to the action that resets it.
var targets = map[string]string{
	counter.Type: "reset",
	todos.Type:   "clear",
}

func init() {
	module.RegisterManager(Type, New)
}

func New() store.ManagerConfig {
	return store.ManagerConfig{Type: Type, Handler: handle}
}

// handle resets the stores named in payload, or every known store when
// payload is not a list. Stores the worker did not register are skipped.
func handle(stores map[string]store.Store, payload interface{}) error {
	var errs []error
	for _, storeType := range selected(payload) {
		action, known := targets[storeType]
		s, registered := stores[storeType]
		if !known || !registered {
			continue
		}
		if err := s.Dispatch(action, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func selected(payload interface{}) []string {
	switch v := payload.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{counter.Type, todos.Type}
	}
}

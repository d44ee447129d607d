package store

import (
	"github.com/gxo-labs/statesync/pkg/statesync/v1/protocol"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/store"
)

// defaultGetter returns the raw state.
func defaultGetter(state, _ interface{}, _ map[string]store.Getter) interface{} {
	return state
}

// tables holds a store's resolved handler tables.
type tables struct {
	mutations map[string]store.Mutation
	actions   map[string]store.Action
	getters   map[string]store.Getter
}

// mergeDefaults lays cfg's tables over the built-in defaults. Caller entries
// win on conflict, including a caller-supplied "default" getter. cfg's maps
// are copied, never modified. Nil handlers are skipped.
func mergeDefaults(cfg store.Config) tables {
	t := tables{
		mutations: make(map[string]store.Mutation, len(cfg.Mutations)),
		actions:   make(map[string]store.Action, len(cfg.Actions)),
		getters:   map[string]store.Getter{protocol.DefaultGetter: defaultGetter},
	}
	for name, fn := range cfg.Mutations {
		if fn != nil {
			t.mutations[name] = fn
		}
	}
	for name, fn := range cfg.Actions {
		if fn != nil {
			t.actions[name] = fn
		}
	}
	for name, fn := range cfg.Getters {
		if fn != nil {
			t.getters[name] = fn
		}
	}
	return t
}

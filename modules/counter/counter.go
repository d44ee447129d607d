// Package counter provides the "counter" demo store: an integer that can be
// incremented, decremented, set and reset.
package counter

import (
	"fmt"
	"time"

	"github.com/gxo-labs/statesync/internal/module"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/store"
)

// Type is the store type the counter registers under.
const Type = "counter"

// AsyncDelay is how long incrementAsync waits before committing.
var AsyncDelay = 10 * time.Millisecond

func init() {
	module.RegisterStore(Type, New)
}

// New returns a fresh counter definition starting at zero.
func New() store.Config {
	return store.Config{
		Type:  Type,
		State: 0,
		Mutations: map[string]store.Mutation{
			"increment": func(state, payload interface{}) interface{} {
				return toInt(state, 0) + toInt(payload, 1)
			},
			"decrement": func(state, payload interface{}) interface{} {
				return toInt(state, 0) - toInt(payload, 1)
			},
			"set": func(state, payload interface{}) interface{} {
				return toInt(payload, toInt(state, 0))
			},
			"reset": func(interface{}, interface{}) interface{} {
				return 0
			},
		},
		Actions: map[string]store.Action{
			"increment": func(commit store.Commit, payload interface{}) error {
				return commit("increment", payload)
			},
			"decrement": func(commit store.Commit, payload interface{}) error {
				return commit("decrement", payload)
			},
			"set": func(commit store.Commit, payload interface{}) error {
				if _, ok := asInt(payload); !ok {
					return fmt.Errorf("set expects a number, got %T", payload)
				}
				return commit("set", payload)
			},
			// incrementAsync commits after AsyncDelay without carrying the
			// new state; observers re-read it with a getter.
			"incrementAsync": func(commit store.Commit, payload interface{}) error {
				go func() {
					time.Sleep(AsyncDelay)
					_ = commit("increment", payload, store.WithoutState())
				}()
				return nil
			},
			"reset": func(commit store.Commit, _ interface{}) error {
				return commit("reset", nil)
			},
		},
		Getters: map[string]store.Getter{
			"double": func(state, _ interface{}, _ map[string]store.Getter) interface{} {
				return toInt(state, 0) * 2
			},
			"isPositive": func(state, _ interface{}, _ map[string]store.Getter) interface{} {
				return toInt(state, 0) > 0
			},
			// plus adds the payload to the current value.
			"plus": func(state, payload interface{}, _ map[string]store.Getter) interface{} {
				return toInt(state, 0) + toInt(payload, 0)
			},
		},
	}
}

// asInt accepts the integer shapes a payload can take after crossing a port.
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func toInt(v interface{}, fallback int) int {
	if n, ok := asInt(v); ok {
		return n
	}
	return fallback
}

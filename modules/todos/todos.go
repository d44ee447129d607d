// Package todos provides the "todos" demo store, a list of items that can be
// added, toggled and removed.
package todos

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gxo-labs/statesync/internal/module"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/store"
)

const Type = "todos"

// Todo is one list item.
type Todo struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

var errEmptyTitle = errors.New("todo title cannot be empty")

func init() {
	module.RegisterStore(Type, New)
}

// New returns an empty todo list definition.
func New() store.Config {
	return store.Config{
		Type:  Type,
		State: []Todo{},
		Mutations: map[string]store.Mutation{
			"add": func(state, payload interface{}) interface{} {
				list := items(state)
				title, _ := payload.(string)
				return append(list, Todo{ID: nextID(list), Title: title})
			},
			"toggle": func(state, payload interface{}) interface{} {
				list := items(state)
				id := toID(payload)
				for i := range list {
					if list[i].ID == id {
						list[i].Done = !list[i].Done
					}
				}
				return list
			},
			"remove": func(state, payload interface{}) interface{} {
				id := toID(payload)
				list := items(state)
				kept := make([]Todo, 0, len(list))
				for _, t := range list {
					if t.ID != id {
						kept = append(kept, t)
					}
				}
				return kept
			},
			"clear": func(interface{}, interface{}) interface{} {
				return []Todo{}
			},
		},
		Actions: map[string]store.Action{
			"add": func(commit store.Commit, payload interface{}) error {
				title, ok := payload.(string)
				if !ok || strings.TrimSpace(title) == "" {
					return errEmptyTitle
				}
				return commit("add", strings.TrimSpace(title))
			},
			"toggle": func(commit store.Commit, payload interface{}) error {
				if toID(payload) < 0 {
					return fmt.Errorf("toggle expects a todo id, got %T", payload)
				}
				return commit("toggle", payload)
			},
			"remove": func(commit store.Commit, payload interface{}) error {
				return commit("remove", payload)
			},
			"clear": func(commit store.Commit, _ interface{}) error {
				return commit("clear", nil)
			},
		},
		Getters: map[string]store.Getter{
			"count": func(state, _ interface{}, _ map[string]store.Getter) interface{} {
				return len(items(state))
			},
			"pending": func(state, _ interface{}, _ map[string]store.Getter) interface{} {
				return filter(items(state), false)
			},
			"completed": func(state, _ interface{}, _ map[string]store.Getter) interface{} {
				return filter(items(state), true)
			},
			"remaining": func(state, payload interface{}, getters map[string]store.Getter) interface{} {
				pending, _ := getters["pending"](state, payload, getters).([]Todo)
				return len(pending)
			},
		},
	}
}

// items returns a copy of the list so mutations never touch the previous state.
func items(state interface{}) []Todo {
	list, _ := state.([]Todo)
	return append([]Todo{}, list...)
}

func filter(list []Todo, done bool) []Todo {
	out := []Todo{}
	for _, t := range list {
		if t.Done == done {
			out = append(out, t)
		}
	}
	return out
}

func nextID(list []Todo) int {
	id := 1
	for _, t := range list {
		if t.ID >= id {
			id = t.ID + 1
		}
	}
	return id
}

func toID(payload interface{}) int {
	switch n := payload.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return -1
	}
}

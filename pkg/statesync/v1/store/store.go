// Package store defines the public contract of a statesync store: a named
// slice of state together with its mutation, action and getter tables.
package store

// Mutation computes the next state from the current state and a payload.
// It must be pure and must return a new value rather than modify state in place.
type Mutation func(state, payload interface{}) interface{}

// Getter derives a value from the current state. getters gives access to the
// store's full getter table so derived getters can compose.
type Getter func(state, payload interface{}, getters map[string]Getter) interface{}

// Action reacts to a dispatch by issuing zero or more commits. It may start
// goroutines and commit later; the error it returns is reported to the
// router, not to the dispatching observer.
type Action func(commit Commit, payload interface{}) error

// Commit applies a named mutation on the store that bound it.
type Commit func(mutation string, payload interface{}, opts ...CommitOption) error

// CommitOptions holds the resolved options of one commit call.
type CommitOptions struct {
	// Provide controls whether the resulting envelope carries the new state.
	Provide bool
}

// CommitOption tunes a single commit.
type CommitOption func(*CommitOptions)

// WithoutState sends a lighter notification that names the mutation but
// omits the new state. Observers that need it can ask with GetState.
func WithoutState() CommitOption {
	return func(o *CommitOptions) { o.Provide = false }
}

// ResolveCommitOptions applies opts over the defaults.
func ResolveCommitOptions(opts ...CommitOption) CommitOptions {
	resolved := CommitOptions{Provide: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&resolved)
		}
	}
	return resolved
}

// Config describes a store to register. Type is mandatory.
type Config struct {
	Type      string
	State     interface{}
	Mutations map[string]Mutation
	Actions   map[string]Action
	Getters   map[string]Getter
}

// Store is a registered store as seen by managers and the router.
type Store interface {
	// Type returns the unique store type.
	Type() string
	// Dispatch runs the named action with a commit bound to this store.
	Dispatch(action string, payload interface{}) error
	// Commit applies the named mutation and reports it to observers.
	Commit(mutation string, payload interface{}, provide bool) error
	// GetState computes the named getter and reports the result to observers.
	// An empty getter name means the default getter.
	GetState(getter string, payload interface{}) error
	// Snapshot computes the named getter without reporting it.
	Snapshot(getter string, payload interface{}) (interface{}, error)
	// ActionNames returns the sorted action names.
	ActionNames() []string
	// GetterNames returns the sorted getter names, including the default getter.
	GetterNames() []string
}

// ManagerHandler performs a cross-store side effect. stores maps every
// registered store type to its store.
type ManagerHandler func(stores map[string]Store, payload interface{}) error

// ManagerConfig describes a manager to register. Type is mandatory.
type ManagerConfig struct {
	Type    string
	Handler ManagerHandler
}

// Package protocol defines the messages exchanged between the worker context
// and its observers: Commands flow to the worker, Envelopes flow back.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
)

// Reserved lifecycle types. Observers read envelopes of these types as
// lifecycle messages, so the router refuses to register a store or manager
// under any of them.
const (
	// TypeInit carries the boot manifest from the worker to observers.
	TypeInit = "INIT"
	// TypeError carries a Fault describing a command the worker could not serve.
	TypeError = "ERROR"
	// TypeCreateClientStore is triggered locally once store proxies exist.
	TypeCreateClientStore = "CREATE_CLIENT_STORE"
	// TypeCreateClientManager is triggered locally with the manager manifest.
	TypeCreateClientManager = "CREATE_CLIENT_MANAGER"
)

// IsReserved reports whether name is a lifecycle type that cannot be used as
// a store or manager type.
func IsReserved(name string) bool {
	switch name {
	case TypeInit, TypeError, TypeCreateClientStore, TypeCreateClientManager:
		return true
	}
	return false
}

// DefaultGetter is the getter every store provides; it returns the raw state.
const DefaultGetter = "default"

// CommandKind is the first element of a command tuple.
type CommandKind string

const (
	KindDispatch    CommandKind = "dispatch"
	KindOperate     CommandKind = "operate"
	KindGetState    CommandKind = "getState"
	KindGetAllState CommandKind = "getAllState"
)

// Command is a request sent to the worker. On the wire it is a positional
// tuple: [kind, target, name, payload] for dispatch and getState,
// [kind, target, payload] for operate, and [kind] for getAllState.
type Command struct {
	Kind CommandKind
	// Target is the store type, or the manager type for operate.
	Target string
	// Name is the action or getter name. Unused by operate and getAllState.
	Name    string
	Payload interface{}
}

// MarshalJSON encodes the command as its positional tuple.
func (c Command) MarshalJSON() ([]byte, error) {
	var tuple []interface{}
	switch c.Kind {
	case KindGetAllState:
		tuple = []interface{}{c.Kind}
	case KindOperate:
		tuple = []interface{}{c.Kind, c.Target, c.Payload}
	default:
		tuple = []interface{}{c.Kind, c.Target, c.Name, c.Payload}
	}
	return json.Marshal(tuple)
}

// UnmarshalJSON decodes a positional tuple. Missing trailing elements are
// left at their zero values; unknown kinds are preserved so the router can
// decide to ignore them.
func (c *Command) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("command must be a JSON array: %w", err)
	}
	if len(tuple) == 0 {
		return errors.New("command tuple is empty")
	}
	*c = Command{}
	var kind string
	if err := json.Unmarshal(tuple[0], &kind); err != nil {
		return fmt.Errorf("command kind: %w", err)
	}
	c.Kind = CommandKind(kind)
	if len(tuple) > 1 {
		if err := json.Unmarshal(tuple[1], &c.Target); err != nil {
			return fmt.Errorf("command target: %w", err)
		}
	}
	if c.Kind == KindOperate {
		if len(tuple) > 2 {
			return json.Unmarshal(tuple[2], &c.Payload)
		}
		return nil
	}
	if len(tuple) > 2 {
		if err := json.Unmarshal(tuple[2], &c.Name); err != nil {
			return fmt.Errorf("command name: %w", err)
		}
	}
	if len(tuple) > 3 {
		return json.Unmarshal(tuple[3], &c.Payload)
	}
	return nil
}

// Envelope is a result sent from the worker. At most one of Mutation and
// Getter is set; lifecycle envelopes set neither.
type Envelope struct {
	Type     string      `json:"type"`
	Payload  interface{} `json:"payload"`
	Mutation string      `json:"mutation,omitempty"`
	Getter   string      `json:"getter,omitempty"`
	Error    *Fault      `json:"error,omitempty"`
}

// IsMutation reports whether the envelope announces a state change.
func (e Envelope) IsMutation() bool { return e.Mutation != "" }

// IsGetter reports whether the envelope carries a getter result.
func (e Envelope) IsGetter() bool { return e.Getter != "" }

// StoreInfo is the manifest entry for one registered store.
type StoreInfo struct {
	Type    string   `json:"type"`
	Actions []string `json:"actions"`
	Getters []string `json:"getters"`
}

// ManagerInfo is the manifest entry for one registered manager.
type ManagerInfo struct {
	Type string `json:"type"`
}

// Manifest is the INIT payload announcing everything the worker can serve.
type Manifest struct {
	Stores   []StoreInfo   `json:"stores"`
	Managers []ManagerInfo `json:"managers"`
	Getters  []string      `json:"getters"`
}

// FaultKind classifies a Fault so the observer can rebuild a typed error.
type FaultKind string

const (
	FaultUnknownAction   FaultKind = "UnknownAction"
	FaultUnknownMutation FaultKind = "UnknownMutation"
	FaultUnknownGetter   FaultKind = "UnknownGetter"
	FaultUnroutable      FaultKind = "Unroutable"
	FaultHandler         FaultKind = "Handler"
	FaultTransport       FaultKind = "Transport"
)

// Fault describes why the worker could not serve a command.
type Fault struct {
	Kind    FaultKind   `json:"kind"`
	Command CommandKind `json:"command"`
	Store   string      `json:"store"`
	Name    string      `json:"name,omitempty"`
	Message string      `json:"message"`
}

// NewFault classifies err, raised while serving cmd.
func NewFault(cmd Command, err error) *Fault {
	f := &Fault{Command: cmd.Kind, Store: cmd.Target, Name: cmd.Name, Message: err.Error()}

	var actionErr *syncerrors.UnknownActionError
	var mutationErr *syncerrors.UnknownMutationError
	var getterErr *syncerrors.UnknownGetterError
	var unroutableErr *syncerrors.UnroutableMessageError
	switch {
	case errors.As(err, &actionErr):
		f.Kind, f.Store, f.Name = FaultUnknownAction, actionErr.Store, actionErr.Action
	case errors.As(err, &mutationErr):
		f.Kind, f.Store, f.Name = FaultUnknownMutation, mutationErr.Store, mutationErr.Mutation
	case errors.As(err, &getterErr):
		f.Kind, f.Store, f.Name = FaultUnknownGetter, getterErr.Store, getterErr.Getter
	case errors.As(err, &unroutableErr):
		f.Kind = FaultUnroutable
	case syncerrors.IsTransport(err):
		f.Kind = FaultTransport
	default:
		f.Kind = FaultHandler
	}
	return f
}

// Err rebuilds the typed error the fault was created from.
func (f *Fault) Err() error {
	switch f.Kind {
	case FaultUnknownAction:
		return syncerrors.NewUnknownActionError(f.Store, f.Name)
	case FaultUnknownMutation:
		return syncerrors.NewUnknownMutationError(f.Store, f.Name)
	case FaultUnknownGetter:
		return syncerrors.NewUnknownGetterError(f.Store, f.Name)
	case FaultUnroutable:
		return syncerrors.NewUnroutableMessageError(string(f.Command), f.Store)
	case FaultTransport:
		return syncerrors.NewTransportError("worker post", errors.New(f.Message))
	default:
		return syncerrors.NewHandlerError(f.Store, f.Name, errors.New(f.Message))
	}
}

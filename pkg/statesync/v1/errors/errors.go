package errors

import (
	"errors"
	"fmt"
)

// --- statesync Core Error Types ---

// ConfigError represents an error encountered while registering a store or
// manager, or while loading and applying runtime options.
type ConfigError struct {
	Message string
	Cause   error
}

func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}
func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}
func (e *ConfigError) Unwrap() error { return e.Cause }

// ValidationError indicates that a runtime configuration document failed
// schema or logical validation.
type ValidationError struct {
	Message string
	Cause   error
}

func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}
func (e *ValidationError) Unwrap() error { return e.Cause }

// UnknownActionError is returned when a dispatch names an action the store
// does not define.
type UnknownActionError struct {
	Store  string
	Action string
}

func NewUnknownActionError(store, action string) *UnknownActionError {
	return &UnknownActionError{Store: store, Action: action}
}
func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("store '%s': unknown action '%s'", e.Store, e.Action)
}

// UnknownMutationError is returned when a commit names a mutation the store
// does not define.
type UnknownMutationError struct {
	Store    string
	Mutation string
}

func NewUnknownMutationError(store, mutation string) *UnknownMutationError {
	return &UnknownMutationError{Store: store, Mutation: mutation}
}
func (e *UnknownMutationError) Error() string {
	return fmt.Sprintf("store '%s': unknown mutation '%s'", e.Store, e.Mutation)
}

// UnknownGetterError is returned when a read names a getter the store does
// not define.
type UnknownGetterError struct {
	Store  string
	Getter string
}

func NewUnknownGetterError(store, getter string) *UnknownGetterError {
	return &UnknownGetterError{Store: store, Getter: getter}
}
func (e *UnknownGetterError) Error() string {
	return fmt.Sprintf("store '%s': unknown getter '%s'", e.Store, e.Getter)
}

// TransportError signals that the underlying send primitive failed, e.g. the
// port is closed or the message could not be copied across the boundary.
type TransportError struct {
	Op    string // e.g., "post", "spawn", "encode"
	Cause error
}

func NewTransportError(op string, cause error) *TransportError {
	return &TransportError{Op: op, Cause: cause}
}
func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("transport error during %s", e.Op)
}
func (e *TransportError) Unwrap() error { return e.Cause }

// UnroutableMessageError indicates an inbound command referenced a store or
// manager type that is not registered with the router.
type UnroutableMessageError struct {
	Kind   string // Command kind that could not be routed.
	Target string // Store or manager type referenced by the command.
}

func NewUnroutableMessageError(kind, target string) *UnroutableMessageError {
	return &UnroutableMessageError{Kind: kind, Target: target}
}
func (e *UnroutableMessageError) Error() string {
	return fmt.Sprintf("unroutable '%s' command: no registered target '%s'", e.Kind, e.Target)
}

// HandlerError wraps a failure raised by user code: an action or manager
// returning an error, or a mutation, getter, action or manager panicking.
type HandlerError struct {
	Store string // Store or manager type.
	Name  string // Action, mutation, getter, or manager name.
	Cause error
}

func NewHandlerError(store, name string, cause error) *HandlerError {
	return &HandlerError{Store: store, Name: name, Cause: cause}
}
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler '%s' of '%s' failed: %v", e.Name, e.Store, e.Cause)
}
func (e *HandlerError) Unwrap() error { return e.Cause }

// IsUnknownName reports whether err is one of the unknown action, mutation or
// getter errors.
func IsUnknownName(err error) bool {
	var actionErr *UnknownActionError
	var mutationErr *UnknownMutationError
	var getterErr *UnknownGetterError
	return errors.As(err, &actionErr) || errors.As(err, &mutationErr) || errors.As(err, &getterErr)
}

// IsTransport checks if an error is a TransportError using errors.As.
func IsTransport(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

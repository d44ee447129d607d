package client

import (
	"context"

	"github.com/gxo-labs/statesync/pkg/statesync/v1/events"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/protocol"
)

// StoreListener receives every envelope of a store: the payload, and the
// mutation or getter name that produced it.
type StoreListener func(payload interface{}, mutation, getter string)

// StoreProxy is the observer-side handle of one worker store. It holds no
// state of its own; every call goes through the client.
type StoreProxy struct {
	info   protocol.StoreInfo
	client *Client
}

func (p *StoreProxy) Type() string { return p.info.Type }

// Actions lists the action names announced in the manifest.
func (p *StoreProxy) Actions() []string { return append([]string(nil), p.info.Actions...) }

// Getters lists the getter names announced in the manifest.
func (p *StoreProxy) Getters() []string { return append([]string(nil), p.info.Getters...) }

func (p *StoreProxy) Dispatch(action string, payload interface{}) error {
	return p.client.Dispatch(p.info.Type, action, payload)
}

// GetState asks the worker for a getter result and waits for it.
func (p *StoreProxy) GetState(ctx context.Context, getter string, payload interface{}) (interface{}, error) {
	return p.client.GetState(ctx, p.info.Type, getter, payload)
}

// GetStateAsync asks the worker for a getter result without waiting.
func (p *StoreProxy) GetStateAsync(getter string, payload interface{}) *Pending {
	return p.client.GetStateAsync(p.info.Type, getter, payload)
}

func (p *StoreProxy) Operate(manager string, payload interface{}) error {
	return p.client.Operate(manager, payload)
}

// Subscribe registers fn for every envelope of this store.
func (p *StoreProxy) Subscribe(fn StoreListener) *events.Subscription {
	if fn == nil {
		return nil
	}
	return p.client.Subscribe(p.info.Type, func(args ...interface{}) {
		payload, mutation, getter := envelopeArgs(args)
		fn(payload, mutation, getter)
	})
}

// Unsubscribe removes one subscription returned by Subscribe. A nil sub is
// ignored so a store's other listeners are never dropped by accident.
func (p *StoreProxy) Unsubscribe(sub *events.Subscription) {
	if sub == nil {
		return
	}
	p.client.Unsubscribe(p.info.Type, sub)
}

// envelopeArgs unpacks the (payload, mutation, getter) trigger arguments.
func envelopeArgs(args []interface{}) (payload interface{}, mutation, getter string) {
	if len(args) > 0 {
		payload = args[0]
	}
	if len(args) > 1 {
		mutation, _ = args[1].(string)
	}
	if len(args) > 2 {
		getter, _ = args[2].(string)
	}
	return payload, mutation, getter
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gxo-labs/statesync/internal/client"
	"github.com/gxo-labs/statesync/modules/counter"
	"github.com/gxo-labs/statesync/modules/reset"
	"github.com/gxo-labs/statesync/modules/todos"
	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/events"
	synclog "github.com/gxo-labs/statesync/pkg/statesync/v1/log"
)

// asyncWait bounds how long the scenario waits for incrementAsync to land.
const asyncWait = 2 * time.Second

// Summary is what the demo scenario observed.
type Summary struct {
	Stores    []string
	Managers  []string
	Mutations int64

	Counter       interface{}
	Double        interface{}
	Remaining     interface{}
	Completed     interface{}
	CounterAfter  interface{}
	UnknownGetter string
}

// Print writes a human readable summary to w.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "stores:          %s\n", strings.Join(s.Stores, ", "))
	fmt.Fprintf(w, "managers:        %s\n", strings.Join(s.Managers, ", "))
	fmt.Fprintf(w, "mutations seen:  %d\n", s.Mutations)
	fmt.Fprintf(w, "counter:         %v (double %v)\n", s.Counter, s.Double)
	fmt.Fprintf(w, "todos remaining: %v, completed: %v\n", s.Remaining, s.Completed)
	fmt.Fprintf(w, "unknown getter:  %s\n", s.UnknownGetter)
	fmt.Fprintf(w, "after reset:     counter %v\n", s.CounterAfter)
}

// runScenario drives the demo stores through c. Commands are sent in order
// and the worker serves them in order, so each getState observes every
// earlier dispatch.
func runScenario(ctx context.Context, c *client.Client, log synclog.Logger) (*Summary, error) {
	summary := &Summary{}
	for storeType := range c.Stores() {
		summary.Stores = append(summary.Stores, storeType)
	}
	sort.Strings(summary.Stores)
	for _, m := range c.Managers() {
		summary.Managers = append(summary.Managers, m.Type)
	}

	var mutations atomic.Int64
	watch := c.Subscribe(events.Wildcard, func(args ...interface{}) {
		if len(args) >= 3 {
			if mutation, _ := args[2].(string); mutation != "" {
				mutations.Add(1)
				log.Debugf("Store '%v' changed by mutation '%s'", args[0], mutation)
			}
		}
	})
	defer c.Unsubscribe(events.Wildcard, watch)

	counterProxy, ok := c.Store(counter.Type)
	if !ok {
		return nil, fmt.Errorf("worker did not announce store '%s'", counter.Type)
	}

	steps := []struct {
		store, action string
		payload       interface{}
	}{
		{counter.Type, "increment", 1},
		{counter.Type, "increment", 2},
		{todos.Type, "add", "write the docs"},
		{todos.Type, "add", "cut a release"},
		{todos.Type, "toggle", 1},
	}
	for _, step := range steps {
		if err := c.Dispatch(step.store, step.action, step.payload); err != nil {
			return nil, fmt.Errorf("dispatch %s.%s: %w", step.store, step.action, err)
		}
	}

	landed := make(chan struct{}, 1)
	asyncSub := counterProxy.Subscribe(func(payload interface{}, mutation, _ string) {
		if mutation == "increment" && payload == nil {
			select {
			case landed <- struct{}{}:
			default:
			}
		}
	})
	defer counterProxy.Unsubscribe(asyncSub)
	if err := counterProxy.Dispatch("incrementAsync", 5); err != nil {
		return nil, fmt.Errorf("dispatch %s.incrementAsync: %w", counter.Type, err)
	}
	select {
	case <-landed:
	case <-time.After(asyncWait):
		return nil, fmt.Errorf("incrementAsync did not commit within %v", asyncWait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var err error
	if summary.Counter, err = c.GetState(ctx, counter.Type, "", nil); err != nil {
		return nil, err
	}
	if summary.Double, err = counterProxy.GetState(ctx, "double", nil); err != nil {
		return nil, err
	}
	if summary.Remaining, err = c.GetState(ctx, todos.Type, "remaining", nil); err != nil {
		return nil, err
	}
	if summary.Completed, err = c.GetState(ctx, todos.Type, "completed", nil); err != nil {
		return nil, err
	}

	_, err = counterProxy.GetState(ctx, "triple", nil)
	var getterErr *syncerrors.UnknownGetterError
	if !errors.As(err, &getterErr) {
		return nil, fmt.Errorf("expected an unknown getter error, got %v", err)
	}
	summary.UnknownGetter = err.Error()

	if err := c.Operate(reset.Type, nil); err != nil {
		return nil, fmt.Errorf("operate %s: %w", reset.Type, err)
	}
	if summary.CounterAfter, err = c.GetState(ctx, counter.Type, "", nil); err != nil {
		return nil, err
	}

	summary.Mutations = mutations.Load()
	return summary, nil
}

package client

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Pending is the eventual result of a getState request.
type Pending struct {
	id   string
	done chan struct{}
	once sync.Once

	value interface{}
	err   error

	mu      sync.Mutex
	settled bool
	undo    []func()
}

func newPending() *Pending {
	return &Pending{id: uuid.NewString(), done: make(chan struct{})}
}

// ID identifies the request in logs and diagnostics.
func (p *Pending) ID() string { return p.id }

// Done is closed once the request is resolved, rejected or cancelled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the outcome once Done is closed. ok is false before that.
func (p *Pending) Result() (value interface{}, err error, ok bool) {
	select {
	case <-p.done:
		return p.value, p.err, true
	default:
		return nil, nil, false
	}
}

// Wait blocks until the request settles or ctx is done. A done ctx cancels
// the request.
func (p *Pending) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.settle(nil, ctx.Err())
	}
	<-p.done
	return p.value, p.err
}

// Cancel stops waiting for the result. The worker still serves the request;
// its answer is simply not delivered here.
func (p *Pending) Cancel() {
	p.settle(nil, context.Canceled)
}

// track registers fn to run when the request settles, or runs it now if it
// already has.
func (p *Pending) track(fn func()) {
	p.mu.Lock()
	if !p.settled {
		p.undo = append(p.undo, fn)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	fn()
}

// settle records the first outcome and drops the subscriptions.
func (p *Pending) settle(value interface{}, err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.settled = true
		undo := p.undo
		p.undo = nil
		p.mu.Unlock()

		for _, fn := range undo {
			fn()
		}
		p.value, p.err = value, err
		close(p.done)
	})
}

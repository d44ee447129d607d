package events

import (
	"sync"

	"github.com/gxo-labs/statesync/pkg/statesync/v1/events"
	synclog "github.com/gxo-labs/statesync/pkg/statesync/v1/log"
)

// ChannelSink implements events.DiagnosticSink on a buffered channel so that
// reporting never blocks the router or client that hit the problem.
// A consumer such as MetricsListener drains the channel.
type ChannelSink struct {
	channel chan events.Diagnostic
	log     synclog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewChannelSink creates a ChannelSink with the given buffer size. A
// non-positive size falls back to 100. Panics if log is nil.
func NewChannelSink(bufferSize int, log synclog.Logger) *ChannelSink {
	const defaultBufferSize = 100
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if log == nil {
		panic("ChannelSink requires a non-nil logger")
	}
	sink := &ChannelSink{
		channel: make(chan events.Diagnostic, bufferSize),
		log:     log.With("component", "ChannelSink"),
	}
	sink.log.Debugf("ChannelSink initialized with buffer size %d", bufferSize)
	return sink
}

// Report queues d. When the buffer is full, or the sink is closed, d is
// dropped with a warning.
func (c *ChannelSink) Report(d events.Diagnostic) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.log.Warnf("Diagnostic sink closed, dropping '%s' diagnostic", d.Kind)
		return
	}
	select {
	case c.channel <- d:
		c.log.Debugf("Queued '%s' diagnostic from %s", d.Kind, d.Source)
	default:
		c.log.Warnf("Diagnostic buffer full, dropping '%s' diagnostic: %v", d.Kind, d.Err)
	}
}

// GetChannel returns the read side of the diagnostic channel.
func (c *ChannelSink) GetChannel() <-chan events.Diagnostic {
	return c.channel
}

// Close closes the channel, telling consumers no more diagnostics will arrive.
// It is safe to call more than once.
func (c *ChannelSink) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.log.Debugf("Closing ChannelSink channel.")
	close(c.channel)
}

var _ events.DiagnosticSink = (*ChannelSink)(nil)

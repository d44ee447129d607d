package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	intEvents "github.com/gxo-labs/statesync/internal/events"
	"github.com/gxo-labs/statesync/internal/logger"
	"github.com/gxo-labs/statesync/pkg/statesync/v1/events"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSink_DropsWhenFull(t *testing.T) {
	sink := intEvents.NewChannelSink(1, logger.NewNopLogger())

	sink.Report(events.Diagnostic{Kind: events.TransportFailure})
	sink.Report(events.Diagnostic{Kind: events.UnroutableCommand}) // dropped, must not block

	got := <-sink.GetChannel()
	assert.Equal(t, events.TransportFailure, got.Kind)
	select {
	case extra := <-sink.GetChannel():
		t.Fatalf("unexpected diagnostic %v", extra.Kind)
	default:
	}
}

func TestChannelSink_ReportAfterCloseIsDropped(t *testing.T) {
	sink := intEvents.NewChannelSink(4, logger.NewNopLogger())
	sink.Close()
	sink.Close()
	assert.NotPanics(t, func() { sink.Report(events.Diagnostic{Kind: events.HandlerPanic}) })

	_, ok := <-sink.GetChannel()
	assert.False(t, ok)
}

func TestMetricsListener_CountsAndForwards(t *testing.T) {
	log := logger.NewNopLogger()
	sink := intEvents.NewChannelSink(8, log)
	counter := intEvents.NewDiagnosticsCounter()
	forward := &recordingSink{}
	listener := intEvents.NewMetricsListener(sink, counter, forward, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		listener.Start(ctx)
		close(done)
	}()

	sink.Report(events.Diagnostic{Kind: events.UnroutableCommand, Source: "router", Err: errors.New("x")})
	sink.Report(events.Diagnostic{Kind: events.UnroutableCommand, Source: "router"})
	sink.Report(events.Diagnostic{Kind: events.TransportFailure, Source: "client"})

	require.Eventually(t, func() bool { return len(forward.all()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(counter.WithLabelValues("UnroutableCommand", "router")))
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("TransportFailure", "client")))

	sink.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop after sink was closed")
	}
}

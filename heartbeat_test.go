package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatEmitsOnlyWhenIntervalElapsed(t *testing.T) {
	transport := newFakeTransport()
	t0 := time.Now()
	h := NewHeartbeatEmitter(transport, "vending/machine/M1/health", t0)

	h.MaybeEmit(t0.Add(30 * time.Second))
	assert.Empty(t, transport.published)

	h.MaybeEmit(t0.Add(60 * time.Second))
	samples := transport.onTopic(t, "vending/machine/M1/health")
	require.Len(t, samples, 1)
	assert.Equal(t, "healthy", samples[0]["status"])
	assert.Equal(t, float64(60), samples[0]["uptime_s"])

	// Advancing by less than another interval must not publish again.
	h.MaybeEmit(t0.Add(90 * time.Second))
	assert.Len(t, transport.onTopic(t, "vending/machine/M1/health"), 1)

	h.MaybeEmit(t0.Add(120 * time.Second))
	assert.Len(t, transport.onTopic(t, "vending/machine/M1/health"), 2)
}

func TestHeartbeatRetriesImmediatelyAfterPublishFailure(t *testing.T) {
	transport := newFakeTransport()
	topic := "vending/machine/M1/health"
	t0 := time.Now()
	h := NewHeartbeatEmitter(transport, topic, t0)

	transport.publishErrFor[topic] = ErrConnLost
	h.MaybeEmit(t0.Add(60 * time.Second))
	assert.Empty(t, transport.published)

	// The stamp must not have advanced: the very next tick retries even
	// though a full interval has not elapsed since the failed attempt.
	delete(transport.publishErrFor, topic)
	h.MaybeEmit(t0.Add(61 * time.Second))
	assert.Len(t, transport.onTopic(t, topic), 1)
}

func TestHeartbeatSampleVitals(t *testing.T) {
	transport := newFakeTransport()
	t0 := time.Now()
	h := NewHeartbeatEmitter(transport, "x", t0)

	sample := h.sample(t0.Add(5 * time.Second))
	assert.Equal(t, "healthy", sample.Status)
	assert.Equal(t, int64(5), sample.UptimeS)
	assert.NotZero(t, sample.MemAllocB)
}

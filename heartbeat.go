package main

import (
	"encoding/json"
	"log"
	"runtime"
	"time"
)

// healthCheckInterval is how often a health sample is published.
const healthCheckInterval = 60 * time.Second

// HealthSample is the periodic vitals record published to the health topic.
// Regenerated each emission, never persisted.
type HealthSample struct {
	Status    string `json:"status"`
	UptimeS   int64  `json:"uptime_s"`
	MemFreeB  uint64 `json:"mem_free_b"`
	MemAllocB uint64 `json:"mem_alloc_b"`
}

// HeartbeatEmitter publishes vitals on a fixed interval, independent of
// command traffic.
type HeartbeatEmitter struct {
	transport   Transport
	topic       string
	interval    time.Duration
	startedAt   time.Time
	lastEmitted time.Time
}

// NewHeartbeatEmitter creates an emitter whose first emission is due one full
// interval after start.
func NewHeartbeatEmitter(transport Transport, topic string, now time.Time) *HeartbeatEmitter {
	return &HeartbeatEmitter{
		transport:   transport,
		topic:       topic,
		interval:    healthCheckInterval,
		startedAt:   now,
		lastEmitted: now,
	}
}

// MaybeEmit publishes a health sample when the interval has elapsed. The
// last-emitted stamp only advances on a successful publish, so a failed
// attempt is retried on the very next tick instead of a full interval later.
func (h *HeartbeatEmitter) MaybeEmit(now time.Time) {
	if now.Sub(h.lastEmitted) < h.interval {
		return
	}

	sample := h.sample(now)
	payload, err := json.Marshal(sample)
	if err != nil {
		log.Printf("ERROR: Failed to prepare health status data: %v", err)
		return
	}

	if err := h.transport.Publish(h.topic, payload); err != nil {
		log.Printf("ERROR: Failed to publish health status: %v", err)
		return
	}

	log.Printf("INFO: Published health status: %s", payload)
	h.lastEmitted = now
}

// sample collects vitals after a GC pass so the heap numbers reflect live
// allocation, matching the collect-then-measure behavior of the device.
func (h *HeartbeatEmitter) sample(now time.Time) HealthSample {
	runtime.GC()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return HealthSample{
		Status:    "healthy",
		UptimeS:   int64(now.Sub(h.startedAt).Seconds()),
		MemFreeB:  mem.HeapIdle,
		MemAllocB: mem.HeapAlloc,
	}
}

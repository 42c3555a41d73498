package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSupervisorFixture(t *testing.T) (*Supervisor, *dispatcherFixture) {
	t.Helper()
	f := newDispatcherFixture(t)
	heartbeat := NewHeartbeatEmitter(f.transport, f.topics.Health, time.Now())
	s := NewSupervisor(f.transport, f.topics, f.dispatcher, heartbeat)
	s.reconnectWait = 0
	s.retryWait = 0
	return s, f
}

func TestSupervisorInitialConnectFailureIsFatal(t *testing.T) {
	s, f := newSupervisorFixture(t)
	f.transport.connectErrs = []error{ErrConnLost}

	assert.Equal(t, tickFatal, s.Run())
	assert.Equal(t, 1, f.transport.connectCalls)
	assert.Empty(t, f.transport.subscribeCalls, "no subscribe after failed connect")
}

func TestSupervisorReconnectsAfterPollFailureAndResumesDelivery(t *testing.T) {
	s, f := newSupervisorFixture(t)

	pulse := []byte(`{"qrcode_id":"Q1","pulses":1}`)
	f.transport.pollQueue = []pollEvent{
		{topic: f.topics.Trigger, payload: pulse},
		{err: ErrConnLost},
		{topic: f.topics.Trigger, payload: pulse},
	}
	// First reconnect attempt fails, second succeeds; connects are the
	// initial one plus two reconnect cycles.
	f.transport.connectErrs = []error{nil, ErrConnLost, nil}
	f.transport.onEmpty = func() error {
		s.Stop()
		return nil
	}

	assert.Equal(t, tickContinue, s.Run())
	assert.Equal(t, 3, f.transport.connectCalls)
	assert.Equal(t, []string{f.topics.Trigger, f.topics.Trigger}, f.transport.subscribeCalls)

	confirms := f.transport.onTopic(t, f.topics.Confirm)
	require.Len(t, confirms, 2, "commands before and after the drop must both be confirmed")
}

func TestSupervisorPropagatesRebootFromResetCommand(t *testing.T) {
	s, f := newSupervisorFixture(t)
	f.transport.pollQueue = []pollEvent{
		{topic: f.topics.Trigger, payload: []byte(`{"action":"reset"}`)},
	}

	assert.Equal(t, tickReboot, s.Run())
	assert.Equal(t, []string{"resetting"}, f.transport.statusCodes(t, f.topics.Status))
}

func TestSupervisorSurvivesCommandValidationErrors(t *testing.T) {
	s, f := newSupervisorFixture(t)
	f.transport.pollQueue = []pollEvent{
		{topic: f.topics.Trigger, payload: []byte(`not json at all`)},
		{topic: f.topics.Trigger, payload: []byte(`{"qrcode_id":"Q1","pulses":1}`)},
	}
	f.transport.onEmpty = func() error {
		s.Stop()
		return nil
	}

	assert.Equal(t, tickContinue, s.Run())
	require.Len(t, f.transport.onTopic(t, f.topics.Confirm), 1,
		"a bad payload must not stop later commands from being served")
}

package main

import (
	"errors"
	"log"
	"time"
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// Reconnect policy: a short backoff before the first reconnect attempt after
// a drop, a longer one between subsequent attempts, and a delay before the
// device is restarted when the very first connect fails.
const (
	reconnectBackoff  = 5 * time.Second
	reconnectRetry    = 10 * time.Second
	fatalRestartDelay = 10 * time.Second
)

// Supervisor owns the transport lifecycle and drives the single cooperative
// control loop: poll, dispatch, heartbeat. It is the only component that
// reacts to transport errors; everything below it just reports them.
type Supervisor struct {
	transport  Transport
	topics     TopicSet
	dispatcher *Dispatcher
	heartbeat  *HeartbeatEmitter

	state         connState
	reconnectWait time.Duration
	retryWait     time.Duration
	stop          chan struct{}
}

// NewSupervisor wires the loop to its collaborators.
func NewSupervisor(transport Transport, topics TopicSet, dispatcher *Dispatcher, heartbeat *HeartbeatEmitter) *Supervisor {
	return &Supervisor{
		transport:     transport,
		topics:        topics,
		dispatcher:    dispatcher,
		heartbeat:     heartbeat,
		state:         stateDisconnected,
		reconnectWait: reconnectBackoff,
		retryWait:     reconnectRetry,
		stop:          make(chan struct{}),
	}
}

// Stop requests a graceful exit; safe to call from a signal handler
// goroutine.
func (s *Supervisor) Stop() {
	close(s.stop)
}

func (s *Supervisor) connectAndSubscribe() error {
	if err := s.transport.Connect(); err != nil {
		return err
	}
	return s.transport.Subscribe(s.topics.Trigger)
}

// Run executes the control loop until a terminal action. It returns
// tickReboot when a command demands a hardware reboot, tickFatal when the
// initial connect fails (the process is considered unrecoverable before the
// first successful session, so a local retry loop would only mask persistent
// misconfiguration), and tickContinue only when Stop was requested.
func (s *Supervisor) Run() tickResult {
	s.state = stateConnecting
	if err := s.connectAndSubscribe(); err != nil {
		log.Printf("ERROR: Initial MQTT connection failed: %v", err)
		s.state = stateDisconnected
		return tickFatal
	}
	s.state = stateConnected
	log.Println("INFO: Waiting for messages...")

	for {
		select {
		case <-s.stop:
			return tickContinue
		default:
		}

		result := tickContinue
		err := s.transport.Poll(func(topic string, payload []byte) {
			result = s.dispatcher.HandleMessage(topic, payload)
		})
		if err != nil {
			if !errors.Is(err, ErrConnLost) {
				// Not a transport error: log it and keep ticking.
				log.Printf("ERROR: Unexpected error in main loop: %v", err)
				continue
			}
			log.Printf("ERROR: MQTT connection error/disconnected: %v. Reconnecting...", err)
			if !s.reconnect() {
				return tickContinue
			}
			continue
		}

		if result != tickContinue {
			return result
		}

		s.heartbeat.MaybeEmit(time.Now())
	}
}

// reconnect waits the short backoff, then attempts full connect+subscribe
// cycles with the longer backoff between failures, indefinitely, until the
// session is restored or Stop is requested. Returns false when stopped.
func (s *Supervisor) reconnect() bool {
	s.state = stateDisconnected
	if !s.sleepUnlessStopped(s.reconnectWait) {
		return false
	}

	for {
		s.state = stateConnecting
		err := s.connectAndSubscribe()
		if err == nil {
			s.state = stateConnected
			log.Println("INFO: Reconnected to MQTT broker and re-subscribed.")
			return true
		}
		log.Printf("ERROR: Reconnection attempt failed: %v", err)

		if !s.sleepUnlessStopped(s.retryWait) {
			return false
		}
	}
}

func (s *Supervisor) sleepUnlessStopped(d time.Duration) bool {
	select {
	case <-s.stop:
		return false
	case <-time.After(d):
		return true
	}
}

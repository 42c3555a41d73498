package main

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrConnLost marks a transport-level failure: the MQTT session is down or
// died under us. The supervisor matches it with errors.Is to drive the
// reconnect policy; every other error class leaves the loop in place.
var ErrConnLost = errors.New("mqtt connection lost")

// MessageHandler receives one inbound message from Poll.
type MessageHandler func(topic string, payload []byte)

// Transport is the publish/subscribe session as the supervisor and dispatcher
// see it. The adapter performs no retry or queueing of its own; all
// resilience lives in the supervisor.
type Transport interface {
	Connect() error
	Subscribe(topic string) error
	Publish(topic string, payload []byte) error
	Poll(handler MessageHandler) error
}

const (
	mqttKeepAlive      = 30 * time.Second
	mqttConnectTimeout = 10 * time.Second
	pollWait           = 100 * time.Millisecond
	inboundBuffer      = 16
)

type inboundMessage struct {
	topic   string
	payload []byte
}

// MQTTTransport wraps a paho client with auto-reconnect disabled so the
// supervisor, not the library, decides when and how to reconnect.
type MQTTTransport struct {
	broker   string
	clientID string
	client   mqtt.Client
	inbound  chan inboundMessage
	lost     atomic.Bool
}

// NewMQTTTransport creates a transport for the given broker address and
// machine ID. The client ID follows the vending_{MACHINE_ID} convention.
func NewMQTTTransport(config *Config) *MQTTTransport {
	return &MQTTTransport{
		broker:   fmt.Sprintf("tcp://%s:%d", config.MQTTBroker, config.MQTTPort),
		clientID: fmt.Sprintf("vending_%s", config.MachineID),
		inbound:  make(chan inboundMessage, inboundBuffer),
	}
}

// Connect establishes a fresh session with the broker. Any previous session
// state (buffered messages, lost flag) is discarded first.
func (t *MQTTTransport) Connect() error {
	t.lost.Store(false)
	for len(t.inbound) > 0 {
		<-t.inbound
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.broker)
	opts.SetClientID(t.clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetKeepAlive(mqttKeepAlive)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("ERROR: MQTT connection lost: %v", err)
		t.lost.Store(true)
	})

	t.client = mqtt.NewClient(opts)
	if token := t.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("%w: connect to %s: %v", ErrConnLost, t.broker, token.Error())
	}

	log.Printf("INFO: Connected to MQTT broker at %s", t.broker)
	return nil
}

// Subscribe registers interest in a topic. Inbound messages are buffered and
// delivered one at a time by Poll.
func (t *MQTTTransport) Subscribe(topic string) error {
	if t.client == nil || !t.client.IsConnectionOpen() {
		return fmt.Errorf("%w: subscribe %s", ErrConnLost, topic)
	}

	token := t.client.Subscribe(topic, 1, func(client mqtt.Client, msg mqtt.Message) {
		select {
		case t.inbound <- inboundMessage{topic: msg.Topic(), payload: msg.Payload()}:
		default:
			log.Printf("WARN: Inbound buffer full, dropping message on %s", msg.Topic())
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("%w: subscribe %s: %v", ErrConnLost, topic, token.Error())
	}

	log.Printf("INFO: Subscribed to topic: %s", topic)
	return nil
}

// Publish sends one message. The payload is not queued or retried on a broken
// session; the caller decides what a failed publish means.
func (t *MQTTTransport) Publish(topic string, payload []byte) error {
	if t.client == nil || t.lost.Load() || !t.client.IsConnectionOpen() {
		return fmt.Errorf("%w: publish %s", ErrConnLost, topic)
	}

	token := t.client.Publish(topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrConnLost, topic, token.Error())
	}
	return nil
}

// Poll delivers at most one buffered inbound message to handler, waiting up
// to pollWait for one to arrive. Returns ErrConnLost once the underlying link
// is down. The bounded wait doubles as the supervisor's tick cadence.
func (t *MQTTTransport) Poll(handler MessageHandler) error {
	if t.lost.Load() {
		return fmt.Errorf("%w: poll", ErrConnLost)
	}

	select {
	case msg := <-t.inbound:
		handler(msg.topic, msg.payload)
	case <-time.After(pollWait):
	}
	return nil
}

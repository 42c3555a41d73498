package main

import (
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// tickResult is what one supervisor tick decides about the process: keep
// polling, perform a hardware reboot, or restart after a fatal condition.
// Terminal actions flow up to the loop as values, never as non-local exits.
type tickResult int

const (
	tickContinue tickResult = iota
	tickReboot
	tickFatal
)

// Flush delays give the broker a moment to take an acknowledgement before a
// reboot cuts the session.
const (
	resetFlushDelay  = 1 * time.Second
	rebootFlushDelay = 2 * time.Second
)

// CommandEnvelope is a decoded inbound command. An absent or unrecognized
// action means pulse; that default is resolved by Kind, not by the decoder,
// so a structurally malformed payload is never mistaken for a pulse.
type CommandEnvelope struct {
	Action   string `json:"action"`
	QRCodeID string `json:"qrcode_id"`
	Pulses   int    `json:"pulses"`
	URL      string `json:"url"`
}

type commandKind int

const (
	commandPulse commandKind = iota
	commandReset
	commandUpdate
)

// Kind routes the envelope: reset and update are matched exactly, everything
// else falls through to pulse handling.
func (c *CommandEnvelope) Kind() commandKind {
	switch c.Action {
	case "reset":
		return commandReset
	case "update":
		return commandUpdate
	default:
		return commandPulse
	}
}

func decodeCommand(raw []byte) (*CommandEnvelope, error) {
	env := &CommandEnvelope{}
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("could not parse payload: %w", err)
	}
	return env, nil
}

// Dispatcher decodes inbound command envelopes, routes them to the reset,
// update or pulse handler, and owns all acknowledgement publishing for the
// commands it handles. It is synchronous and single-threaded: one command per
// inbound message, and a slow actuation or update blocks further polling.
type Dispatcher struct {
	transport  Transport
	topics     TopicSet
	driver     *PulseDriver
	updater    *UpdateEngine
	audit      *CommandLog
	flushDelay time.Duration
}

// NewDispatcher wires the dispatcher to its collaborators.
func NewDispatcher(transport Transport, topics TopicSet, driver *PulseDriver, updater *UpdateEngine, audit *CommandLog) *Dispatcher {
	return &Dispatcher{
		transport:  transport,
		topics:     topics,
		driver:     driver,
		updater:    updater,
		audit:      audit,
		flushDelay: resetFlushDelay,
	}
}

// HandleMessage processes one inbound frame and reports the terminal action,
// if any, back to the supervisor. A panic inside a handler is reported as a
// processing_error status and the loop carries on.
func (d *Dispatcher) HandleMessage(topic string, payload []byte) (result tickResult) {
	if topic != d.topics.Trigger {
		log.Printf("WARN: Received message on unexpected topic: %s", topic)
		return tickContinue
	}

	log.Printf("INFO: Received raw message: Topic='%s', Payload='%s'", topic, payload)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: General error processing message: %v - Payload: %s", r, payload)
			err := d.publishStatus(map[string]interface{}{
				"status": "processing_error",
				"error":  fmt.Sprint(r),
			})
			if err != nil {
				log.Printf("WARN: Could not publish processing_error status: %v", err)
			}
			result = tickContinue
		}
	}()

	env, err := decodeCommand(payload)
	if err != nil {
		log.Printf("ERROR: %v - Payload: %s", err, payload)
		d.publishPayloadError(err)
		return tickContinue
	}

	switch env.Kind() {
	case commandReset:
		return d.handleReset(payload)
	case commandUpdate:
		return d.handleUpdate(env, payload)
	default:
		return d.handlePulse(env, payload)
	}
}

// handleReset acknowledges best-effort, waits for the publish to flush, and
// hands a terminal reboot up to the loop. It never resumes command handling.
func (d *Dispatcher) handleReset(raw []byte) tickResult {
	log.Println("INFO: Received reset command. Resetting device...")
	correlationID := d.audit.LogReceived("reset", "", raw)

	if err := d.publishStatus(map[string]interface{}{"status": "resetting"}); err != nil {
		log.Printf("ERROR: Could not publish resetting status: %v", err)
	} else {
		log.Println("INFO: Published 'resetting' status.")
	}
	time.Sleep(d.flushDelay)

	d.audit.LogOutcome(correlationID, "reset", "terminal", "", 0)
	return tickReboot
}

// handleUpdate validates the command and runs the self-update engine
// synchronously. The engine only returns control on failure; success is a
// terminal reboot.
func (d *Dispatcher) handleUpdate(env *CommandEnvelope, raw []byte) tickResult {
	correlationID := d.audit.LogReceived("update", "", raw)

	if env.URL == "" {
		log.Println("ERROR: Received 'update' action but missing 'url' in payload.")
		err := d.publishStatus(map[string]interface{}{"status": "ota_error", "error": "missing_url"})
		if err != nil {
			log.Printf("WARN: Could not publish ota_error status: %v", err)
		}
		d.audit.LogOutcome(correlationID, "update", "rejected", "missing_url", 0)
		return tickContinue
	}

	started := time.Now()
	phase := d.updater.Run(env.URL)
	if phase == PhaseRebooting {
		d.audit.LogOutcome(correlationID, "update", "terminal", "", time.Since(started))
		return tickReboot
	}

	log.Println("ERROR: OTA update failed before reset. Waiting for next command.")
	d.audit.LogOutcome(correlationID, "update", "failure", phase.String(), time.Since(started))
	return tickContinue
}

// handlePulse validates, actuates, and publishes exactly one confirm message
// plus one detailed status record for the command.
func (d *Dispatcher) handlePulse(env *CommandEnvelope, raw []byte) tickResult {
	if env.QRCodeID == "" {
		err := fmt.Errorf("missing 'qrcode_id' in payload for pulse action")
		log.Printf("ERROR: %v - Payload: %s", err, raw)
		d.publishPayloadError(err)
		return tickContinue
	}

	correlationID := d.audit.LogReceived("pulse", env.QRCodeID, raw)
	started := time.Now()

	pulses := env.Pulses
	if pulses < 0 {
		pulses = 0
	}

	actionStatus := "success"
	errorDetail := ""

	if pulses > 0 {
		log.Printf("INFO: Received instruction for %d pulse(s) for QR ID %s. Triggering...", pulses, env.QRCodeID)
		if err := d.driver.Pulse(pulses); err != nil {
			actionStatus = "failure"
			errorDetail = fmt.Sprintf("Error during pulse generation for QR ID %s: %v", env.QRCodeID, err)
			log.Printf("ERROR: %s", errorDetail)
		} else {
			log.Printf("INFO: Pulse sequence for QR ID %s completed successfully.", env.QRCodeID)
		}
	} else {
		// Nothing to actuate counts as success.
		log.Printf("INFO: Received %d pulses for QR ID %s. No action needed.", pulses, env.QRCodeID)
	}

	// The confirm message is the correlation contract with whatever redeems
	// the QR code; losing it is the worst publish failure we can have, but
	// the status record below is still attempted.
	confirm := map[string]interface{}{
		"qrcode_id": env.QRCodeID,
		"status":    actionStatus,
	}
	if err := publishJSON(d.transport, d.topics.Confirm, confirm); err != nil {
		log.Printf("CRITICAL ERROR: Failed to publish confirmation for QR ID %s: %v", env.QRCodeID, err)
	} else {
		log.Printf("INFO: Published confirmation to %s for QR ID %s: %s", d.topics.Confirm, env.QRCodeID, actionStatus)
	}

	pulsesGenerated := 0
	if actionStatus == "success" {
		pulsesGenerated = pulses
	}
	detail := map[string]interface{}{
		"last_action_status": actionStatus,
		"last_qrcode_id":     env.QRCodeID,
		"pulses_requested":   pulses,
		"pulses_generated":   pulsesGenerated,
		"error":              errorDetail,
	}
	if err := d.publishStatus(detail); err != nil {
		log.Printf("ERROR: Failed to publish device status: %v", err)
	}

	d.audit.LogOutcome(correlationID, "pulse", actionStatus, errorDetail, time.Since(started))
	return tickContinue
}

// publishStatus sends a free-form record to the status topic.
func (d *Dispatcher) publishStatus(fields map[string]interface{}) error {
	return publishJSON(d.transport, d.topics.Status, fields)
}

// publishPayloadError reports a validation failure on the status topic. There
// is no confirm message for these: without a usable qrcode_id there is
// nothing to correlate it to.
func (d *Dispatcher) publishPayloadError(cause error) {
	err := d.publishStatus(map[string]interface{}{
		"status": "payload_error",
		"error":  cause.Error(),
	})
	if err != nil {
		log.Printf("WARN: Could not publish payload_error status: %v", err)
	}
}

// publishJSON marshals payload and publishes it to topic.
func publishJSON(t Transport, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", topic, err)
	}
	return t.Publish(topic, data)
}

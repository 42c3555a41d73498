package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CommandLogEntry is one record in the command audit trail: either a received
// command or its outcome, tied together by a correlation ID.
type CommandLogEntry struct {
	ID            string        `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	Direction     string        `json:"direction"` // "RECEIVED" or "RESULT"
	Action        string        `json:"action"`
	QRCodeID      string        `json:"qrcode_id,omitempty"`
	RawPayload    []byte        `json:"raw_payload,omitempty"`
	Outcome       string        `json:"outcome,omitempty"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
	CorrelationID string        `json:"correlation_id"`
}

// CommandLog keeps a bounded in-memory trail of handled commands and appends
// each entry as a JSON line to a log file when one is configured. It lets an
// operator reconstruct what the dispenser was told to do and what came of it.
type CommandLog struct {
	entries    []*CommandLogEntry
	mutex      sync.RWMutex
	maxEntries int
	logFile    *os.File
}

// NewCommandLog creates a command log. logFilePath may be empty for
// memory-only operation.
func NewCommandLog(maxEntries int, logFilePath string) (*CommandLog, error) {
	cl := &CommandLog{
		entries:    make([]*CommandLogEntry, 0),
		maxEntries: maxEntries,
	}

	if logFilePath != "" {
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open command log file: %w", err)
		}
		cl.logFile = file
	}

	return cl, nil
}

// LogReceived records an inbound command and returns the correlation ID that
// ties its eventual outcome back to it.
func (cl *CommandLog) LogReceived(action, qrcodeID string, raw []byte) string {
	correlationID := uuid.New().String()

	cl.addEntry(&CommandLogEntry{
		ID:            cl.generateEntryID(),
		Timestamp:     time.Now(),
		Direction:     "RECEIVED",
		Action:        action,
		QRCodeID:      qrcodeID,
		RawPayload:    raw,
		CorrelationID: correlationID,
	})
	return correlationID
}

// LogOutcome records how a previously received command ended.
func (cl *CommandLog) LogOutcome(correlationID, action, outcome, errDetail string, duration time.Duration) {
	cl.addEntry(&CommandLogEntry{
		ID:            cl.generateEntryID(),
		Timestamp:     time.Now(),
		Direction:     "RESULT",
		Action:        action,
		Outcome:       outcome,
		Error:         errDetail,
		Duration:      duration,
		CorrelationID: correlationID,
	})
}

// addEntry appends an entry, rotating the oldest out past maxEntries.
func (cl *CommandLog) addEntry(entry *CommandLogEntry) {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	cl.entries = append(cl.entries, entry)
	if len(cl.entries) > cl.maxEntries {
		cl.entries = cl.entries[1:]
	}

	if cl.logFile != nil {
		if jsonData, err := json.Marshal(entry); err == nil {
			cl.logFile.WriteString(string(jsonData) + "\n")
			cl.logFile.Sync()
		}
	}
}

// Entries returns up to limit most recent entries, newest last. limit <= 0
// returns everything.
func (cl *CommandLog) Entries(limit int) []*CommandLogEntry {
	cl.mutex.RLock()
	defer cl.mutex.RUnlock()

	start := 0
	if limit > 0 && len(cl.entries) > limit {
		start = len(cl.entries) - limit
	}

	out := make([]*CommandLogEntry, len(cl.entries)-start)
	copy(out, cl.entries[start:])
	return out
}

// Stats summarizes the trail: totals per action and per outcome.
func (cl *CommandLog) Stats() map[string]interface{} {
	cl.mutex.RLock()
	defer cl.mutex.RUnlock()

	byAction := make(map[string]int)
	byOutcome := make(map[string]int)
	for _, entry := range cl.entries {
		if entry.Direction == "RECEIVED" {
			byAction[entry.Action]++
		} else if entry.Outcome != "" {
			byOutcome[entry.Outcome]++
		}
	}

	return map[string]interface{}{
		"total_entries": len(cl.entries),
		"by_action":     byAction,
		"by_outcome":    byOutcome,
	}
}

func (cl *CommandLog) generateEntryID() string {
	return fmt.Sprintf("log_%d", time.Now().UnixNano())
}

// Close closes the backing file, if any.
func (cl *CommandLog) Close() error {
	if cl.logFile != nil {
		return cl.logFile.Close()
	}
	return nil
}

// logStats writes the trail summary to the console log, used at shutdown.
func (cl *CommandLog) logStats() {
	stats := cl.Stats()
	log.Printf("INFO: Command log stats: %v", stats)
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	topic   string
	payload []byte
}

type pollEvent struct {
	topic   string
	payload []byte
	err     error
}

// fakeTransport scripts the transport: queued poll events, per-topic publish
// failures, and a sequence of connect outcomes.
type fakeTransport struct {
	connectErrs   []error
	subscribeErr  error
	publishErrFor map[string]error
	published     []publishedMessage
	pollQueue     []pollEvent
	onEmpty       func() error

	connectCalls   int
	subscribeCalls []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{publishErrFor: make(map[string]error)}
}

func (f *fakeTransport) Connect() error {
	f.connectCalls++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) Subscribe(topic string) error {
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribeCalls = append(f.subscribeCalls, topic)
	return nil
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	if err := f.publishErrFor[topic]; err != nil {
		return err
	}
	f.published = append(f.published, publishedMessage{topic: topic, payload: payload})
	return nil
}

func (f *fakeTransport) Poll(handler MessageHandler) error {
	if len(f.pollQueue) == 0 {
		if f.onEmpty != nil {
			return f.onEmpty()
		}
		return nil
	}
	ev := f.pollQueue[0]
	f.pollQueue = f.pollQueue[1:]
	if ev.err != nil {
		return ev.err
	}
	handler(ev.topic, ev.payload)
	return nil
}

// onTopic returns the decoded payloads published to one topic, in order.
func (f *fakeTransport) onTopic(t *testing.T, topic string) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, msg := range f.published {
		if msg.topic != topic {
			continue
		}
		decoded := map[string]interface{}{}
		require.NoError(t, json.Unmarshal(msg.payload, &decoded))
		out = append(out, decoded)
	}
	return out
}

// statusCodes returns the "status" field of every message published to a
// topic, skipping records without one (pulse detail records).
func (f *fakeTransport) statusCodes(t *testing.T, topic string) []string {
	t.Helper()
	var codes []string
	for _, msg := range f.onTopic(t, topic) {
		if s, ok := msg["status"].(string); ok {
			codes = append(codes, s)
		}
	}
	return codes
}

// fakePin counts on/off cycles and can be told to fail partway through a
// sequence.
type fakePin struct {
	onCalls   int
	offCalls  int
	failOnAt  int // fail the Nth On call (1-based); 0 means never
	lastError error
}

func (p *fakePin) On() error {
	p.onCalls++
	if p.failOnAt > 0 && p.onCalls >= p.failOnAt {
		p.lastError = errors.New("pin drive fault")
		return p.lastError
	}
	return nil
}

func (p *fakePin) Off() error {
	p.offCalls++
	return nil
}

// fakeFetcher serves a canned body or error for any URL.
type fakeFetcher struct {
	body []byte
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(url string) ([]byte, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

// failingRenameStore wraps a FileStore and fails renames into one path.
type failingRenameStore struct {
	FileStore
	failNewPath string
}

func (s *failingRenameStore) Rename(oldPath, newPath string) error {
	if newPath == s.failNewPath {
		return fmt.Errorf("rename %s: device write-protected", newPath)
	}
	return s.FileStore.Rename(oldPath, newPath)
}

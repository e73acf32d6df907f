package iot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/towerwatch/shm/internal/shmerr"
)

// JSONLSink is the "log" IoT backend: every published payload is
// appended as one JSON object per line to iot_log.jsonl.
// It also serves as the local record of publisher failures, so it is always constructed even when MQTT is the active
// publish backend.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLSink opens (creating if needed) iot_log.jsonl under dir.
func NewJSONLSink(dir string) (*JSONLSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, shmerr.New(shmerr.PersistenceError, "jsonlsink.new", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "iot_log.jsonl"), os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, shmerr.New(shmerr.PersistenceError, "jsonlsink.new", err)
	}
	return &JSONLSink{file: f, enc: json.NewEncoder(f)}, nil
}

type jsonlRecord struct {
	Timestamp string `json:"timestamp"`
	Topic     string `json:"topic"`
	Payload   any    `json:"payload"`
}

// Publish appends one JSON-Lines record for the given topic/payload.
func (s *JSONLSink) Publish(topic string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := jsonlRecord{Timestamp: time.Now().UTC().Format(time.RFC3339), Topic: topic, Payload: payload}
	if err := s.enc.Encode(rec); err != nil {
		return shmerr.New(shmerr.PublisherError, "jsonlsink.publish", err)
	}
	return nil
}

type errorRecord struct {
	Timestamp string `json:"timestamp"`
	Topic     string `json:"topic"`
	Payload   any    `json:"payload"`
	Error     string `json:"error"`
}

// LogPublishError appends a {error, payload} record. It never itself
// reports failure; a sink that can't even log its own outage has
// nowhere left to report to.
func (s *JSONLSink) LogPublishError(topic string, payload any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := errorRecord{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Topic:     topic,
		Payload:   payload,
		Error:     err.Error(),
	}
	_ = s.enc.Encode(rec)
}

// Close flushes and closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

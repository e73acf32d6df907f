// Package iot implements the abstract IoT publication sink and its two concrete backends: an append-only
// JSON-Lines file, and MQTT v3.1.1 with optional mutual TLS. It also
// implements the stream_enabled remote control gate.
package iot

import (
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"
)

// Publisher is the abstract sink every backend implements").
type Publisher interface {
	Publish(topic string, payload any) error
	Close() error
}

// Payload is the envelope every window's IoT emission uses. Field
// names are stable across backends since both JSONL and MQTT marshal
// it the same way.
type Payload map[string]any

// errorSink is where publisher errors are logged so an IoT outage
// never breaks the pipeline.
type errorSink interface {
	LogPublishError(topic string, payload any, err error)
}

// FaultTolerant wraps a Publisher so Publish errors are swallowed
// after being recorded via sink.
type FaultTolerant struct {
	inner Publisher
	sink  errorSink
	log   *log.Logger
}

// NewFaultTolerant wraps inner so its errors are logged to sink (and
// via logger) rather than propagated.
func NewFaultTolerant(inner Publisher, sink errorSink, logger *log.Logger) *FaultTolerant {
	if logger == nil {
		logger = log.Default()
	}
	return &FaultTolerant{inner: inner, sink: sink, log: logger}
}

// Publish never returns an error: failures are logged to the wrapped
// sink's error record,
func (f *FaultTolerant) Publish(topic string, payload any) error {
	if err := f.inner.Publish(topic, payload); err != nil {
		f.log.Warn("iot publish failed", "topic", topic, "err", err)
		if f.sink != nil {
			f.sink.LogPublishError(topic, payload, err)
		}
	}
	return nil
}

// Close releases the wrapped publisher.
func (f *FaultTolerant) Close() error { return f.inner.Close() }

// StreamGate implements the stream_enabled remote control flag
//: a subscription to `<display>/control/stream` toggles
// a shared atomic-style flag (guarded here by a mutex, since updates
// are rare and reads are cheap) that is read through Enabled. No
// publisher in this package consults it: MQTTPublisher and JSONLSink
// publish stream topics whether or not streaming is enabled.
type StreamGate struct {
	mu        sync.RWMutex
	enabled   map[string]bool // by display name
	allowList map[string]bool
}

// NewStreamGate builds a gate that only honors control messages for
// display names in allowList. Streaming defaults to enabled for every
// allow-listed name.
func NewStreamGate(allowList []string) *StreamGate {
	g := &StreamGate{enabled: make(map[string]bool), allowList: make(map[string]bool)}
	for _, name := range allowList {
		g.allowList[name] = true
		g.enabled[name] = true
	}
	return g
}

// ControlMessage is the payload of `<display>/control/stream`
//: `{enabled, display_name, timestamp}`.
type ControlMessage struct {
	Enabled     bool   `json:"enabled"`
	DisplayName string `json:"display_name"`
	Timestamp   string `json:"timestamp"`
}

// HandleControl applies a raw control-topic payload, if topic matches
// `<display>/control/stream` exactly for an allow-listed display name.
// Messages for names outside the allow-list, or whose topic prefix
// doesn't match the embedded display_name, are ignored.
func (g *StreamGate) HandleControl(topic string, raw []byte) {
	var msg ControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if !g.allowList[msg.DisplayName] {
		return
	}
	if topic != msg.DisplayName+"/control/stream" {
		return
	}
	g.mu.Lock()
	g.enabled[msg.DisplayName] = msg.Enabled
	g.mu.Unlock()
}

// Enabled reports whether streaming is currently enabled for display.
// Unknown display names (never allow-listed) are always disabled.
func (g *StreamGate) Enabled(display string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled[display]
}

// StreamTopic builds `<display>/stream/<kind>` for kind in
// {vib, disp_track, freq}.
func StreamTopic(display, kind string) string {
	return display + "/stream/" + kind
}

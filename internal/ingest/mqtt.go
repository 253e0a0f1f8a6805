package ingest

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/serenalabs/breath-engine/internal/metrics"
)

// mqttTimeout bounds the handling of one published batch.
const mqttTimeout = 15 * time.Second

// MQTTBridge feeds records published by the wearable gateway into the
// ingest service. Topic layout: breath/ingest/<device_id>, payload is
// NDJSON (or a single JSON object/array). A device id in the topic
// overrides nothing; records carry their own.
type MQTTBridge struct {
	svc *Service
	log zerolog.Logger
}

// NewMQTTBridge returns a handler suitable for
// mqttclient.Client.SetMessageHandler.
func NewMQTTBridge(svc *Service, log zerolog.Logger) *MQTTBridge {
	return &MQTTBridge{
		svc: svc,
		log: log.With().Str("component", "mqtt-bridge").Logger(),
	}
}

// Handle processes one published message.
func (b *MQTTBridge) Handle(topic string, payload []byte) {
	metrics.MQTTMessagesTotal.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), mqttTimeout)
	defer cancel()

	res, err := b.svc.IngestBody(ctx, bytes.NewReader(payload), contentTypeFor(payload))
	if err != nil {
		b.log.Warn().Err(err).Str("topic", topic).Msg("mqtt batch rejected")
		return
	}
	evt := b.log.Debug().
		Str("topic", topic).
		Int("accepted", res.Accepted)
	if res.SessionID != nil {
		evt = evt.Str("session_id", *res.SessionID)
	}
	evt.Msg("mqtt batch ingested")
}

// contentTypeFor sniffs whether a payload is NDJSON (multiple lines) or
// a single JSON document.
func contentTypeFor(payload []byte) string {
	trimmed := bytes.TrimSpace(payload)
	if bytes.ContainsRune(trimmed, '\n') && !strings.HasPrefix(string(trimmed), "[") {
		return "application/x-ndjson"
	}
	return "application/json"
}

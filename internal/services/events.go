package services

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Event subjects published by the pipeline and the garbage collector.
const (
	SubjectFileIngested = "files.ingested"
	SubjectFileUploaded = "files.uploaded"
	SubjectFileDeleted  = "files.deleted"
	SubjectGCSwept      = "files.swept"
)

const eventStream = "file-events"

// EventBus publishes durable JetStream events. A nil *EventBus is valid
// and publishes nothing, so eventing stays optional in tests and small
// deployments.
type EventBus struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	log zerolog.Logger
}

// ConnectEvents connects to NATS, initializes JetStream and ensures the
// file-events stream exists.
func ConnectEvents(url string, log zerolog.Logger) (*EventBus, error) {
	opts := []nats.Option{
		nats.Name("filestore"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	b := &EventBus{nc: nc, js: js, log: log}
	if err := b.ensureStream(); err != nil {
		// JetStream may be disabled on the server; events degrade to lost,
		// nothing else depends on them.
		log.Warn().Err(err).Msg("failed to ensure event stream")
	}
	return b, nil
}

func (b *EventBus) ensureStream() error {
	if _, err := b.js.StreamInfo(eventStream); err == nil {
		return nil
	}
	_, err := b.js.AddStream(&nats.StreamConfig{
		Name:     eventStream,
		Subjects: []string{"files.*"},
		Storage:  nats.FileStorage,
		MaxAge:   30 * 24 * time.Hour,
	})
	return err
}

// Publish marshals payload and publishes it. Publish failures are logged
// and swallowed; events are best-effort by design.
func (b *EventBus) Publish(subject string, payload any) {
	if b == nil || b.js == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Error().Err(err).Str("subject", subject).Msg("marshaling event")
		return
	}
	if _, err := b.js.Publish(subject, data, nats.MsgId(uuid.New().String())); err != nil {
		b.log.Error().Err(err).Str("subject", subject).Msg("publishing event")
	}
}

// Close drains the connection.
func (b *EventBus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}

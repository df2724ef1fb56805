// Package ingest moves plate detections from the bridge onto NATS and from
// NATS into Postgres and the blob store.
package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-lpr/internal/bridge"
)

// Publisher pushes detection events onto a NATS subject with bounded
// retries. It satisfies bridge.Sink.
type Publisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

func NewPublisher(conn *nats.Conn, subject string, maxRetries int) *Publisher {
	return &Publisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
	}
}

func (p *Publisher) PublishPlates(evt bridge.IngestEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}

		// Backoff
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}

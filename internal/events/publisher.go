// Package events publishes cycle and trade events to NATS for external
// consumers. Publishing is strictly fire-and-forget: a missing or failed
// broker never affects the decision cycle.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Subjects.
const (
	SubjectCycleCompleted = "driftbot.cycle.completed"
	SubjectTradeExecuted  = "driftbot.trade.executed"
	SubjectRegimeChanged  = "driftbot.regime.changed"
)

// Publisher wraps a NATS connection. A nil Publisher is a valid no-op.
type Publisher struct {
	conn *nats.Conn
}

// Connect dials the broker. An empty URL disables publishing.
func Connect(url string) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}

	conn, err := nats.Connect(url,
		nats.Name("driftbot"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	log.Info().Str("url", url).Msg("Connected to event broker")
	return &Publisher{conn: conn}, nil
}

// Publish sends one event. Failures are logged at debug and dropped.
func (p *Publisher) Publish(subject string, event any) {
	if p == nil || p.conn == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Debug().Err(err).Str("subject", subject).Msg("Failed to marshal event")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Debug().Err(err).Str("subject", subject).Msg("Failed to publish event")
	}
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

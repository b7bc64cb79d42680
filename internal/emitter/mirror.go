package emitter

import (
	"context"
	"log/slog"
	"sync"

	"maze-relay-go/internal/broker"
	"maze-relay-go/internal/types"
)

// Topic returns the subtopic a message is published under.
func Topic(base string, raw []byte) string {
	kind, err := types.Classify(raw)
	if err != nil {
		kind = types.KindUnknown
	}
	return base + "/" + kind.String()
}

// Mirror republishes broadcast messages as an in-process relay consumer.
type Mirror struct {
	pub    Publisher
	topic  string
	qos    byte
	buffer int
	logger *slog.Logger

	mu        sync.Mutex
	published map[string]uint64
	errors    uint64
}

func NewMirror(pub Publisher, topic string, qos byte, buffer int, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		pub:       pub,
		topic:     topic,
		qos:       qos,
		buffer:    buffer,
		logger:    logger,
		published: make(map[string]uint64),
	}
}

// Run joins b as a consumer and publishes until ctx ends or the broker
// closes the connection.
func (m *Mirror) Run(ctx context.Context, b *broker.Broker) error {
	conn := broker.NewLocalConn("mqtt", m.buffer)
	peer, err := b.AcceptConsumer(conn)
	if err != nil {
		return err
	}
	defer b.OnConsumerDisconnect(peer)
	m.logger.Info("mqtt mirror attached", "conn_id", conn.ID(), "topic", m.topic)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return nil
		case msg := <-conn.Messages():
			m.publish(msg)
		}
	}
}

func (m *Mirror) publish(msg []byte) {
	topic := Topic(m.topic, msg)
	if err := m.pub.Publish(topic, m.qos, msg); err != nil {
		m.mu.Lock()
		m.errors++
		n := m.errors
		m.mu.Unlock()
		if n == 1 || n%100 == 0 {
			m.logger.Warn("mqtt publish failed", "topic", topic, "errors", n, "error", err)
		}
		return
	}
	m.mu.Lock()
	m.published[topic]++
	m.mu.Unlock()
}

type Stats struct {
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

func (m *Mirror) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	published := make(map[string]uint64, len(m.published))
	for k, v := range m.published {
		published[k] = v
	}
	return Stats{Published: published, Errors: m.errors}
}

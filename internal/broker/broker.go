// Package broker is the relay core: one producer slot, a set of consumers,
// and an ordered fan-out that never waits on a slow consumer.
//
// The broker only checks that a producer message is a JSON object before
// forwarding it. It never calibrates, maps or rewrites payloads.
package broker

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"maze-relay-go/internal/types"
)

var (
	ErrProducerConnected = errors.New("producer already connected")
	ErrConsumerExists    = errors.New("consumer id already registered")
)

// RejectionMessage is sent to a producer that arrives while the slot is taken.
var RejectionMessage = []byte(`{"error":"already connected"}`)

type Role int

const (
	RoleProducer Role = iota + 1
	RoleConsumer
)

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// Conn is one side of a relay connection.
type Conn interface {
	ID() string
	// Send queues msg without blocking and reports whether it was accepted.
	Send(msg []byte) bool
	// Close flushes what was queued and releases the connection.
	Close() error
}

// Recorder receives every forwarded producer message.
type Recorder interface {
	Record(msg []byte) error
}

// Peer is a connection together with the role it was accepted under. The
// role never changes after acceptance.
type Peer struct {
	Conn     Conn
	Role     Role
	Accepted time.Time
}

type consumerStats struct {
	sent    atomic.Uint64
	dropped atomic.Uint64
}

type consumer struct {
	peer  *Peer
	stats *consumerStats
}

type Broker struct {
	logger   *slog.Logger
	recorder Recorder
	replay   bool

	producerMu sync.Mutex
	producer   *Peer

	// fanout serializes broadcasts and consumer joins so every consumer sees
	// producer messages in arrival order.
	fanout    sync.Mutex
	mu        sync.RWMutex
	consumers map[string]*consumer
	lastMaze  []byte

	relayed   atomic.Uint64
	dropped   atomic.Uint64
	rejected  atomic.Uint64
	malformed atomic.Uint64
}

type Options struct {
	Logger   *slog.Logger
	Recorder Recorder
	// ReplayMaze sends the most recent maze frame to consumers as they join.
	ReplayMaze bool
}

func New(opts Options) *Broker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		logger:    logger,
		recorder:  opts.Recorder,
		replay:    opts.ReplayMaze,
		consumers: make(map[string]*consumer),
	}
}

// AcceptProducer registers c as the producer. If the slot is taken, c gets
// the rejection message and is closed; the current producer is untouched.
func (b *Broker) AcceptProducer(c Conn) (*Peer, error) {
	b.producerMu.Lock()
	if b.producer != nil {
		current := b.producer.Conn.ID()
		b.producerMu.Unlock()
		b.rejected.Add(1)
		c.Send(RejectionMessage)
		_ = c.Close()
		b.logger.Warn("rejected additional producer", "conn_id", c.ID(), "current", current)
		return nil, ErrProducerConnected
	}
	p := &Peer{Conn: c, Role: RoleProducer, Accepted: time.Now()}
	b.producer = p
	b.producerMu.Unlock()
	b.logger.Info("producer connected", "conn_id", c.ID())
	return p, nil
}

// AcceptConsumer adds c to the consumer set.
func (b *Broker) AcceptConsumer(c Conn) (*Peer, error) {
	p := &Peer{Conn: c, Role: RoleConsumer, Accepted: time.Now()}

	b.fanout.Lock()
	defer b.fanout.Unlock()
	b.mu.Lock()
	if _, exists := b.consumers[c.ID()]; exists {
		b.mu.Unlock()
		return nil, ErrConsumerExists
	}
	stats := &consumerStats{}
	b.consumers[c.ID()] = &consumer{peer: p, stats: stats}
	count := len(b.consumers)
	maze := b.lastMaze
	b.mu.Unlock()

	if b.replay && maze != nil {
		if c.Send(maze) {
			stats.sent.Add(1)
		} else {
			stats.dropped.Add(1)
		}
	}
	b.logger.Info("consumer connected", "conn_id", c.ID(), "consumers", count)
	return p, nil
}

// OnProducerMessage forwards raw to every consumer in arrival order. A
// payload that is not a JSON object is logged and dropped. A role
// declaration is captured but never relayed.
func (b *Broker) OnProducerMessage(raw []byte) {
	kind, err := types.Classify(raw)
	if err != nil {
		b.malformed.Add(1)
		b.logger.Warn("dropping malformed producer message", "bytes", len(raw), "error", err)
		return
	}
	msg := append([]byte(nil), raw...)

	if b.recorder != nil {
		if err := b.recorder.Record(msg); err != nil {
			b.logger.Warn("raw capture failed", "error", err)
		}
	}
	if kind == types.KindHello {
		b.logger.Debug("producer declared role", "bytes", len(msg))
		return
	}

	b.fanout.Lock()
	defer b.fanout.Unlock()

	b.mu.Lock()
	if kind == types.KindMaze {
		b.lastMaze = msg
	}
	targets := make([]*consumer, 0, len(b.consumers))
	for _, c := range b.consumers {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	b.relayed.Add(1)
	for _, c := range targets {
		if c.peer.Conn.Send(msg) {
			c.stats.sent.Add(1)
			continue
		}
		c.stats.dropped.Add(1)
		b.dropped.Add(1)
	}
}

// OnProducerDisconnect frees the slot if p still holds it.
func (b *Broker) OnProducerDisconnect(p *Peer) {
	if p == nil {
		return
	}
	b.producerMu.Lock()
	if b.producer != p {
		b.producerMu.Unlock()
		return
	}
	b.producer = nil
	b.producerMu.Unlock()
	b.logger.Info("producer disconnected", "conn_id", p.Conn.ID())
}

func (b *Broker) OnConsumerDisconnect(p *Peer) {
	if p == nil {
		return
	}
	b.mu.Lock()
	c, ok := b.consumers[p.Conn.ID()]
	if ok && c.peer == p {
		delete(b.consumers, p.Conn.ID())
	}
	count := len(b.consumers)
	b.mu.Unlock()
	if ok {
		b.logger.Info("consumer disconnected", "conn_id", p.Conn.ID(), "consumers", count)
	}
}

// Close disconnects every peer.
func (b *Broker) Close() {
	b.producerMu.Lock()
	producer := b.producer
	b.producer = nil
	b.producerMu.Unlock()
	if producer != nil {
		_ = producer.Conn.Close()
	}

	b.mu.Lock()
	consumers := b.consumers
	b.consumers = make(map[string]*consumer)
	b.mu.Unlock()
	for _, c := range consumers {
		_ = c.peer.Conn.Close()
	}
}

type ConsumerStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

type Stats struct {
	ProducerConnected bool                     `json:"producer_connected"`
	ProducerID        string                   `json:"producer_id,omitempty"`
	Consumers         int                      `json:"consumers"`
	ConsumerIDs       []string                 `json:"consumer_ids"`
	Relayed           uint64                   `json:"relayed"`
	Dropped           uint64                   `json:"dropped"`
	Rejected          uint64                   `json:"rejected"`
	Malformed         uint64                   `json:"malformed"`
	PerConsumer       map[string]ConsumerStats `json:"per_consumer"`
}

func (b *Broker) Stats() Stats {
	s := Stats{
		Relayed:     b.relayed.Load(),
		Dropped:     b.dropped.Load(),
		Rejected:    b.rejected.Load(),
		Malformed:   b.malformed.Load(),
		PerConsumer: make(map[string]ConsumerStats),
	}
	b.producerMu.Lock()
	if b.producer != nil {
		s.ProducerConnected = true
		s.ProducerID = b.producer.Conn.ID()
	}
	b.producerMu.Unlock()

	b.mu.RLock()
	for id, c := range b.consumers {
		s.ConsumerIDs = append(s.ConsumerIDs, id)
		s.PerConsumer[id] = ConsumerStats{Sent: c.stats.sent.Load(), Dropped: c.stats.dropped.Load()}
	}
	b.mu.RUnlock()
	s.Consumers = len(s.ConsumerIDs)
	sort.Strings(s.ConsumerIDs)
	return s
}

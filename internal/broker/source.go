package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalConn is an in-process endpoint. Producer sources use it to hold the
// producer slot; in-process consumers read from Messages.
type LocalConn struct {
	id        string
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewLocalConn(name string, buffer int) *LocalConn {
	if buffer <= 0 {
		buffer = 1
	}
	return &LocalConn{
		id:   name + "-" + uuid.NewString()[:8],
		ch:   make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *LocalConn) ID() string { return c.id }

func (c *LocalConn) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.ch <- msg:
		return true
	default:
		return false
	}
}

func (c *LocalConn) Messages() <-chan []byte { return c.ch }

func (c *LocalConn) Done() <-chan struct{} { return c.done }

func (c *LocalConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// RunSource feeds messages into the broker as the producer. While another
// producer holds the slot, messages are discarded and the slot is retried
// every retry interval. It returns when ctx ends or messages is closed.
func RunSource(ctx context.Context, b *Broker, name string, messages <-chan []byte, retry time.Duration) error {
	if retry <= 0 {
		retry = time.Second
	}
	var peer *Peer
	defer func() {
		if peer != nil {
			b.OnProducerDisconnect(peer)
		}
	}()

	var lastTry time.Time
	acquire := func() {
		if peer != nil || time.Since(lastTry) < retry {
			return
		}
		lastTry = time.Now()
		p, err := b.AcceptProducer(NewLocalConn(name, 1))
		if err != nil {
			if !errors.Is(err, ErrProducerConnected) {
				b.logger.Error("producer source failed", "source", name, "error", err)
			}
			return
		}
		peer = p
	}

	for {
		acquire()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if peer == nil {
				acquire()
			}
			if peer != nil {
				b.OnProducerMessage(msg)
			}
		}
	}
}

package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"
)

type Options struct {
	// LogEvery logs only every Nth receive or decode failure.
	LogEvery    int
	RecvTimeout time.Duration
	Buffer      int
	Logger      *slog.Logger
}

var (
	receivedTotal  atomic.Uint64
	decodeFailures atomic.Uint64
	decodeCount    atomic.Uint64
	decodeNanos    atomic.Uint64
)

func Received() uint64       { return receivedTotal.Load() }
func DecodeFailures() uint64 { return decodeFailures.Load() }

func DecodeTiming() (uint64, uint64) {
	return decodeCount.Load(), decodeNanos.Load()
}

// Stream connects a PULL socket to endpoint and returns the producer messages
// it receives, already converted to JSON. The channel closes when ctx ends.
func Stream(ctx context.Context, endpoint string, opts Options) (<-chan []byte, error) {
	if opts.LogEvery < 1 {
		opts.LogEvery = 1
	}
	if opts.RecvTimeout <= 0 {
		opts.RecvTimeout = 250 * time.Millisecond
	}
	if opts.Buffer < 1 {
		opts.Buffer = 128
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, err
	}
	if err := socket.SetRcvtimeo(opts.RecvTimeout); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, err
	}

	limited := &rateLimited{every: uint64(opts.LogEvery), logger: opts.Logger.With("endpoint", endpoint)}
	out := make(chan []byte, opts.Buffer)
	go func() {
		defer close(out)
		defer socket.Close()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := socket.RecvBytes(0)
			if err != nil {
				if isTimeout(err) {
					continue
				}
				limited.warn("ingest recv error", "error", err)
				continue
			}
			receivedTotal.Add(1)

			start := time.Now()
			payload, err := DecodeMessage(msg)
			decodeCount.Add(1)
			decodeNanos.Add(uint64(time.Since(start).Nanoseconds()))
			if err != nil {
				decodeFailures.Add(1)
				limited.warn("ingest decode skipped message", "bytes", len(msg), "error", err)
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- payload:
			}
		}
	}()

	return out, nil
}

func isTimeout(err error) bool {
	return zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) || errors.Is(err, syscall.EAGAIN)
}

type rateLimited struct {
	every  uint64
	count  atomic.Uint64
	logger *slog.Logger
}

func (r *rateLimited) warn(msg string, args ...any) {
	if r.count.Add(1)%r.every == 0 {
		r.logger.Warn(msg, args...)
	}
}

package broker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id       string
	mu       sync.Mutex
	got      [][]byte
	blocked  bool
	closed   bool
	closeErr error
}

func newFake(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(msg []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocked || f.closed {
		return false
	}
	f.got = append(f.got, msg)
	return true
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeConn) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.got))
	for i, m := range f.got {
		out[i] = string(m)
	}
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) setBlocked(v bool) {
	f.mu.Lock()
	f.blocked = v
	f.mu.Unlock()
}

type memRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *memRecorder) Record(msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, string(msg))
	return nil
}

func newBroker(opts Options) *Broker {
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(opts)
}

func TestSecondProducerRejected(t *testing.T) {
	b := newBroker(Options{})
	first := newFake("p1")
	second := newFake("p2")
	viewer := newFake("c1")

	p1, err := b.AcceptProducer(first)
	require.NoError(t, err)
	require.Equal(t, RoleProducer, p1.Role)
	_, err = b.AcceptConsumer(viewer)
	require.NoError(t, err)

	p2, err := b.AcceptProducer(second)
	require.ErrorIs(t, err, ErrProducerConnected)
	assert.Nil(t, p2)
	assert.Equal(t, []string{`{"error":"already connected"}`}, second.messages())
	assert.True(t, second.isClosed())
	assert.False(t, first.isClosed())

	b.OnProducerMessage([]byte(`{"cars":{"red":{"x":1,"y":2}}}`))
	assert.Equal(t, []string{`{"cars":{"red":{"x":1,"y":2}}}`}, viewer.messages())

	stats := b.Stats()
	assert.True(t, stats.ProducerConnected)
	assert.Equal(t, "p1", stats.ProducerID)
	assert.Equal(t, uint64(1), stats.Rejected)
}

func TestProducerDisconnectFreesSlot(t *testing.T) {
	b := newBroker(Options{})
	p1, err := b.AcceptProducer(newFake("p1"))
	require.NoError(t, err)

	// A stale peer must not clear someone else's slot.
	b.OnProducerDisconnect(&Peer{Conn: newFake("p1"), Role: RoleProducer})
	_, err = b.AcceptProducer(newFake("p2"))
	require.ErrorIs(t, err, ErrProducerConnected)

	b.OnProducerDisconnect(p1)
	assert.False(t, b.Stats().ProducerConnected)
	_, err = b.AcceptProducer(newFake("p3"))
	require.NoError(t, err)
}

func TestBroadcastPreservesOrder(t *testing.T) {
	b := newBroker(Options{})
	_, err := b.AcceptProducer(newFake("p"))
	require.NoError(t, err)

	var viewers []*fakeConn
	for i := 0; i < 5; i++ {
		v := newFake(fmt.Sprintf("c%d", i))
		_, err := b.AcceptConsumer(v)
		require.NoError(t, err)
		viewers = append(viewers, v)
	}

	var want []string
	for i := 0; i < 200; i++ {
		msg := fmt.Sprintf(`{"cars":{"red":{"x":%d,"y":0}}}`, i)
		want = append(want, msg)
		b.OnProducerMessage([]byte(msg))
	}
	for _, v := range viewers {
		assert.Equal(t, want, v.messages(), v.id)
	}
	assert.Equal(t, uint64(200), b.Stats().Relayed)
}

func TestUnwritableConsumerIsSkipped(t *testing.T) {
	b := newBroker(Options{})
	fast := newFake("fast")
	slow := newFake("slow")
	_, err := b.AcceptConsumer(fast)
	require.NoError(t, err)
	_, err = b.AcceptConsumer(slow)
	require.NoError(t, err)

	b.OnProducerMessage([]byte(`{"cars":{"a":{"x":1,"y":1}}}`))
	slow.setBlocked(true)
	b.OnProducerMessage([]byte(`{"cars":{"a":{"x":2,"y":2}}}`))
	slow.setBlocked(false)
	b.OnProducerMessage([]byte(`{"cars":{"a":{"x":3,"y":3}}}`))

	assert.Len(t, fast.messages(), 3)
	assert.Equal(t, []string{`{"cars":{"a":{"x":1,"y":1}}}`, `{"cars":{"a":{"x":3,"y":3}}}`}, slow.messages())

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, ConsumerStats{Sent: 2, Dropped: 1}, stats.PerConsumer["slow"])
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	rec := &memRecorder{}
	b := newBroker(Options{Recorder: rec})
	v := newFake("c")
	_, err := b.AcceptConsumer(v)
	require.NoError(t, err)

	for _, raw := range []string{`not json`, `{"cars":`, `[1,2,3]`, ``, `"str"`} {
		b.OnProducerMessage([]byte(raw))
	}
	b.OnProducerMessage([]byte(`{"cars":{"a":{"x":1,"y":1}}}`))

	assert.Equal(t, []string{`{"cars":{"a":{"x":1,"y":1}}}`}, v.messages())
	assert.Equal(t, uint64(5), b.Stats().Malformed)
	assert.Equal(t, []string{`{"cars":{"a":{"x":1,"y":1}}}`}, rec.msgs)
}

func TestRoleDeclarationIsNotRelayed(t *testing.T) {
	rec := &memRecorder{}
	b := newBroker(Options{Recorder: rec})
	v := newFake("c")
	_, err := b.AcceptConsumer(v)
	require.NoError(t, err)

	b.OnProducerMessage([]byte(`{"role":"producer"}`))
	b.OnProducerMessage([]byte(`{"paths":{"a":[{"x":1,"y":2}]}}`))

	assert.Equal(t, []string{`{"paths":{"a":[{"x":1,"y":2}]}}`}, v.messages())
	assert.Equal(t, []string{`{"role":"producer"}`, `{"paths":{"a":[{"x":1,"y":2}]}}`}, rec.msgs)
	stats := b.Stats()
	assert.Equal(t, uint64(0), stats.Malformed)
	assert.Equal(t, uint64(1), stats.Relayed)
}

func TestLateConsumerGetsLastMaze(t *testing.T) {
	b := newBroker(Options{ReplayMaze: true})
	maze := `{"type":"mazeData","width":1,"height":1,"rleData":[[0,1]]}`
	b.OnProducerMessage([]byte(maze))
	b.OnProducerMessage([]byte(`{"cars":{"red":{"x":1,"y":1}}}`))

	late := newFake("late")
	_, err := b.AcceptConsumer(late)
	require.NoError(t, err)
	assert.Equal(t, []string{maze}, late.messages())

	noReplay := newBroker(Options{})
	noReplay.OnProducerMessage([]byte(maze))
	other := newFake("other")
	_, err = noReplay.AcceptConsumer(other)
	require.NoError(t, err)
	assert.Empty(t, other.messages())
}

func TestConsumerRegistry(t *testing.T) {
	b := newBroker(Options{})
	c := newFake("c")
	p, err := b.AcceptConsumer(c)
	require.NoError(t, err)
	assert.Equal(t, RoleConsumer, p.Role)

	_, err = b.AcceptConsumer(newFake("c"))
	assert.ErrorIs(t, err, ErrConsumerExists)

	b.OnConsumerDisconnect(p)
	assert.Zero(t, b.Stats().Consumers)
	b.OnProducerMessage([]byte(`{"cars":{}}`))
	assert.Empty(t, c.messages())
}

func TestConcurrentMembershipDuringBroadcast(t *testing.T) {
	b := newBroker(Options{})
	stable := newFake("stable")
	_, err := b.AcceptConsumer(stable)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 300; i++ {
			b.OnProducerMessage([]byte(fmt.Sprintf(`{"paths":{"red":[{"x":%d,"y":0}]}}`, i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			p, err := b.AcceptConsumer(newFake(fmt.Sprintf("churn-%d", i)))
			if err == nil {
				b.OnConsumerDisconnect(p)
			}
		}
	}()
	wg.Wait()
	assert.Len(t, stable.messages(), 300)
	assert.Equal(t, 1, b.Stats().Consumers)
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	b := newBroker(Options{})
	p := newFake("p")
	c := newFake("c")
	_, _ = b.AcceptProducer(p)
	_, _ = b.AcceptConsumer(c)

	b.Close()
	assert.True(t, p.isClosed())
	assert.True(t, c.isClosed())
	assert.False(t, b.Stats().ProducerConnected)
}

func TestRunSourceHoldsSlot(t *testing.T) {
	b := newBroker(Options{})
	v := newFake("viewer")
	_, err := b.AcceptConsumer(v)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	msgs := make(chan []byte)
	done := make(chan error, 1)
	go func() { done <- RunSource(ctx, b, "sim", msgs, time.Millisecond) }()

	msgs <- []byte(`{"cars":{"red":{"x":1,"y":1}}}`)
	require.Eventually(t, func() bool { return len(v.messages()) == 1 }, time.Second, time.Millisecond)
	assert.True(t, b.Stats().ProducerConnected)

	_, err = b.AcceptProducer(newFake("ws"))
	assert.ErrorIs(t, err, ErrProducerConnected)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, b.Stats().ProducerConnected)
}

func TestRunSourceWaitsForSlot(t *testing.T) {
	b := newBroker(Options{})
	v := newFake("viewer")
	_, _ = b.AcceptConsumer(v)
	ws, err := b.AcceptProducer(newFake("ws"))
	require.NoError(t, err)

	msgs := make(chan []byte, 1)
	done := make(chan error, 1)
	go func() { done <- RunSource(context.Background(), b, "zmq", msgs, time.Millisecond) }()

	msgs <- []byte(`{"cars":{"red":{"x":1,"y":1}}}`)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, v.messages(), "source must not relay while another producer is connected")

	b.OnProducerDisconnect(ws)
	time.Sleep(5 * time.Millisecond)
	msgs <- []byte(`{"cars":{"red":{"x":2,"y":2}}}`)
	close(msgs)
	require.NoError(t, <-done)
	assert.Equal(t, []string{`{"cars":{"red":{"x":2,"y":2}}}`}, v.messages())
	assert.False(t, b.Stats().ProducerConnected)
}

func TestLocalConn(t *testing.T) {
	c := NewLocalConn("mqtt", 1)
	assert.Contains(t, c.ID(), "mqtt-")
	assert.True(t, c.Send([]byte("a")))
	assert.False(t, c.Send([]byte("b")), "buffer full")
	assert.Equal(t, "a", string(<-c.Messages()))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.Send([]byte("c")))
}

package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu       sync.Mutex
	channel  string
	payloads []string
	fail     bool
	closed   bool
	block    chan struct{}
}

func (p *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.channel = channel
	p.payloads = append(p.payloads, string(payload))
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.payloads...)
}

// TestMirrorPublishesInOrder tests that observed frames reach the publisher
// in order and that Close drains the queue.
func TestMirrorPublishesInOrder(t *testing.T) {
	pub := &fakePublisher{}
	m := New(pub, Config{Channel: "room"}, zerolog.Nop())
	m.Start()

	m.Observe("userJoined", []byte(`{"event":"userJoined"}`))
	m.Observe("receiveMessage", []byte(`{"event":"receiveMessage"}`))

	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, []string{`{"event":"userJoined"}`, `{"event":"receiveMessage"}`}, pub.published())
	assert.Equal(t, "room", pub.channel)
	assert.True(t, pub.closed)
	assert.Equal(t, int64(2), m.Published())

	m.Observe("userLeft", []byte(`{}`))
	assert.Len(t, pub.published(), 2, "frames after Close are ignored")
}

// TestMirrorDropsWhenFull tests that Observe never blocks on a stuck broker.
func TestMirrorDropsWhenFull(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	m := New(pub, Config{Buffer: 2}, zerolog.Nop())
	m.Start()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			m.Observe("receiveMessage", []byte("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Observe blocked")
	}
	assert.GreaterOrEqual(t, m.Dropped(), int64(7))

	close(pub.block)
	require.NoError(t, m.Close(context.Background()))
}

// TestMirrorPublishErrors tests that failures are counted as unpublished
// and do not stop the mirror.
func TestMirrorPublishErrors(t *testing.T) {
	pub := &fakePublisher{fail: true}
	m := New(pub, Config{}, zerolog.Nop())
	m.Start()

	m.Observe("receiveMessage", []byte("x"))
	require.NoError(t, m.Close(context.Background()))
	assert.Zero(t, m.Published())
	assert.Empty(t, pub.published())
}

// TestMirrorCloseTimeout tests that Close honours its context.
func TestMirrorCloseTimeout(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	defer close(pub.block)
	m := New(pub, Config{}, zerolog.Nop())
	m.Start()
	m.Observe("receiveMessage", []byte("x"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Close(ctx), context.DeadlineExceeded)
}

// TestConfig tests enablement and defaults.
func TestConfig(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{RedisAddress: "localhost:6379"}.Enabled())

	cfg := Config{}.withDefaults()
	assert.Equal(t, "chatrelay:events", cfg.Channel)
	assert.Equal(t, 1024, cfg.Buffer)
}

// TestNewRedisPublisherUnreachable tests that a dead address fails fast.
func TestNewRedisPublisherUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := NewRedisPublisher(ctx, Config{RedisAddress: "127.0.0.1:1"})
	assert.Error(t, err)
}

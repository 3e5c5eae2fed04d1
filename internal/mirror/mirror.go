// Package mirror republishes relay broadcasts onto an external pub/sub
// channel for observers. Mirroring is best-effort: frames are queued in a
// bounded buffer and dropped when it is full, so a slow or unavailable
// broker never delays the relay.
package mirror

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	defaultChannel = "chatrelay:events"
	defaultBuffer  = 1024
)

// Config controls the mirror. An empty RedisAddress disables it.
type Config struct {
	RedisAddress string `mapstructure:"redis_address"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	Channel      string `mapstructure:"channel"`
	Buffer       int    `mapstructure:"buffer"`
}

// Enabled reports whether a broker address is configured.
func (c Config) Enabled() bool {
	return c.RedisAddress != ""
}

func (c Config) withDefaults() Config {
	if c.Channel == "" {
		c.Channel = defaultChannel
	}
	if c.Buffer <= 0 {
		c.Buffer = defaultBuffer
	}
	return c
}

// Publisher sends one payload to a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Close() error
}

type frame struct {
	event string
	data  []byte
}

// Mirror forwards observed broadcast frames to a Publisher from a single
// background goroutine.
type Mirror struct {
	pub     Publisher
	channel string
	logger  zerolog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan frame

	dropped   atomic.Int64
	published atomic.Int64
	done      chan struct{}
}

// New returns a mirror that publishes through pub. Call Start before use.
func New(pub Publisher, cfg Config, logger zerolog.Logger) *Mirror {
	cfg = cfg.withDefaults()
	return &Mirror{
		pub:     pub,
		channel: cfg.Channel,
		logger:  logger.With().Str("module", "mirror").Logger(),
		queue:   make(chan frame, cfg.Buffer),
		done:    make(chan struct{}),
	}
}

// Start launches the publishing goroutine.
func (m *Mirror) Start() {
	go m.run()
}

// Observe queues a broadcast frame. It never blocks.
func (m *Mirror) Observe(event string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	select {
	case m.queue <- frame{event: event, data: data}:
	default:
		if n := m.dropped.Add(1); n == 1 || n%100 == 0 {
			m.logger.Warn().Int64("dropped", n).Str("event", event).Msg("mirror buffer full; dropping frame")
		}
	}
}

func (m *Mirror) run() {
	defer close(m.done)
	for f := range m.queue {
		if err := m.pub.Publish(context.Background(), m.channel, f.data); err != nil {
			m.logger.Warn().Err(err).Str("event", f.event).Msg("failed to mirror frame")
			continue
		}
		m.published.Add(1)
	}
}

// Close stops accepting frames, drains the queue and closes the publisher.
// It returns early with ctx's error if draining outlasts ctx.
func (m *Mirror) Close(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.pub.Close()
}

// Dropped returns the number of frames discarded because the buffer was full.
func (m *Mirror) Dropped() int64 {
	return m.dropped.Load()
}

// Published returns the number of frames handed to the publisher successfully.
func (m *Mirror) Published() int64 {
	return m.published.Load()
}

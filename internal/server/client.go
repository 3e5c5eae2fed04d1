package server

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/logging"
)

// Client is one WebSocket connection. It implements chat.Sink: the relay
// enqueues frames with Send and the write pump drains them.
type Client struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	relay       *Relay
	addr        string
	ws          WebSocketConfig
	rateLimiter *rateLimiter
	rateLimit   RateLimitConfig
	logger      zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient creates a Client with a fresh connection id and a send buffer
// sized from cfg.
func NewClient(conn *websocket.Conn, relay *Relay, addr string, cfg Config, logger zerolog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.WebSocket.MaxMessageSize)
	}
	id := uuid.NewString()

	return &Client{
		id:          id,
		conn:        conn,
		send:        make(chan []byte, cfg.WebSocket.SendBuffer),
		relay:       relay,
		addr:        addr,
		ws:          cfg.WebSocket,
		rateLimiter: newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:   cfg.RateLimit,
		logger: logger.With().
			Str(logging.FieldConnID, id).
			Str(logging.FieldRemoteAddr, addr).
			Logger(),
	}
}

// ID implements chat.Sink.
func (c *Client) ID() string {
	return c.id
}

// Send implements chat.Sink. It never blocks; a full buffer is reported as
// chat.ErrSlowConsumer.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return chat.ErrSinkClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return chat.ErrSlowConsumer
	}
}

// Close implements chat.Sink. The write pump flushes what is queued, sends
// a close frame and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.ws.PongWait)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.ws.PongWait))
	})
}

// logReadError records why the read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn().Int64("limit", c.ws.MaxMessageSize).Msg("message exceeded maximum size; closing connection")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.logger.Info().Msg("client disconnected")
	case isExpectedCloseError(err):
		c.logger.Info().Err(err).Msg("client connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.logger.Warn().Err(err).Msg("unexpected WebSocket close")
	default:
		c.logger.Warn().Err(err).Msg("WebSocket read error")
	}
}

// checkRateLimit reports whether the next inbound frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Warn().Int("burst", c.rateLimit.Burst).Dur("interval", c.rateLimit.RefillInterval).
			Msg("rate limit exceeded; discarding message")
		return false
	}
	return true
}

// processMessage decodes a frame and hands it to the relay. Malformed
// frames are dropped and the connection stays open. It returns false once
// the relay has stopped.
func (c *Client) processMessage(raw []byte) bool {
	cmd, err := chat.DecodeCommand(raw)
	if err != nil {
		c.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("dropping malformed event")
		return true
	}

	if err := c.relay.Submit(c.id, cmd); err != nil {
		c.logger.Debug().Err(err).Str(logging.FieldEvent, cmd.EventName()).Msg("relay rejected command")
		return !errors.Is(err, ErrRelayStopped)
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		if err := c.relay.Disconnect(c.id); err != nil && !errors.Is(err, ErrRelayStopped) {
			c.logger.Warn().Err(err).Msg("failed to submit disconnect")
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		if !c.processMessage(raw) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.ws.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn().Err(err).Msg("error closing connection in writePump")
	}
}

// handleMessage writes one frame, or the close frame once the send channel
// is closed. Each event goes out as its own text message.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.ws.WriteWait)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn().Err(err).Msg("error writing close message")
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.ws.WriteWait)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error writing ping")
		}
		return false
	}
	return true
}

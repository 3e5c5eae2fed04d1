package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/logging"
)

// ErrRelayStopped is returned when an event is submitted after shutdown.
var ErrRelayStopped = errors.New("relay stopped")

type requestKind int

const (
	requestConnect requestKind = iota
	requestDisconnect
	requestCommand
	requestSync
)

type request struct {
	kind   requestKind
	sink   chat.Sink
	connID string
	cmd    chat.Command
	done   chan struct{}
}

// Status is a point-in-time view for the status endpoint.
type Status struct {
	ConnectedUsers int `json:"connectedUsers"`
	MessageCount   int `json:"messageCount"`
}

// Relay owns the registry, history and typing state and applies every
// connection event and command in one total order from Run. A single queue
// carries all events, so the order of submissions from one goroutine is
// the order they are applied in.
type Relay struct {
	registry *chat.Registry
	history  *chat.History
	typing   *chat.TypingTracker
	router   *chat.Router
	cfg      RelayConfig
	logger   zerolog.Logger
	now      func() time.Time

	requests chan request
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  atomic.Bool

	// stopMu orders submissions and Go calls against Shutdown.
	stopMu   sync.RWMutex
	stopping bool
}

// NewRelay builds a relay with empty state. Router options such as an
// observer for mirroring are passed through.
func NewRelay(cfg RelayConfig, logger zerolog.Logger, opts ...chat.RouterOption) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With().Str(logging.FieldModule, "relay").Logger()
	registry := chat.NewRegistry()

	return &Relay{
		registry: registry,
		history:  chat.NewHistory(cfg.HistoryCapacity),
		typing:   chat.NewTypingTracker(),
		router:   chat.NewRouter(registry, logger, opts...),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		requests: make(chan request, 256),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Connect attaches a new connection. It does not create a session.
func (r *Relay) Connect(sink chat.Sink) error {
	return r.submit(request{kind: requestConnect, sink: sink})
}

// Disconnect tears down connID. Repeated calls are no-ops.
func (r *Relay) Disconnect(connID string) error {
	return r.submit(request{kind: requestDisconnect, connID: connID})
}

// Submit queues a decoded command from connID.
func (r *Relay) Submit(connID string, cmd chat.Command) error {
	return r.submit(request{kind: requestCommand, connID: connID, cmd: cmd})
}

// Sync waits until every event submitted before it has been applied.
func (r *Relay) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := r.submit(request{kind: requestSync, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-r.done:
		return ErrRelayStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) submit(req request) error {
	r.stopMu.RLock()
	defer r.stopMu.RUnlock()

	if r.stopping {
		return ErrRelayStopped
	}
	select {
	case <-r.ctx.Done():
		return ErrRelayStopped
	default:
	}

	select {
	case r.requests <- req:
		return nil
	case <-r.ctx.Done():
		return ErrRelayStopped
	}
}

// Go runs fn as a connection goroutine that Shutdown waits for. Once
// shutdown has begun it returns ErrRelayStopped without running fn.
func (r *Relay) Go(fn func()) error {
	r.stopMu.RLock()
	defer r.stopMu.RUnlock()

	if r.stopping {
		return ErrRelayStopped
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
	return nil
}

// Status reports the live session count and retained history length.
func (r *Relay) Status() Status {
	return Status{
		ConnectedUsers: r.registry.Count(),
		MessageCount:   r.history.Len(),
	}
}

// Sessions returns the joined sessions in join order.
func (r *Relay) Sessions() []chat.Session {
	return r.registry.List()
}

// Run is the relay's event loop. It returns after Shutdown, or at once if
// the relay is already running or was shut down before starting.
func (r *Relay) Run() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	defer close(r.done)

	var sweep <-chan time.Time
	if r.cfg.TypingTTL > 0 {
		interval := r.cfg.TypingSweepInterval
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	r.logger.Info().Dur("typing_ttl", r.cfg.TypingTTL).Int("history_capacity", r.history.Cap()).
		Msg("relay started")

	for {
		select {
		case <-r.ctx.Done():
			r.shutdownConnections()
			return

		case req := <-r.requests:
			r.apply(req)

		case <-sweep:
			r.expireTyping()
		}
	}
}

func (r *Relay) apply(req request) {
	switch req.kind {
	case requestConnect:
		r.handleConnect(req.sink)
	case requestDisconnect:
		r.handleDisconnect(req.connID)
	case requestCommand:
		r.handleCommand(req.connID, req.cmd)
	case requestSync:
	}
	if req.done != nil {
		close(req.done)
	}
}

func (r *Relay) handleConnect(sink chat.Sink) {
	if err := r.router.Attach(sink); err != nil {
		r.logger.Warn().Err(err).Msg("rejected connection")
		if sink != nil {
			sink.Close()
		}
		return
	}
	r.logger.Info().Str(logging.FieldConnID, sink.ID()).Int("attached", r.router.Attached()).
		Msg("connection attached")
}

func (r *Relay) handleCommand(connID string, cmd chat.Command) {
	if _, ok := r.router.Sink(connID); !ok {
		r.logger.Warn().Str(logging.FieldConnID, connID).Str(logging.FieldEvent, eventName(cmd)).
			Msg("ignoring command from unknown connection")
		return
	}

	switch c := cmd.(type) {
	case chat.JoinCommand:
		r.handleJoin(connID, c)
	case chat.SendMessageCommand:
		r.handleSendMessage(connID, c)
	case chat.TypingCommand:
		r.handleTyping(connID, c)
	case chat.StopTypingCommand:
		r.handleStopTyping(connID)
	case chat.GetUsersCommand:
		r.handleGetUsers(connID)
	default:
		r.logger.Warn().Str(logging.FieldConnID, connID).Str("type", fmt.Sprintf("%T", cmd)).
			Msg("ignoring unsupported command")
	}
}

func eventName(cmd chat.Command) string {
	if cmd == nil {
		return ""
	}
	return cmd.EventName()
}

func (r *Relay) handleJoin(connID string, cmd chat.JoinCommand) {
	if _, err := r.registry.Join(connID, cmd.Username); err != nil {
		r.logger.Warn().Err(err).Str(logging.FieldConnID, connID).Msg("join rejected")
		return
	}
	logging.Audit(r.logger, logging.ActionJoin, connID, cmd.Username, "user joined")

	joined := r.router.BroadcastAll(chat.JoinedEvent(cmd.Username, r.registry.List(), r.now()))
	backfill := r.router.Unicast(connID, chat.Event{Name: chat.EventMessageHistory, Payload: r.history.Snapshot()})

	r.evict(joined.Failed)
	r.evict(backfill.Failed)
}

func (r *Relay) handleSendMessage(connID string, cmd chat.SendMessageCommand) {
	session, ok := r.registry.Get(connID)
	if !ok {
		r.logger.Debug().Str(logging.FieldConnID, connID).Msg("ignoring sendMessage from unjoined connection")
		return
	}

	username := session.Username
	if cmd.HasUsername {
		username = cmd.Username
	}

	msg := chat.NewChatMessage(connID, username, cmd.Body, r.now())
	r.history.Append(msg)
	logging.Audit(r.logger, logging.ActionSendMessage, connID, username, "message relayed")

	d := r.router.BroadcastAll(chat.Event{Name: chat.EventReceiveMessage, Payload: msg})
	r.evict(d.Failed)
}

func (r *Relay) handleTyping(connID string, cmd chat.TypingCommand) {
	session, ok := r.registry.Get(connID)
	if !ok {
		r.logger.Debug().Str(logging.FieldConnID, connID).Msg("ignoring typing from unjoined connection")
		return
	}

	username := session.Username
	if cmd.HasUsername {
		username = cmd.Username
	}
	r.typing.SetTyping(connID, username)

	d := r.router.BroadcastExcept(chat.Event{
		Name:    chat.EventUserTyping,
		Payload: chat.TypingNotice{Username: username, UserID: connID},
	}, connID)
	r.evict(d.Failed)
}

func (r *Relay) handleStopTyping(connID string) {
	if _, ok := r.registry.Get(connID); !ok {
		r.logger.Debug().Str(logging.FieldConnID, connID).Msg("ignoring stopTyping from unjoined connection")
		return
	}
	r.typing.ClearTyping(connID)

	d := r.router.BroadcastExcept(stoppedTyping(connID), connID)
	r.evict(d.Failed)
}

func (r *Relay) handleGetUsers(connID string) {
	d := r.router.Unicast(connID, chat.Event{Name: chat.EventUsersList, Payload: r.registry.List()})
	r.evict(d.Failed)
}

// handleDisconnect detaches the connection, drops its session and typing
// marker, and announces the departure if a session existed.
func (r *Relay) handleDisconnect(connID string) {
	if sink, attached := r.router.Detach(connID); attached {
		sink.Close()
	}
	session, joined := r.registry.Leave(connID)
	r.typing.ClearTyping(connID)

	if !joined {
		r.logger.Debug().Str(logging.FieldConnID, connID).Msg("disconnect without session")
		return
	}
	logging.Audit(r.logger, logging.ActionLeave, connID, session.Username, "user left")

	d := r.router.BroadcastAll(chat.LeftEvent(session.Username, r.registry.List(), r.now()))
	r.evict(d.Failed)
}

// expireTyping clears markers older than the TTL and tells everyone else.
func (r *Relay) expireTyping() {
	for _, st := range r.typing.Expire(r.cfg.TypingTTL) {
		if _, ok := r.registry.Get(st.ConnID); !ok {
			continue
		}
		r.logger.Debug().Str(logging.FieldConnID, st.ConnID).Msg("typing marker expired")
		d := r.router.BroadcastExcept(stoppedTyping(st.ConnID), st.ConnID)
		r.evict(d.Failed)
	}
}

func stoppedTyping(connID string) chat.Event {
	return chat.Event{Name: chat.EventUserStoppedTyping, Payload: chat.StoppedTypingNotice{UserID: connID}}
}

// evict detaches and closes sinks that could not take a frame, so later
// fan-outs skip them. Closing ends the connection, whose read pump then
// submits the disconnect that removes the session.
func (r *Relay) evict(connIDs []string) {
	for _, id := range connIDs {
		sink, ok := r.router.Detach(id)
		if !ok {
			continue
		}
		sink.Close()
		username := ""
		if s, ok := r.registry.Get(id); ok {
			username = s.Username
		}
		logging.Audit(r.logger, logging.ActionEvict, id, username, "connection evicted after failed delivery")
	}
}

// drainPending closes connections whose attach was queued but never
// applied. It runs after the loop has exited and no submitter is active.
func (r *Relay) drainPending() {
	for {
		select {
		case req := <-r.requests:
			if req.kind == requestConnect && req.sink != nil {
				req.sink.Close()
			}
		default:
			return
		}
	}
}

func (r *Relay) shutdownConnections() {
	sinks := r.router.Sinks()
	r.logger.Info().Int("connections", len(sinks)).Msg("closing all connections")
	for _, sink := range sinks {
		sink.Close()
	}
}

// Shutdown stops the event loop, closes every connection and waits for
// connection goroutines started with Go, up to timeout.
func (r *Relay) Shutdown(timeout time.Duration) error {
	r.logger.Info().Msg("initiating relay shutdown")

	r.cancel()

	r.stopMu.Lock()
	r.stopping = true
	r.stopMu.Unlock()

	if r.started.CompareAndSwap(false, true) {
		close(r.done)
	}
	<-r.done
	r.drainPending()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info().Msg("relay shutdown completed")
		return nil
	case <-time.After(timeout):
		r.logger.Warn().Dur("timeout", timeout).Msg("relay shutdown timed out; some connections may still be closing")
		return context.DeadlineExceeded
	}
}

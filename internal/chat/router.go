package chat

import (
	"sync"

	"github.com/rs/zerolog"
)

// Observer is notified once per broadcast with the encoded frame. It must
// not block.
type Observer interface {
	Observe(event string, frame []byte)
}

// Delivery summarises one fan-out.
type Delivery struct {
	Targets   int
	Delivered int
	Failed    []string
}

// Router delivers events to attached sinks. Broadcast targets are the
// sessions present in the registry when the call is made; unicast targets
// any attached sink, joined or not.
//
// A failed send to one sink is logged and reported in the Delivery but never
// stops delivery to the others.
type Router struct {
	sessions *Registry
	logger   zerolog.Logger
	observer Observer

	mu    sync.RWMutex
	sinks map[string]Sink
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithObserver installs an observer for broadcast events.
func WithObserver(o Observer) RouterOption {
	return func(r *Router) { r.observer = o }
}

// NewRouter returns a router reading the live set from sessions.
func NewRouter(sessions *Registry, logger zerolog.Logger, opts ...RouterOption) *Router {
	r := &Router{
		sessions: sessions,
		logger:   logger,
		sinks:    make(map[string]Sink),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach makes sink reachable by its id.
func (r *Router) Attach(sink Sink) error {
	if sink == nil || sink.ID() == "" {
		return ErrEmptyConnID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[sink.ID()] = sink
	return nil
}

// Detach removes the sink for connID and returns it.
func (r *Router) Detach(connID string) (Sink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sinks[connID]
	if ok {
		delete(r.sinks, connID)
	}
	return s, ok
}

// Sink returns the attached sink for connID.
func (r *Router) Sink(connID string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sinks[connID]
	return s, ok
}

// Attached returns the number of attached sinks.
func (r *Router) Attached() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// Sinks returns a copy of every attached sink.
func (r *Router) Sinks() []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Sink, 0, len(r.sinks))
	for _, s := range r.sinks {
		out = append(out, s)
	}
	return out
}

// BroadcastAll delivers ev to every joined connection.
func (r *Router) BroadcastAll(ev Event) Delivery {
	return r.broadcast(ev, "")
}

// BroadcastExcept delivers ev to every joined connection but exclude.
func (r *Router) BroadcastExcept(ev Event, exclude string) Delivery {
	return r.broadcast(ev, exclude)
}

// Unicast delivers ev to connID only.
func (r *Router) Unicast(connID string, ev Event) Delivery {
	frame, ok := r.encode(ev)
	if !ok {
		return Delivery{}
	}
	var d Delivery
	if sink, found := r.Sink(connID); found {
		d.Targets = 1
		r.deliver(sink, ev.Name, frame, &d)
	}
	return d
}

func (r *Router) broadcast(ev Event, exclude string) Delivery {
	frame, ok := r.encode(ev)
	if !ok {
		return Delivery{}
	}

	var d Delivery
	for _, s := range r.sessions.List() {
		if s.ConnID == exclude {
			continue
		}
		sink, found := r.Sink(s.ConnID)
		if !found {
			continue
		}
		d.Targets++
		r.deliver(sink, ev.Name, frame, &d)
	}

	if r.observer != nil {
		r.observer.Observe(ev.Name, frame)
	}
	r.logger.Debug().Str("event", ev.Name).Int("targets", d.Targets).Int("failed", len(d.Failed)).Msg("broadcast")
	return d
}

func (r *Router) deliver(sink Sink, event string, frame []byte, d *Delivery) {
	if err := sink.Send(frame); err != nil {
		r.logger.Warn().Err(err).Str("conn_id", sink.ID()).Str("event", event).Msg("delivery failed")
		d.Failed = append(d.Failed, sink.ID())
		return
	}
	d.Delivered++
}

func (r *Router) encode(ev Event) ([]byte, bool) {
	frame, err := ev.Encode()
	if err != nil {
		r.logger.Error().Err(err).Str("event", ev.Name).Msg("failed to encode event")
		return nil, false
	}
	return frame, true
}

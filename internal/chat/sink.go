package chat

import "errors"

var (
	// ErrSlowConsumer is returned by Sink.Send when the outbound queue is full.
	ErrSlowConsumer = errors.New("outbound queue full")
	// ErrSinkClosed is returned by Sink.Send after Close.
	ErrSinkClosed = errors.New("sink closed")
)

// Sink is the relay's view of one transport connection.
//
// Send must not block: it either queues the frame or fails. Close must be
// safe to call more than once.
type Sink interface {
	ID() string
	Send(frame []byte) error
	Close()
}

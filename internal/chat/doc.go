// Package chat holds the relay's state components and wire protocol: the
// session registry, the bounded message history, the typing tracker and the
// broadcast router that fans encoded events out to connection sinks.
//
// Nothing in this package starts goroutines. Ordering across events is the
// caller's responsibility; the server package serialises every mutation
// through a single coordinating loop.
package chat

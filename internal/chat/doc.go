// Package chat implements the in-memory room, session and message
// coordination layer of AnonyChat.
//
// The Store owns every room and its message log. The SessionManager binds
// live connections to rooms, enforces per-connection rate limits and emits
// history, message, presence and typing events through a Delivery. Neither
// type starts goroutines; callers are expected to drive all mutations from a
// single event loop so that per-room append order equals broadcast order.
package chat

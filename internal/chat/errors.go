package chat

import "errors"

// Sentinel errors returned by the Store and SessionManager.
var (
	// ErrInvalidInput is returned for empty room codes, names or message bodies.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRoomFull is returned when a room has reached its member capacity.
	ErrRoomFull = errors.New("room is full")

	// ErrRateLimited is returned when a sender has no tokens left.
	ErrRateLimited = errors.New("rate limited")

	// ErrRoomNotRecognized is returned when a session references a room that
	// no longer exists.
	ErrRoomNotRecognized = errors.New("room not recognized")

	// ErrNotJoined is returned when a connection sends before joining a room.
	ErrNotJoined = errors.New("not joined to a room")

	// ErrUnknownSession is returned for connection ids without a session.
	ErrUnknownSession = errors.New("unknown session")
)

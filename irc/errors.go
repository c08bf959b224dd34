package irc

import "errors"

var (
	// ErrNotConnected is returned by Send and Receive while the connection is down.
	ErrNotConnected = errors.New("irc: not connected")
	// ErrTransport wraps a socket read/write failure. The connection has already
	// been re-established (or the context cancelled) when it is returned.
	ErrTransport = errors.New("irc: transport failure")
	// ErrMalformed marks a received line that could not be interpreted.
	ErrMalformed = errors.New("irc: malformed line")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("irc: connection closed")

	errHandshake = errors.New("irc: handshake failed")
)

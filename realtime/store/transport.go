package store

// Conn is a live transport connection.
type Conn interface {
	// WriteText sends one text frame.
	WriteText(data []byte) error
	// Close starts closing the connection. The matching Events.Close may
	// arrive later, or not at all if the connection never opened.
	Close() error
}

// Events receives the notifications of a single connection. Implementations
// of Dialer must deliver them from their own goroutines, never from inside
// Open or Close, and in the order they happened.
type Events interface {
	Open()
	Close(code int, reason string)
	Error(err error)
	Message(data []byte)
}

// Dialer opens transport connections. Open must return immediately; the
// outcome is reported on ev.
type Dialer interface {
	Open(url string, ev Events) Conn
}

package signaling

// Socket is the transport side of one client connection. The Hub uses the
// Socket value itself as the table key, so implementations must be comparable
// (typically a pointer).
//
// Writes are queued and performed asynchronously in call order. done, when
// non-nil, is called exactly once with the outcome of the write.
type Socket interface {
	WriteText(data []byte, done func(error))
	// WriteClose queues a close frame behind any pending text frames and then
	// releases the underlying connection.
	WriteClose(done func(error))
	RemoteAddr() string
}

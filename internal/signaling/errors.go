package signaling

import "errors"

var (
	ErrUnexpectedJSON         = errors.New("unexpected json")
	ErrInvalidJSON            = errors.New("invalid json")
	ErrInvalidMessageType     = errors.New("invalid message type")
	ErrMissingRoomID          = errors.New("missing room id")
	ErrRegistrationIncomplete = errors.New("registration incomplete")
	ErrRoomFull               = errors.New("room full")
	ErrPongTimeout            = errors.New("pong timeout")
	ErrPeerLeft               = errors.New("peer left")
	ErrServerShutdown         = errors.New("server shutdown")
	ErrSocketClosed           = errors.New("socket closed")
	ErrSendQueueFull          = errors.New("send queue full")
)

package signaling

import "errors"

var (
	ErrConnect        = errors.New("signaling connect failed")
	ErrConnectTimeout = errors.New("signaling connect timed out")
	ErrToken          = errors.New("failed to obtain join token")
	ErrClosed         = errors.New("signaling client is closed")
	ErrUnknownType    = errors.New("unknown message type")
)

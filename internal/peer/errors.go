package peer

import (
	"errors"
	"fmt"
)

var (
	ErrMediaAccess    = errors.New("media access failed")
	ErrNegotiation    = errors.New("negotiation failed")
	ErrNotJoined      = errors.New("not in a room")
	ErrUnknownPeer    = errors.New("unknown peer")
	ErrNoPendingOffer = errors.New("no pending call offer")
)

// Error records the operation and peer an error happened on.
type Error struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Peer != "" {
		msg = fmt.Sprintf("%s %s", e.Op, e.Peer)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", msg, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// negotiationError marks err as a per-peer negotiation failure.
func negotiationError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: fmt.Errorf("%w: %w", ErrNegotiation, err)}
}

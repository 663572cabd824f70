package defn

import "errors"

// Error kinds surfaced by the stack. Callers match with errors.Is.
var (
	ErrNotFound             = errors.New("not found")
	ErrNoBufs               = errors.New("no buffers")
	ErrParse                = errors.New("parse failed")
	ErrDrop                 = errors.New("dropped")
	ErrInvalidState         = errors.New("invalid state")
	ErrFailed               = errors.New("operation failed")
	ErrAbort                = errors.New("aborted")
	ErrNoAck                = errors.New("no ack")
	ErrChannelAccessFailure = errors.New("channel access failure")
)

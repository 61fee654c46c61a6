package protocol

import "errors"

var (
	ErrMessageTypeMismatch = errors.New("protocol: message type mismatch")
	ErrEmptyEnvelope       = errors.New("protocol: empty envelope")
	ErrEnvelopeType        = errors.New("protocol: payload is not a contract envelope")
)

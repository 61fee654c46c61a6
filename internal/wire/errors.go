package wire

import "errors"

// Protocol errors are fatal for the payload being decoded and are never
// retried. ErrUnsupportedType and ErrLiveObject are raised on the encoding
// side before any bytes leave the codec.
var (
	ErrUnknownTag        = errors.New("wire: unknown tag")
	ErrTruncated         = errors.New("wire: truncated data")
	ErrInvalidLength     = errors.New("wire: invalid length")
	ErrInvalidReference  = errors.New("wire: invalid reference slot")
	ErrUnresolvableType  = errors.New("wire: unresolvable type descriptor")
	ErrSchemaMismatch    = errors.New("wire: object schema mismatch")
	ErrTooDeep           = errors.New("wire: nesting too deep")
	ErrUnexpectedTag     = errors.New("wire: unexpected tag")
	ErrUnsupportedType   = errors.New("wire: unsupported type")
	ErrLiveObject        = errors.New("wire: live object cannot be serialized")
	ErrDecimalOverflow   = errors.New("wire: decimal out of range")
	ErrTypeMismatch      = errors.New("wire: value not assignable")
	ErrTrailingBytes     = errors.New("wire: trailing bytes after value")
	ErrInvalidTextFormat = errors.New("wire: invalid text encoding")
)

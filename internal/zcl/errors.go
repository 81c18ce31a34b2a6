package zcl

import "errors"

// Codec errors. Malformed inbound frames are reduced to log+drop at the
// dispatch layer; these only reach callers of encode/decode directly.
var (
	ErrBufferTooShort  = errors.New("zcl: buffer too short")
	ErrUnknownTypeCode = errors.New("zcl: unknown type code")
	ErrValueOutOfRange = errors.New("zcl: value out of range")
)

package scan

import "errors"

var (
	ErrUnknownMode    = errors.New("unknown generation mode")
	ErrInvalidRequest = errors.New("invalid scan request")
)

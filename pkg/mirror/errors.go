package mirror

import "errors"

var (
	ErrInvalidBaseURL  = errors.New("mirror: invalid collector base URL")
	ErrDelivery        = errors.New("mirror: delivery failed")
	ErrCollectorStatus = errors.New("mirror: collector rejected delivery")
)

package bloom

import "errors"

var (
	ErrInvalidSize = errors.New("bloom: invalid size")
	ErrInvalidRate = errors.New("bloom: invalid false-positive rate")
)

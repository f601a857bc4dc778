package api

import "errors"

// ErrInvalidOptions marks any configuration problem detected at
// interceptor construction.
var ErrInvalidOptions = errors.New("api: invalid options")

package domain

import "errors"

// ErrUnauthorized is returned when a channel's authorizer refuses a
// connection at subscribe time.
var ErrUnauthorized = errors.New("connection not authorized for channel")

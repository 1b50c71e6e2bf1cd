package port

import "errors"

var (
	// ErrUnknownDriver indicates a transport or broker driver name outside
	// the supported set. It is a configuration error and is never retried.
	ErrUnknownDriver = errors.New("unknown driver")
	// ErrConnectionNotFound indicates a directed send to a connection id
	// that is not registered.
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrUserNotConnected indicates a user-directed send found no
	// connection carrying that user id.
	ErrUserNotConnected = errors.New("user not connected")
	// ErrNotConnected indicates a broker operation after Disconnect or
	// before the underlying client was established.
	ErrNotConnected = errors.New("broker not connected")
	// ErrNoSubscriptions indicates Consume was started without any active
	// subscription to poll for.
	ErrNoSubscriptions = errors.New("no active subscriptions")
	// ErrAlreadyConsuming indicates a second Consume call while the poll
	// loop is still running.
	ErrAlreadyConsuming = errors.New("consumer already running")
)

package infrastructure

import "toporia/internal/modules/realtime/domain"

// ConnectionRegistry is the slice of the manager that transports call back
// into. Transports own sockets and streams; registry membership and channel
// state stay with the manager.
type ConnectionRegistry interface {
	Register(conn *domain.Connection)
	Subscribe(conn *domain.Connection, channel string) error
	Unsubscribe(conn *domain.Connection, channel string)
	Disconnect(connectionID string) error
}

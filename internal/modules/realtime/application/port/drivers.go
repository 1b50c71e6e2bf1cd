package port

// TransportDriver names one of the supported transport implementations. The
// set is closed; factories reject anything else with ErrUnknownDriver.
type TransportDriver string

const (
	TransportMemory    TransportDriver = "memory"
	TransportWebSocket TransportDriver = "websocket"
	TransportSSE       TransportDriver = "sse"
)

// Valid reports whether the driver is in the supported set.
func (d TransportDriver) Valid() bool {
	switch d {
	case TransportMemory, TransportWebSocket, TransportSSE:
		return true
	}
	return false
}

// BrokerDriver names one of the supported broker implementations. BrokerNone
// is a valid configuration: local delivery alone is a well-formed
// single-server deployment.
type BrokerDriver string

const (
	BrokerNone   BrokerDriver = "none"
	BrokerMemory BrokerDriver = "memory"
	BrokerRedis  BrokerDriver = "redis"
	BrokerKafka  BrokerDriver = "kafka"
)

// Valid reports whether the driver is in the supported set.
func (d BrokerDriver) Valid() bool {
	switch d {
	case BrokerNone, BrokerMemory, BrokerRedis, BrokerKafka:
		return true
	}
	return false
}

package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected means no upstream socket exists; callers see it
	// immediately and nothing is queued or retried.
	ErrNotConnected = errors.New("gateway: not connected")

	// ErrTimeout means a specific RPC exceeded its wait bound while the
	// connection stayed up.
	ErrTimeout = errors.New("gateway: request timed out")

	// ErrConnectionLost means the socket closed while the request was in
	// flight.
	ErrConnectionLost = errors.New("gateway: connection lost")

	// ErrProtocolViolation means a malformed or unexpected frame was seen.
	ErrProtocolViolation = errors.New("gateway: protocol violation")

	// ErrUpstreamUnavailable means the upstream gateway could not be reached.
	ErrUpstreamUnavailable = errors.New("gateway: upstream unavailable")
)

// RPCError is a structured error returned by the gateway in a response frame.
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("gateway: rpc error %s: %s", e.Code, e.Message)
}

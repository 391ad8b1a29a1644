package gateway

import "time"

// Status represents the connection status of a query tool server.
type Status string

const (
	// StatusDisconnected indicates the server is not connected.
	StatusDisconnected Status = "disconnected"

	// StatusConnecting indicates a connection attempt is in progress.
	StatusConnecting Status = "connecting"

	// StatusConnected indicates the server is successfully connected.
	StatusConnected Status = "connected"

	// StatusFailed indicates the connection attempt failed.
	StatusFailed Status = "failed"
)

// State tracks the state of a single query tool server connection.
// It is serialized as-is on the status surface.
type State struct {
	// Name is the unique identifier for this server.
	Name string `json:"name"`

	// Status is the current connection status.
	Status Status `json:"status"`

	// ToolCount is the number of tools discovered on this server.
	ToolCount int `json:"tool_count"`

	// LastError is the message of the last error encountered, if any.
	LastError string `json:"last_error,omitempty"`

	// LastAttempt is the timestamp of the last connection attempt.
	LastAttempt time.Time `json:"last_attempt"`

	// SuccessCount is the number of successful tool calls.
	SuccessCount int `json:"success_count"`

	// FailureCount is the number of failed tool calls.
	FailureCount int `json:"failure_count"`
}

package agent

import (
	"errors"
	"fmt"
)

// ErrModelUnavailable indicates the language model could not be reached
// after the retry budget and circuit breaker were exhausted. Terminal for
// the respond call; no partial answer is produced.
var ErrModelUnavailable = errors.New("language model unavailable")

// UnknownToolError indicates the model requested a tool that was never
// discovered from the gateway. The gateway is not invoked; the request is
// answered with an error turn and the respond call terminates.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("model requested unknown tool %q", e.Tool)
}

package pool

import (
	"errors"
	"fmt"
)

// ErrPoolExhausted is returned by Acquire when no eligible endpoint has
// spare capacity. It is a normal operating condition, not a pool fault;
// callers should back off and retry.
var ErrPoolExhausted = errors.New("pool exhausted: no eligible endpoint available")

// ConfigurationError reports invalid endpoint configuration at construction
// or reload time. It is never retried automatically.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("pool configuration: %s", e.Reason)
}

func configErrorf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

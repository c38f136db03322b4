package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider turns one text into a vector. Implementations are selected once
// at startup and never switched during a batch.
type Provider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// StatusError is a non-2xx response from an HTTP embedding endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("embedding request failed: %d, %s", e.StatusCode, e.Body)
}

// IsRateLimited reports whether err looks like a provider quota rejection.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == 429
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

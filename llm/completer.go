// Package llm extracts product records from listing markup with a remote
// completion model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Request is a single-turn completion request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int64
}

// Response is the text reply of a completion.
type Response struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Completer sends completion requests to a model provider.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// APIError is a non-success reply from a completion provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsTransient reports whether err is a dropped connection worth re-sending.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection reset")
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return Seconds(secs, 0)
}

// Seconds converts a seconds count to a Duration no larger than ceiling.
// A non-positive ceiling means the largest representable Duration.
// Negative and NaN inputs yield zero.
func Seconds(secs float64, ceiling time.Duration) time.Duration {
	if ceiling <= 0 {
		ceiling = math.MaxInt64
	}
	if math.IsNaN(secs) || secs <= 0 {
		return 0
	}
	ns := secs * float64(time.Second)
	if ns >= float64(ceiling) {
		return ceiling
	}
	return time.Duration(ns)
}

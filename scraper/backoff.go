package scraper

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-ebay/config"
	"github.com/aluiziolira/go-scrape-ebay/llm"
)

var retryHintPattern = regexp.MustCompile(`try again in (\d+(\.\d+)?)s`)

// BackoffDecision is the outcome of inspecting a failed extraction attempt.
type BackoffDecision struct {
	ShouldRetry bool
	Wait        time.Duration
	Terminal    bool
}

// RateLimitBackoff decides how to react to completion errors.
type RateLimitBackoff struct {
	DefaultWait time.Duration
	MaxWait     time.Duration
	MaxAttempts int
}

// NewRateLimitBackoff builds a policy from config.
func NewRateLimitBackoff(cfg config.BackoffConfig) *RateLimitBackoff {
	return &RateLimitBackoff{
		DefaultWait: cfg.DefaultWait,
		MaxWait:     cfg.MaxWait,
		MaxAttempts: cfg.MaxAttempts,
	}
}

// Decide classifies err, the failure of the given 1-based attempt. Errors that
// are not rate limits are abandoned; rate limits are retried until MaxAttempts
// attempts have failed.
func (b *RateLimitBackoff) Decide(err error, attempt int) BackoffDecision {
	if !isRateLimit(err) {
		return BackoffDecision{}
	}
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return BackoffDecision{Terminal: true}
	}
	return BackoffDecision{ShouldRetry: true, Wait: b.waitFor(err)}
}

// Wait sleeps for d or until ctx is done.
func (b *RateLimitBackoff) Wait(ctx context.Context, d time.Duration) error {
	return llm.SleepContext(ctx, d)
}

func (b *RateLimitBackoff) waitFor(err error) time.Duration {
	wait := b.DefaultWait
	if m := retryHintPattern.FindStringSubmatch(err.Error()); m != nil {
		if secs, perr := strconv.ParseFloat(m[1], 64); perr == nil {
			wait = llm.Seconds(secs, b.MaxWait)
		}
	} else {
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			wait = apiErr.RetryAfter
		}
	}
	if b.MaxWait > 0 && wait > b.MaxWait {
		wait = b.MaxWait
	}
	return wait
}

func isRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Rate limit") || strings.Contains(msg, "TPM")
}

package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-ebay/config"
	"github.com/aluiziolira/go-scrape-ebay/llm"
)

func TestRateLimitBackoffDecide(t *testing.T) {
	b := NewRateLimitBackoff(config.DefaultConfig().Backoff)

	tests := []struct {
		name    string
		err     error
		attempt int
		want    BackoffDecision
	}{
		{
			name:    "groq hint",
			err:     errors.New("Rate limit reached for model llama3-8b-8192. Please try again in 2.5s."),
			attempt: 1,
			want:    BackoffDecision{ShouldRetry: true, Wait: 2500 * time.Millisecond},
		},
		{
			name:    "tpm without hint uses default",
			err:     errors.New("tokens per minute (TPM) exceeded"),
			attempt: 1,
			want:    BackoffDecision{ShouldRetry: true, Wait: 5 * time.Second},
		},
		{
			name:    "integer hint",
			err:     errors.New("Rate limit exceeded, try again in 12s"),
			attempt: 3,
			want:    BackoffDecision{ShouldRetry: true, Wait: 12 * time.Second},
		},
		{
			name:    "hint capped at max wait",
			err:     errors.New("Rate limit exceeded, try again in 600s"),
			attempt: 1,
			want:    BackoffDecision{ShouldRetry: true, Wait: time.Minute},
		},
		{
			name:    "overflowing hint capped at max wait",
			err:     errors.New("Rate limit exceeded, try again in 99999999999999999999s"),
			attempt: 1,
			want:    BackoffDecision{ShouldRetry: true, Wait: time.Minute},
		},
		{
			name:    "api error retry-after",
			err:     fmt.Errorf("llm: completion: %w", &llm.APIError{StatusCode: http.StatusTooManyRequests, Message: "slow down", RetryAfter: 7 * time.Second}),
			attempt: 1,
			want:    BackoffDecision{ShouldRetry: true, Wait: 7 * time.Second},
		},
		{
			name:    "not rate limited",
			err:     errors.New("invalid api key"),
			attempt: 1,
			want:    BackoffDecision{},
		},
		{
			name:    "server error is not rate limited",
			err:     &llm.APIError{StatusCode: http.StatusInternalServerError, Message: "boom"},
			attempt: 1,
			want:    BackoffDecision{},
		},
		{
			name:    "attempts exhausted",
			err:     errors.New("Rate limit reached. Please try again in 1s."),
			attempt: 10,
			want:    BackoffDecision{Terminal: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Decide(tt.err, tt.attempt); got != tt.want {
				t.Fatalf("Decide() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRateLimitBackoffWaitCancelled(t *testing.T) {
	b := NewRateLimitBackoff(config.DefaultConfig().Backoff)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := b.Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait err = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Wait did not return promptly")
	}
}

func TestRateLimitBackoffWaitElapses(t *testing.T) {
	b := NewRateLimitBackoff(config.DefaultConfig().Backoff)
	if err := b.Wait(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("Wait err = %v", err)
	}
}

func TestRateLimitBackoffUncappedHintStaysPositive(t *testing.T) {
	b := &RateLimitBackoff{DefaultWait: time.Second}
	got := b.Decide(errors.New("Rate limit exceeded, try again in 99999999999999999999s"), 1)
	if !got.ShouldRetry || got.Wait <= 0 {
		t.Fatalf("Decide() = %+v, want a positive wait", got)
	}
}

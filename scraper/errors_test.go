package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/aluiziolira/go-scrape-ebay/llm"
	"github.com/aluiziolira/go-scrape-ebay/parser"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestErrorTypeLabelExtraction(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "completion rate limit", err: &llm.APIError{StatusCode: http.StatusTooManyRequests, Message: "slow down"}, expected: "rate_limited"},
		{name: "groq message", err: errors.New("Rate limit reached on tokens per minute (TPM)"), expected: "rate_limited"},
		{name: "connection reset", err: fmt.Errorf("post: %w", syscall.ECONNRESET), expected: "connection"},
		{name: "parse", err: &parser.ParseError{Kind: parser.ParseNoArray, Err: parser.ErrNoArrayFound}, expected: "parse"},
		{name: "canceled", err: context.Canceled, expected: "canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(tt.err); got != tt.expected {
				t.Fatalf("errorTypeLabel(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestPageNavigationErrorUnwraps(t *testing.T) {
	inner := ErrForbidden{Err: errors.New("Forbidden")}
	err := fmt.Errorf("crawl: %w", &PageNavigationError{URL: "http://ebay.test/sch/i.html", Page: 3, Err: inner})

	var nav *PageNavigationError
	if !errors.As(err, &nav) {
		t.Fatalf("expected PageNavigationError in chain")
	}
	if nav.Page != 3 {
		t.Fatalf("page = %d, want 3", nav.Page)
	}
	var forbidden ErrForbidden
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ErrForbidden in chain")
	}
}

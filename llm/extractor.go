package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-scrape-ebay/config"
	"github.com/aluiziolira/go-scrape-ebay/models"
	"github.com/aluiziolira/go-scrape-ebay/parser"
)

const (
	systemPrompt       = "You respond only with a JSON array."
	fragmentSeparator  = "\n\n---\n\n"
	rawLogPreviewChars = 2000
)

const promptTemplate = `Your task is to extract data from eBay product listing HTML.

For every HTML block, extract:
- title (the product title; if it contains double quotes, turn them into single quotes or drop them so the JSON stays valid),
- price (the product price including its currency symbol, such as "$89.99" or "IDR1,949,650"; if none is found use "-"),
- description (the product description; look for details such as "condition", "item specifics" or anything describing the item. Avoid bare "brand new" or "pre-owned" and prefer features or specifications; if none is found use "-").

Notes:
- Do not include ads, promotions or banners such as "Shop on eBay" or "Find great deals".
- Answer only with a JSON array: [ { "title": "...", "price": "...", "description": "..." } ]

The HTML blocks:
%s
`

// Options tune the extractor.
type Options struct {
	Model               string
	Temperature         float64
	MaxTokens           int64
	MaxFragmentChars    int
	BatchSize           int
	TransientRetries    int
	TransientRetryDelay time.Duration
}

// OptionsFromConfig maps the llm config section onto Options.
func OptionsFromConfig(cfg config.LLMConfig) Options {
	return Options{
		Model:               cfg.Model,
		Temperature:         cfg.Temperature,
		MaxTokens:           cfg.MaxTokens,
		MaxFragmentChars:    cfg.MaxFragmentChars,
		BatchSize:           cfg.BatchSize,
		TransientRetries:    cfg.TransientRetries,
		TransientRetryDelay: cfg.TransientRetryDelay,
	}
}

// Extractor turns listing markup into product records.
type Extractor struct {
	completer Completer
	opts      Options
}

// NewExtractor wires an extractor to a completion backend.
func NewExtractor(completer Completer, opts Options) *Extractor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	return &Extractor{completer: completer, opts: opts}
}

// NewCompleter builds the backend selected by cfg.Provider.
func NewCompleter(cfg config.LLMConfig) (Completer, error) {
	switch cfg.Provider {
	case "groq":
		return NewGroqCompleter(cfg.APIKey, cfg.BaseURL, nil, cfg.Timeout), nil
	case "anthropic":
		return NewAnthropicCompleter(cfg.APIKey, cfg.BaseURL, nil), nil
	default:
		return nil, eris.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// Extract sends the fragments in batches and returns every record that
// survives filtering, in response order. A reply that cannot be parsed
// contributes no records; a failed completion is returned as is.
func (e *Extractor) Extract(ctx context.Context, fragments []string) ([]models.Product, error) {
	var out []models.Product
	for _, batch := range chunk(fragments, e.opts.BatchSize) {
		for i := range batch {
			batch[i] = Truncate(batch[i], e.opts.MaxFragmentChars)
		}

		products, err := e.extractBatch(ctx, batch)
		if err != nil {
			return out, err
		}
		out = append(out, products...)
	}
	return out, nil
}

func (e *Extractor) extractBatch(ctx context.Context, batch []string) ([]models.Product, error) {
	req := Request{
		Model:       e.opts.Model,
		System:      systemPrompt,
		Prompt:      BuildPrompt(batch),
		Temperature: e.opts.Temperature,
		MaxTokens:   e.opts.MaxTokens,
	}

	resp, err := retryTransient(ctx, e.opts.TransientRetries, e.opts.TransientRetryDelay,
		func(ctx context.Context) (*Response, error) {
			return e.completer.Complete(ctx, req)
		})
	if err != nil {
		return nil, eris.Wrapf(err, "llm: %s completion", e.completer.Name())
	}

	zap.L().Debug("llm: completion usage",
		zap.String("provider", e.completer.Name()),
		zap.String("model", resp.Model),
		zap.Int64("input_tokens", resp.InputTokens),
		zap.Int64("output_tokens", resp.OutputTokens),
	)

	candidates, err := parser.Sanitize(resp.Text)
	if err != nil {
		fields := []zap.Field{zap.Error(err), zap.String("raw", preview(resp.Text))}
		var pe *parser.ParseError
		if errors.As(err, &pe) {
			fields = append(fields, zap.Stringer("kind", pe.Kind))
		}
		zap.L().Warn("llm: reply not parseable, skipping batch", fields...)
		return nil, nil
	}

	kept := parser.FilterCandidates(candidates)
	products := make([]models.Product, 0, len(kept))
	for _, c := range kept {
		products = append(products, parser.NormalizeCandidate(c))
	}
	return products, nil
}

// BuildPrompt renders the extraction instructions around the fragments.
func BuildPrompt(fragments []string) string {
	return fmt.Sprintf(promptTemplate, strings.Join(fragments, fragmentSeparator))
}

// Truncate caps s at limit runes. A non-positive limit disables truncation.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func chunk(items []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		batch := make([]string, end-i)
		copy(batch, items[i:end])
		out = append(out, batch)
	}
	return out
}

func preview(s string) string {
	if len(s) <= rawLogPreviewChars {
		return s
	}
	return Truncate(s, rawLogPreviewChars) + "..."
}

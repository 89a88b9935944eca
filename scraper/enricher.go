package scraper

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-scrape-ebay/models"
)

// minDetailLength is both the enrichment trigger and the acceptance bar.
const minDetailLength = 30

// NeedsEnrichment reports whether a description is worth replacing.
func NeedsEnrichment(description string) bool {
	return description == models.Sentinel || utf8.RuneCountInString(description) < minDetailLength
}

// DetailEnricher fills thin descriptions from the item's detail page.
type DetailEnricher struct {
	browser  Browser
	selector string
	cache    *lru.Cache[string, string]
	metrics  *Metrics
}

// NewDetailEnricher builds an enricher. cacheSize <= 0 disables caching.
func NewDetailEnricher(browser Browser, selector string, cacheSize int, metrics *Metrics) (*DetailEnricher, error) {
	e := &DetailEnricher{browser: browser, selector: selector, metrics: metrics}
	if cacheSize > 0 {
		cache, err := lru.New[string, string](cacheSize)
		if err != nil {
			return nil, eris.Wrap(err, "create detail cache")
		}
		e.cache = cache
	}
	return e, nil
}

// Enrich loads the detail page and returns its item specifics text, or the
// sentinel when the page fails or has too little text.
func (e *DetailEnricher) Enrich(ctx context.Context, url string) string {
	if url == "" {
		return models.Sentinel
	}
	if e.cache != nil {
		if text, ok := e.cache.Get(url); ok {
			e.metrics.IncEnrichment("cached")
			return text
		}
	}

	text, err := e.fetch(ctx, url)
	if err != nil {
		e.metrics.IncEnrichment("failed")
		e.metrics.IncError(errorTypeLabel(err))
		zap.L().Warn("detail page enrichment failed", zap.String("url", url), zap.Error(err))
		if ctx.Err() == nil && e.cache != nil {
			e.cache.Add(url, models.Sentinel)
		}
		return models.Sentinel
	}

	if utf8.RuneCountInString(text) <= minDetailLength {
		text = models.Sentinel
		e.metrics.IncEnrichment("too_short")
	} else {
		e.metrics.IncEnrichment("enriched")
	}
	if e.cache != nil {
		e.cache.Add(url, text)
	}
	return text
}

// Apply replaces p.Description when enrichment produced text.
func (e *DetailEnricher) Apply(ctx context.Context, p *models.Product, url string) bool {
	if !NeedsEnrichment(p.Description) {
		return false
	}
	text := e.Enrich(ctx, url)
	if text == models.Sentinel {
		return false
	}
	p.Description = text
	return true
}

func (e *DetailEnricher) fetch(ctx context.Context, url string) (string, error) {
	page, err := e.browser.NewPage(ctx)
	if err != nil {
		return "", eris.Wrap(err, "open detail page")
	}
	defer page.Close()

	doc, err := page.Goto(ctx, url)
	if err != nil {
		return "", err
	}

	var parts []string
	doc.Find(e.selector).Each(func(_ int, s *goquery.Selection) {
		if text := collapseWhitespace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.TrimSpace(strings.Join(parts, "\n\n")), nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Package scraper walks marketplace search results and turns listing items
// into product records.
package scraper

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-scrape-ebay/config"
	"github.com/aluiziolira/go-scrape-ebay/models"
	"github.com/aluiziolira/go-scrape-ebay/pipeline"
)

// Skip reasons recorded in CrawlResult.SkippedByReason.
const (
	SkipNoRecords          = "no_records"
	SkipExtractionFailed   = "extraction_failed"
	SkipRateLimitExhausted = "rate_limit_exhausted"
)

// Extractor turns listing fragments into records.
type Extractor interface {
	Extract(ctx context.Context, fragments []string) ([]models.Product, error)
}

// Crawler pages through search results for a keyword, one item at a time.
type Crawler struct {
	cfg       *config.Config
	browser   Browser
	extractor Extractor
	backoff   *RateLimitBackoff
	store     *pipeline.ResultStore
	Metrics   *Metrics

	sleep func(context.Context, time.Duration) error
}

// NewCrawler wires a crawler. metrics may be nil.
func NewCrawler(cfg *config.Config, browser Browser, extractor Extractor, store *pipeline.ResultStore, metrics *Metrics) *Crawler {
	c := &Crawler{
		cfg:       cfg,
		browser:   browser,
		extractor: extractor,
		backoff:   NewRateLimitBackoff(cfg.Backoff),
		store:     store,
		Metrics:   metrics,
	}
	c.sleep = c.backoff.Wait
	return c
}

// crawlState is everything one Run owns.
type crawlState struct {
	keyword  string
	page     int
	listing  Page
	enricher *DetailEnricher
	sink     *pipeline.Pipeline
	result   *models.CrawlResult
}

func (st *crawlState) skip(reason string) {
	st.result.SkippedByReason[reason]++
}

// Run crawls every results page for keyword and merges the records into the
// store after each page. The result is returned even when Run fails, covering
// the pages completed so far.
func (c *Crawler) Run(ctx context.Context, keyword string) (*models.CrawlResult, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		keyword = c.cfg.Crawl.DefaultKeyword
	}

	st := &crawlState{
		keyword: keyword,
		sink:    pipeline.NewPipeline(c.store),
		result: &models.CrawlResult{
			Keyword:         keyword,
			StartTime:       time.Now(),
			SkippedByReason: make(map[string]int),
			Products:        []models.Product{},
		},
	}
	defer func() { st.result.EndTime = time.Now() }()
	st.sink.StartMetricsReporting(c.cfg.Log.ProgressInterval)
	defer st.sink.Close() //nolint:errcheck

	enricher, err := NewDetailEnricher(c.browser, c.cfg.Selectors.Detail, c.cfg.Crawl.DetailCacheSize, c.Metrics)
	if err != nil {
		return st.result, err
	}
	st.enricher = enricher

	listing, err := c.browser.NewPage(ctx)
	if err != nil {
		return st.result, eris.Wrap(err, "open listing page")
	}
	defer listing.Close()
	st.listing = listing

	zap.L().Info("crawl started", zap.String("keyword", keyword), zap.Int("max_pages", c.cfg.Crawl.MaxPages))

	for st.page = 1; ; st.page++ {
		doc, err := c.fetchPage(ctx, st)
		if err != nil {
			return st.result, err
		}

		items := ExtractItems(doc, c.cfg.Selectors)
		st.result.ItemCount += len(items)
		c.Metrics.AddItems(len(items))
		zap.L().Info("listing page loaded",
			zap.Int("page", st.page),
			zap.Int("items", len(items)),
		)

		for _, item := range items {
			if err := c.processItem(ctx, st, item); err != nil {
				c.persistPartial(ctx, st)
				return st.result, err
			}
		}

		if err := c.persistPage(ctx, st); err != nil {
			return st.result, err
		}

		if !HasNextPage(doc, c.cfg.Selectors.Next) {
			zap.L().Info("no next page, stopping", zap.Int("page", st.page))
			break
		}
		if c.cfg.Crawl.MaxPages > 0 && st.page >= c.cfg.Crawl.MaxPages {
			zap.L().Info("max pages reached, stopping", zap.Int("page", st.page))
			break
		}
	}

	zap.L().Info("crawl finished",
		zap.String("keyword", keyword),
		zap.Int("pages", st.result.PageCount),
		zap.Int("items", st.result.ItemCount),
		zap.Int("extracted", st.result.ExtractedCount),
		zap.Int("persisted", st.result.PersistedCount),
		zap.Int("corpus_size", st.result.CorpusSize),
		zap.Any("skipped", st.result.SkippedByReason),
	)
	return st.result, nil
}

func (c *Crawler) fetchPage(ctx context.Context, st *crawlState) (*goquery.Document, error) {
	pageURL, err := ListingURL(c.cfg.Crawl, st.keyword, st.page)
	if err != nil {
		return nil, err
	}

	doc, err := st.listing.Goto(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.Metrics.IncError(errorTypeLabel(err))
		return nil, &PageNavigationError{URL: pageURL, Page: st.page, Err: err}
	}

	st.result.PageCount++
	c.Metrics.IncPages()
	return doc, nil
}

// processItem extracts one listing item, waiting out rate limits. Only
// cancellation is returned; every other failure skips the item.
func (c *Crawler) processItem(ctx context.Context, st *crawlState, item models.ItemCandidate) error {
	for attempt := 1; ; attempt++ {
		if err := c.sleep(ctx, c.cfg.Crawl.ExtractionDelay); err != nil {
			return err
		}

		products, err := c.extractor.Extract(ctx, []string{item.HTML})
		if err == nil {
			c.acceptRecords(ctx, st, item, products)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		decision := c.backoff.Decide(err, attempt)
		if decision.ShouldRetry {
			st.result.RateLimitWaits++
			c.Metrics.IncRateLimitWaits()
			zap.L().Warn("rate limited, waiting before retry",
				zap.Int("attempt", attempt),
				zap.Duration("wait", decision.Wait),
				zap.String("url", item.URL),
			)
			if err := c.sleep(ctx, decision.Wait); err != nil {
				return err
			}
			continue
		}

		reason := SkipExtractionFailed
		if decision.Terminal {
			reason = SkipRateLimitExhausted
		}
		st.skip(reason)
		c.Metrics.IncSkipped(reason)
		c.Metrics.IncError(errorTypeLabel(err))
		zap.L().Error("extraction failed, skipping item",
			zap.String("reason", reason),
			zap.String("url", item.URL),
			zap.Error(err),
		)
		return nil
	}
}

func (c *Crawler) acceptRecords(ctx context.Context, st *crawlState, item models.ItemCandidate, products []models.Product) {
	if len(products) == 0 {
		st.skip(SkipNoRecords)
		c.Metrics.IncSkipped(SkipNoRecords)
		return
	}

	st.result.ExtractedCount += len(products)
	c.Metrics.AddRecords("extracted", len(products))

	for i := range products {
		if st.enricher.Apply(ctx, &products[i], item.URL) {
			st.result.EnrichedCount++
		}
	}

	if err := st.sink.Process(products...); err != nil {
		zap.L().Error("pipeline process error", zap.Error(err))
	}
}

func (c *Crawler) persistPage(ctx context.Context, st *crawlState) error {
	flushed, err := st.sink.Flush(ctx)
	if err != nil {
		c.Metrics.IncError("store")
		return eris.Wrapf(err, "persist page %d", st.page)
	}

	stats := c.store.LastMerge()
	st.result.Products = append(st.result.Products, flushed...)
	st.result.PersistedCount += stats.Added
	st.result.CorpusSize = stats.Total
	c.Metrics.AddRecords("persisted", stats.Added)

	zap.L().Info("page persisted",
		zap.Int("page", st.page),
		zap.Int("records", len(flushed)),
		zap.Int("added", stats.Added),
		zap.Int("corpus_size", stats.Total),
	)
	return nil
}

// persistPartial saves records gathered on an interrupted page.
func (c *Crawler) persistPartial(ctx context.Context, st *crawlState) {
	if st.sink.Pending() == 0 {
		return
	}
	if err := c.persistPage(context.WithoutCancel(ctx), st); err != nil {
		zap.L().Error("persisting partial page failed", zap.Int("page", st.page), zap.Error(err))
	}
}

// ListingURL builds the search-results URL for a keyword and 1-based page.
func ListingURL(cfg config.CrawlConfig, keyword string, page int) (string, error) {
	u, err := url.Parse(cfg.SearchURL)
	if err != nil {
		return "", eris.Wrap(err, "parse search URL")
	}
	q := u.Query()
	q.Set(cfg.KeywordParam, keyword)
	q.Set(cfg.PageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ExtractItems returns the outer HTML and detail link of every listing item.
// Items with empty markup are dropped.
func ExtractItems(doc *goquery.Document, sel config.SelectorConfig) []models.ItemCandidate {
	var items []models.ItemCandidate
	doc.Find(sel.Item).Each(func(_ int, s *goquery.Selection) {
		html, err := goquery.OuterHtml(s)
		if err != nil || strings.TrimSpace(html) == "" {
			return
		}

		link := ""
		if sel.Link != "" {
			if href, ok := s.Find(sel.Link).First().Attr("href"); ok {
				link = resolveURL(doc.Url, href)
			}
		}
		items = append(items, models.ItemCandidate{HTML: html, URL: link})
	})
	return items
}

// HasNextPage reports whether an enabled next-page control exists.
func HasNextPage(doc *goquery.Document, selector string) bool {
	next := doc.Find(selector)
	if next.Length() == 0 {
		return false
	}
	disabled, _ := next.First().Attr("aria-disabled")
	return disabled != "true"
}

func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if base == nil {
		return href
	}
	ref, err := base.Parse(href)
	if err != nil {
		return href
	}
	return ref.String()
}

package scraper

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/rotisserie/eris"

	"github.com/aluiziolira/go-scrape-ebay/config"
)

// Browser hands out page handles.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page loads one document at a time.
type Page interface {
	Goto(ctx context.Context, rawURL string) (*goquery.Document, error)
	Close() error
}

// NewBrowser returns the backend named by cfg.Browser.
func NewBrowser(cfg config.CrawlConfig, metrics *Metrics) (Browser, error) {
	switch cfg.Browser {
	case "chrome":
		return NewChromeBrowser(cfg, metrics)
	case "colly", "":
		return NewCollyBrowser(cfg, metrics), nil
	default:
		return nil, eris.Errorf("unknown browser %q", cfg.Browser)
	}
}

// CollyBrowser fetches pages over plain HTTP with a synchronous collector.
type CollyBrowser struct {
	base    *colly.Collector
	metrics *Metrics
}

// NewCollyBrowser builds a browser from the crawl config.
func NewCollyBrowser(cfg config.CrawlConfig, metrics *Metrics) *CollyBrowser {
	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &CollyBrowser{base: collector, metrics: metrics}
}

// WithTransport replaces the HTTP transport shared by all pages.
func (b *CollyBrowser) WithTransport(rt http.RoundTripper) {
	b.base.WithTransport(rt)
}

// NewPage clones the base collector. Clones share its transport.
func (b *CollyBrowser) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newCollyPage(b.base.Clone(), b.metrics), nil
}

// Close is a no-op; colly holds no long-lived resources.
func (b *CollyBrowser) Close() error { return nil }

type collyPage struct {
	collector *colly.Collector
	metrics   *Metrics

	body     []byte
	finalURL *url.URL
	status   int
	err      error
}

func newCollyPage(c *colly.Collector, metrics *Metrics) *collyPage {
	p := &collyPage{collector: c, metrics: metrics}

	c.OnResponse(func(r *colly.Response) {
		p.body = r.Body
		p.status = r.StatusCode
		p.finalURL = r.Request.URL
	})
	c.OnError(func(r *colly.Response, err error) {
		p.err = err
		if r != nil {
			p.status = r.StatusCode
		}
	})

	return p
}

func (p *collyPage) Goto(ctx context.Context, rawURL string) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.body, p.finalURL, p.status, p.err = nil, nil, 0, nil

	start := time.Now()
	visitErr := p.collector.Visit(rawURL)
	p.metrics.ObserveLoad(time.Since(start))

	if p.err == nil {
		p.err = visitErr
	}
	if p.err != nil {
		return nil, classifyError(p.err, p.status)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.body))
	if err != nil {
		return nil, eris.Wrapf(err, "parse %s", rawURL)
	}
	doc.Url = p.finalURL
	return doc, nil
}

func (p *collyPage) Close() error {
	p.body = nil
	return nil
}

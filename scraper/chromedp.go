package scraper

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"

	"github.com/aluiziolira/go-scrape-ebay/config"
)

// ChromeBrowser renders pages in a local Chrome instance, one tab per page.
type ChromeBrowser struct {
	allocatorCtx context.Context
	browserCtx   context.Context
	cancelAlloc  context.CancelFunc
	cancelBrowse context.CancelFunc

	timeout time.Duration
	metrics *Metrics
}

// NewChromeBrowser launches Chrome and waits for it to come up.
func NewChromeBrowser(cfg config.CrawlConfig, metrics *Metrics) (*ChromeBrowser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(cfg.UserAgent),
	)

	b := &ChromeBrowser{timeout: cfg.Timeout, metrics: metrics}
	b.allocatorCtx, b.cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
	b.browserCtx, b.cancelBrowse = chromedp.NewContext(b.allocatorCtx)

	// The first Run starts the browser process.
	if err := chromedp.Run(b.browserCtx); err != nil {
		b.Close()
		return nil, eris.Wrap(err, "start chrome")
	}
	return b, nil
}

// NewPage opens a new tab.
func (b *ChromeBrowser) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tab, cancel := chromedp.NewContext(b.browserCtx)
	if err := chromedp.Run(tab); err != nil {
		cancel()
		return nil, eris.Wrap(err, "open tab")
	}
	return &chromePage{tab: tab, cancel: cancel, timeout: b.timeout, metrics: b.metrics}, nil
}

// Close shuts down Chrome.
func (b *ChromeBrowser) Close() error {
	if b.cancelBrowse != nil {
		b.cancelBrowse()
	}
	if b.cancelAlloc != nil {
		b.cancelAlloc()
	}
	return nil
}

type chromePage struct {
	tab     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	metrics *Metrics
}

func (p *chromePage) Goto(ctx context.Context, rawURL string) (*goquery.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(p.tab, p.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html, location string
	start := time.Now()
	err := chromedp.Run(runCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	p.metrics.ObserveLoad(time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyError(err, 0)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrapf(err, "parse %s", rawURL)
	}
	if doc.Url, err = url.Parse(location); err != nil || location == "" {
		doc.Url, _ = url.Parse(rawURL)
	}
	return doc, nil
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}

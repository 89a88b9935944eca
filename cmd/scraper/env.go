package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-scrape-ebay/llm"
	"github.com/aluiziolira/go-scrape-ebay/pipeline"
	"github.com/aluiziolira/go-scrape-ebay/runlog"
	"github.com/aluiziolira/go-scrape-ebay/scraper"
)

// crawlEnv holds everything a crawl needs.
type crawlEnv struct {
	Crawler *scraper.Crawler
	Store   *pipeline.ResultStore
	Runs    *runlog.Store
	browser scraper.Browser
}

func initCrawler(ctx context.Context) (*crawlEnv, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}

	completer, err := llm.NewCompleter(cfg.LLM)
	if err != nil {
		return nil, err
	}
	extractor := llm.NewExtractor(completer, llm.OptionsFromConfig(cfg.LLM))

	metrics := scraper.NewMetrics()
	browser, err := scraper.NewBrowser(cfg.Crawl, metrics)
	if err != nil {
		return nil, eris.Wrap(err, "start browser")
	}

	runs, err := openRuns(ctx)
	if err != nil {
		browser.Close() //nolint:errcheck
		return nil, err
	}

	store := pipeline.NewResultStore(cfg.Store.Path)
	zap.L().Debug("crawler ready",
		zap.String("browser", cfg.Crawl.Browser),
		zap.String("provider", completer.Name()),
		zap.String("model", cfg.LLM.Model),
		zap.String("corpus", store.Path()),
	)

	return &crawlEnv{
		Crawler: scraper.NewCrawler(cfg, browser, extractor, store, metrics),
		Store:   store,
		Runs:    runs,
		browser: browser,
	}, nil
}

// openRuns opens run history. An empty DSN disables it.
func openRuns(ctx context.Context) (*runlog.Store, error) {
	if strings.TrimSpace(cfg.Store.RunsDSN) == "" {
		return nil, nil
	}
	st, err := runlog.Open(cfg.Store.RunsDSN)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func (e *crawlEnv) Close() {
	if err := e.browser.Close(); err != nil {
		zap.L().Warn("close browser", zap.Error(err))
	}
	if e.Runs != nil {
		if err := e.Runs.Close(); err != nil {
			zap.L().Warn("close run history", zap.Error(err))
		}
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// readKeyword prints a prompt and reads one line. An empty answer or EOF
// yields def.
func readKeyword(in io.Reader, out io.Writer, def string) (string, error) {
	if _, err := io.WriteString(out, "Search keyword ["+def+"]: "); err != nil {
		return "", err
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", eris.Wrap(err, "read keyword")
	}

	keyword := strings.TrimSpace(line)
	if keyword == "" {
		return def, nil
	}
	return keyword, nil
}

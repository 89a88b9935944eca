package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-ebay/models"
)

var crawlMetricsAddr string

var crawlCmd = &cobra.Command{
	Use:   "crawl [keyword]",
	Short: "Crawl search results for a keyword and merge them into the corpus",
	Long:  "Crawls every results page for keyword. Without an argument the keyword is read from stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var keyword string
		if len(args) == 1 {
			keyword = args[0]
		} else {
			k, err := readKeyword(cmd.InOrStdin(), cmd.OutOrStdout(), cfg.Crawl.DefaultKeyword)
			if err != nil {
				return err
			}
			keyword = k
		}

		env, err := initCrawler(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		g, gctx := errgroup.WithContext(ctx)
		metricsCtx, stopMetrics := context.WithCancel(gctx)
		defer stopMetrics()

		if crawlMetricsAddr != "" {
			g.Go(func() error {
				return serveMetrics(metricsCtx, crawlMetricsAddr, env.Crawler.Metrics.Registry)
			})
		}

		var result *models.CrawlResult
		g.Go(func() error {
			defer stopMetrics()
			r, err := env.Runs.Track(gctx, keyword, func(ctx context.Context) (*models.CrawlResult, error) {
				return env.Crawler.Run(ctx, keyword)
			})
			result = r
			return err
		})

		runErr := g.Wait()
		if result != nil {
			printSummary(cmd.OutOrStdout(), result, env.Store.Path())
		}
		if runErr != nil {
			if errors.Is(runErr, context.Canceled) {
				zap.L().Warn("crawl interrupted, completed pages were kept")
			}
			return eris.Wrap(runErr, "crawl")
		}
		return nil
	},
}

// serveMetrics exposes the crawler registry until ctx is done.
func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("metrics server shutdown failed", zap.Error(err))
		}
	}()

	zap.L().Info("metrics server enabled", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "metrics server")
	}
	return nil
}

func printSummary(w io.Writer, result *models.CrawlResult, corpusPath string) {
	separator := "--------------------------------------------------"
	duration := result.EndTime.Sub(result.StartTime).Round(time.Millisecond)

	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintf(w, "Crawl complete: %q\n", result.Keyword)
	fmt.Fprintf(w, "  Pages:         %d\n", result.PageCount)
	fmt.Fprintf(w, "  Items seen:    %d\n", result.ItemCount)
	fmt.Fprintf(w, "  Extracted:     %d\n", result.ExtractedCount)
	fmt.Fprintf(w, "  Enriched:      %d\n", result.EnrichedCount)
	fmt.Fprintf(w, "  Persisted:     %d\n", result.PersistedCount)
	fmt.Fprintf(w, "  Corpus size:   %d\n", result.CorpusSize)
	if result.RateLimitWaits > 0 {
		fmt.Fprintf(w, "  Rate waits:    %d\n", result.RateLimitWaits)
	}
	if len(result.SkippedByReason) > 0 {
		fmt.Fprintf(w, "  Skipped:       %v\n", result.SkippedByReason)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", duration)
	fmt.Fprintf(w, "  Corpus file:   %s\n", corpusPath)
	fmt.Fprintln(w, separator)
}

func init() {
	crawlCmd.Flags().StringVar(&crawlMetricsAddr, "metrics-addr", "", "Prometheus metrics listen address while crawling (e.g. :9090)")
	rootCmd.AddCommand(crawlCmd)
}

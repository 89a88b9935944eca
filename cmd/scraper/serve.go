package main

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-ebay/server"
)

var (
	servePort    int
	serveKeyword string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the scrape trigger and the corpus over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		keyword := strings.TrimSpace(serveKeyword)
		if keyword == "" && isTerminal(os.Stdin) {
			k, err := readKeyword(cmd.InOrStdin(), cmd.OutOrStdout(), cfg.Crawl.DefaultKeyword)
			if err != nil {
				return err
			}
			keyword = k
		}
		if keyword == "" {
			keyword = cfg.Crawl.DefaultKeyword
		}

		env, err := initCrawler(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := server.New(server.Options{
			Crawler:        env.Crawler,
			Corpus:         env.Store,
			Runs:           env.Runs,
			Gatherer:       env.Crawler.Metrics.Registry,
			DefaultKeyword: keyword,
		})

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Default keyword: %q\n", keyword)
		fmt.Fprintf(out, "Server listening on http://localhost:%d\n", port)
		fmt.Fprintf(out, "Open http://localhost:%d/scrape?keyword=%s\n\n", port, url.QueryEscape(keyword))

		return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveKeyword, "keyword", "", "default keyword for /scrape (prompted when omitted on a terminal)")
	rootCmd.AddCommand(serveCmd)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/xhad/recall/cmd/internal/cli"
	"github.com/xhad/recall/pkg/processor"
	"github.com/xhad/recall/pkg/scraper"
)

func main() {
	var configPath, outPath string
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&outPath, "out", "", "Corpus JSON output (overrides corpus.path)")
	flag.Parse()

	if err := run(configPath, outPath); err != nil {
		color.Red("✗ %v", err)
		os.Exit(1)
	}
}

func run(configPath, outPath string) error {
	cfg, err := cli.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if outPath == "" {
		outPath = cfg.Corpus.Path
	}
	if cfg.Scraper.ListURL == "" {
		return fmt.Errorf("scraper.list_url is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var crawled int32
	s, err := scraper.NewWithConfig(scraper.ScraperConfig{
		ListURL:         cfg.Scraper.ListURL,
		ArticleBaseURL:  cfg.Scraper.ArticleBaseURL,
		ContentSelector: cfg.Scraper.ContentSelector,
		RateLimit:       cfg.Scraper.RateLimit,
		Timeout:         time.Duration(cfg.Scraper.TimeoutSeconds) * time.Second,
		OnProgress: func(url string) {
			atomic.AddInt32(&crawled, 1)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scraper: %w", err)
	}

	color.Blue("\nCrawling %s\n", cfg.Scraper.ListURL)

	bar := cli.ProgressBar(-1, "📄 Crawling articles...")
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		startTime := time.Now()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				count := atomic.LoadInt32(&crawled)
				bar.Set(int(count))
				if elapsed := time.Since(startTime).Seconds(); count > 0 {
					bar.Describe(color.BlueString("📄 Crawling articles... (%.1f pages/sec)", float64(count)/elapsed))
				}
			}
		}
	}()

	docs, err := s.Scrape(ctx)
	close(done)
	bar.Finish()
	if err != nil {
		return fmt.Errorf("failed to crawl articles: %w", err)
	}

	if err := processor.SaveCorpus(outPath, docs); err != nil {
		return err
	}

	color.Green("\n✓ Crawled %d articles into %s\n", len(docs), outPath)
	return nil
}

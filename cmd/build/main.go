package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/recall/cmd/internal/cli"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/pkg/processor"
)

func main() {
	var configPath, corpusPath string
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&corpusPath, "corpus", "", "Corpus JSON file (overrides corpus.path)")
	flag.Parse()

	if err := run(configPath, corpusPath); err != nil {
		color.Red("✗ %v", err)
		os.Exit(1)
	}
}

func run(configPath, corpusPath string) error {
	cfg, err := cli.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if corpusPath == "" {
		corpusPath = cfg.Corpus.Path
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	vectorStore, err := cli.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer vectorStore.Close()

	color.Blue("\nEmbedding %s with %s/%s\n", corpusPath, cfg.Embedding.Provider, cfg.Embedding.Model)

	var bar *progressbar.ProgressBar
	p := processor.NewWithConfig(cli.Embedder(cfg), processor.ProcessorConfig{
		OnProgress: func(done, total int, doc models.Document) {
			if bar == nil {
				bar = cli.ProgressBar(total, "🔄 Embedding documents...")
			}
			bar.Add(1)
		},
	})

	summary, err := p.Build(ctx, corpusPath, vectorStore)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	color.Green("\n✓ %d documents embedded (%d dimensions)\n", summary.Documents, summary.Dimension)
	return nil
}

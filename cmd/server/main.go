package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xhad/recall/cmd/internal/cli"
	"github.com/xhad/recall/pkg/retriever"
	"github.com/xhad/recall/server"
)

func main() {
	var configPath, addr string
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	flag.Parse()

	if err := run(configPath, addr); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, addr string) error {
	cfg, err := cli.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vectorStore, err := cli.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer vectorStore.Close()

	chatEngine, err := cli.ChatEngine(cfg)
	if err != nil {
		return err
	}

	r := retriever.NewWithConfig(vectorStore, cli.Embedder(cfg), retriever.RetrieverConfig{
		TopK: cfg.Retrieval.TopK,
	})

	srv := &http.Server{
		Addr: addr,
		Handler: server.New(server.Config{
			TopK:      cfg.Retrieval.TopK,
			Streaming: cfg.UI.Streaming,
		}, r, chatEngine),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/xhad/recall/cmd/internal/cli"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
	"github.com/xhad/recall/pkg/llm"
	"github.com/xhad/recall/pkg/retriever"
)

// Turns kept as conversation history.
const maxHistory = 10

type Options struct {
	ConfigPath string
	Streaming  bool
	TopK       int
}

func main() {
	opts := parseFlags()

	if err := run(opts); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Options {
	var opts Options
	flag.StringVar(&opts.ConfigPath, "config", "", "Path to config file")
	flag.BoolVar(&opts.Streaming, "stream", true, "Enable streaming responses")
	flag.IntVar(&opts.TopK, "k", 0, "Articles to retrieve per question (overrides retrieval.top_k)")
	flag.Parse()
	return opts
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func run(opts Options) error {
	cfg, err := cli.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	streaming := cfg.UI.Streaming
	if flagSet("stream") {
		streaming = opts.Streaming
	}
	topK := cfg.Retrieval.TopK
	if opts.TopK > 0 {
		topK = opts.TopK
	}

	ctx := context.Background()

	vectorStore, err := cli.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer vectorStore.Close()

	chatEngine, err := cli.ChatEngine(cfg)
	if err != nil {
		return err
	}

	r := retriever.NewWithConfig(vectorStore, cli.Embedder(cfg), retriever.RetrieverConfig{TopK: topK})

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(cfg.UI.Theme),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize renderer: %w", err)
	}

	color.Cyan("\nAsk the author anything (type 'exit' to quit, '/search <question>' to list matching articles)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	var history []types.Message

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.ToLower(query) == "exit" {
			break
		}

		if q, ok := strings.CutPrefix(query, "/search "); ok {
			search(ctx, r, q, topK)
			continue
		}

		querySpinner := cli.Spinner(" Searching articles...")
		docs, err := r.Retrieve(ctx, query, topK)
		querySpinner.Finish()
		fmt.Print("\r")

		if err != nil {
			color.Red("\nRetrieval failed: %v\n", err)
			continue
		}
		if len(docs) == 0 {
			color.Yellow("\nNo matching articles, answering from general experience")
		}

		var response string
		if streaming {
			response, err = streamAnswer(ctx, chatEngine, query, history, docs, assistantPrompt)
		} else {
			responseSpinner := cli.Spinner(" Thinking...")
			response, err = chatEngine.Chat(ctx, query, history, docs)
			responseSpinner.Finish()
			fmt.Print("\r")

			if err == nil {
				assistantPrompt("\nAssistant:\n")
				if rendered, rerr := renderer.Render(response); rerr == nil {
					fmt.Print(rendered)
				} else {
					fmt.Println(response)
				}
			}
		}
		if err != nil {
			color.Red("\nGeneration failed: %v\n", err)
			continue
		}

		if sources := llm.FormatSources(docs); sources != "" {
			color.HiBlack("%s", sources)
		}

		history = append(history,
			types.Message{Role: types.RoleUser, Content: query},
			types.Message{Role: types.RoleAssistant, Content: response},
		)
		if len(history) > maxHistory {
			history = history[len(history)-maxHistory:]
		}
	}

	return scanner.Err()
}

func streamAnswer(ctx context.Context, engine *llm.ChatEngine, query string, history []types.Message, docs []models.Document, prompt func(string, ...interface{})) (string, error) {
	stream, err := engine.ChatStream(ctx, query, history, docs)
	if err != nil {
		return "", err
	}

	fmt.Print("\n")
	prompt("Assistant: ")

	responseSpinner := cli.Spinner(" Thinking...")
	firstChunk := true
	var b strings.Builder

	for chunk := range stream {
		if firstChunk {
			responseSpinner.Finish()
			fmt.Print("\r")
			firstChunk = false
		}
		if strings.HasPrefix(chunk, "Error:") {
			// Drain so the producer can exit
			for range stream {
			}
			return "", fmt.Errorf("%s", strings.TrimSpace(strings.TrimPrefix(chunk, "Error:")))
		}

		b.WriteString(chunk)
		fmt.Print(chunk)
	}

	if firstChunk {
		responseSpinner.Finish()
	}
	fmt.Print("\n")
	return b.String(), nil
}

func search(ctx context.Context, r *retriever.Retriever, question string, k int) {
	results, err := r.Search(ctx, question, k)
	if err != nil {
		color.Red("Retrieval failed: %v\n", err)
		return
	}
	if len(results) == 0 {
		color.Yellow("No matching articles")
		return
	}

	for i, res := range results {
		fmt.Printf("%2d. %s %s\n    %s\n", i+1, color.CyanString("%.3f", res.Score), res.Item.Title, color.HiBlackString(res.Item.URL))
	}
}

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/recall/internal/models"
	"github.com/xhad/recall/internal/types"
)

const (
	defaultSystemTemplate = "You are the author of the articles below. Answer the way you would in a real conversation: " +
		"start with two or three sentences, share your own experience, and end with an open question. " +
		"Mention a specific article when it is relevant to the question."
	defaultFallbackTemplate = "None of your articles matched this question. " +
		"Answer from your general experience and do not cite specific articles."
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider         string // "ollama", "openai" or "anthropic"
	Model            string
	Temperature      float64
	MaxTokens        int
	SystemTemplate   string
	FallbackTemplate string
	BaseURL          string // Ollama server URL
	APIKey           string
}

// ChatEngine is an engine that uses an LLM to generate chat responses.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	config, err := applyChatDefaults(config)
	if err != nil {
		return nil, err
	}

	var llm llms.Model
	switch config.Provider {
	case "ollama":
		llm, err = ollama.New(ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL))
	case "openai":
		llm, err = openai.New(openai.WithModel(config.Model),
			openai.WithToken(config.APIKey))
	case "anthropic":
		llm, err = anthropic.New(anthropic.WithModel(config.Model),
			anthropic.WithToken(config.APIKey))
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

// NewWithModel wraps an already constructed model.
func NewWithModel(config ChatConfig, model llms.Model) (*ChatEngine, error) {
	config, err := applyChatDefaults(config)
	if err != nil {
		return nil, err
	}
	return &ChatEngine{config: config, llm: model}, nil
}

func applyChatDefaults(config ChatConfig) (ChatConfig, error) {
	if config.Provider == "" {
		config.Provider = "ollama"
	}
	if config.Model == "" {
		config.Model = "mistral" // Default Ollama model
	}
	if config.Temperature <= 0 || config.Temperature > 1 {
		return config, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = defaultSystemTemplate
	}
	if config.FallbackTemplate == "" {
		config.FallbackTemplate = defaultFallbackTemplate
	}
	if config.BaseURL == "" && config.Provider == "ollama" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	return config, nil
}

// SystemPrompt is the persona text followed by the retrieved articles, or by
// the fallback instruction when there are none.
func (ce *ChatEngine) SystemPrompt(docs []models.Document) string {
	var b strings.Builder
	b.WriteString(ce.config.SystemTemplate)

	if len(docs) == 0 {
		b.WriteString("\n\n")
		b.WriteString(ce.config.FallbackTemplate)
		return b.String()
	}

	b.WriteString("\n\n---\n\n# Your articles\n")
	for i, doc := range docs {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "\n## Article %d: %s\nURL: %s\n\n%s\n", i+1, doc.Title, doc.URL, doc.Content)
	}
	return b.String()
}

func (ce *ChatEngine) messages(question string, history []types.Message, docs []models.Document) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(history)+2)
	content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, ce.SystemPrompt(docs)))

	for _, msg := range history {
		role := llms.ChatMessageTypeHuman
		if msg.Role == types.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, msg.Content))
	}

	return append(content, llms.TextParts(llms.ChatMessageTypeHuman, question))
}

func (ce *ChatEngine) callOptions() []llms.CallOption {
	return []llms.CallOption{
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithTemperature(ce.config.Temperature),
	}
}

// Chat generates a response based on the question, prior turns and the
// retrieved documents.
func (ce *ChatEngine) Chat(ctx context.Context, question string, history []types.Message, docs []models.Document) (string, error) {
	response, err := ce.llm.GenerateContent(ctx, ce.messages(question, history, docs), ce.callOptions()...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}

	if response == nil || len(response.Choices) == 0 {
		return "", fmt.Errorf("chat error: no response from LLM")
	}

	return response.Choices[0].Content, nil
}

// ChatStream generates a stream of response chunks. A generation failure is
// delivered as a final chunk prefixed with "Error:".
func (ce *ChatEngine) ChatStream(ctx context.Context, question string, history []types.Message, docs []models.Document) (<-chan string, error) {
	content := ce.messages(question, history, docs)
	resultChan := make(chan string)

	go func() {
		defer close(resultChan)

		streamed := false
		opts := append(ce.callOptions(), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed = true
			select {
			case resultChan <- string(chunk):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}))

		response, err := ce.llm.GenerateContent(ctx, content, opts...)
		if err != nil {
			select {
			case resultChan <- fmt.Sprintf("Error: %v", err):
			case <-ctx.Done():
			}
			return
		}

		if streamed {
			return
		}

		// Providers without streaming support only return the final content
		if response == nil || len(response.Choices) == 0 {
			select {
			case resultChan <- "Error: No response from LLM":
			case <-ctx.Done():
			}
			return
		}

		for _, choice := range response.Choices {
			if choice != nil && choice.Content != "" {
				select {
				case resultChan <- choice.Content:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return resultChan, nil
}

// Sources lists the unique document URLs for citation.
func Sources(docs []models.Document) []string {
	var sources []string
	seen := make(map[string]bool)

	for _, doc := range docs {
		if !seen[doc.URL] {
			sources = append(sources, doc.URL)
			seen[doc.URL] = true
		}
	}

	return sources
}

// FormatSources renders Sources as a trailing citation block.
func FormatSources(docs []models.Document) string {
	sources := Sources(docs)
	if len(sources) == 0 {
		return ""
	}
	return fmt.Sprintf("\nSources:\n%s", strings.Join(sources, "\n"))
}

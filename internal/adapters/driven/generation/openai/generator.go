// Package openai provides an answer generation adapter using the OpenAI API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/custodia-labs/tally/internal/adapters/driven/apierror"
	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
)

// Ensure Generator implements the interface.
var _ driven.Generator = (*Generator)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 120 * time.Second
)

const service = "generation"

// Config holds configuration for the OpenAI generator.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.openai.com/v1).
	// Can be changed for Azure OpenAI or compatible APIs.
	BaseURL string

	// Model is the chat model to use (default: gpt-4o-mini).
	Model string

	// Timeout is the request timeout (default: 120s).
	Timeout time.Duration

	// MaxTokens caps the answer length. Zero leaves it to the API.
	MaxTokens int

	// Temperature is the sampling temperature.
	Temperature float64
}

// Generator answers control questions with chat completions.
type Generator struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	prompts     driven.PromptStore
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// markerPattern matches citation markers such as [c:12].
var markerPattern = regexp.MustCompile(`\s*\[c:([^\]\s]+)\]`)

// Fallback prompts used when the prompt store cannot provide one.
const (
	defaultSystemPrompt = `You are an AI assistant specialised in analysing documents for compliance and control requirements.
Answer concisely in 2-3 sentences. Cite supporting passages by repeating their [c:<id>] markers.`

	defaultUserPrompt = "Control question:\n%s\n\nControl context:\n%s\n\nDocument content:\n%s"
)

// NewGenerator creates a new OpenAI generator. prompts may be nil, in
// which case built-in prompts are used.
func NewGenerator(cfg Config, prompts driven.PromptStore) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Generator{
		client:      &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		prompts:     prompts,
	}, nil
}

// ModelName returns the configured model.
func (g *Generator) ModelName() string {
	return g.model
}

// Generate answers req.Prompt from the annotated extraction content and
// resolves the cited markers against its citation index.
func (g *Generator) Generate(ctx context.Context, req driven.GenerationRequest) (*domain.Answer, error) {
	if req.Content == nil {
		return nil, domain.Permanent(service, "no document content")
	}

	controlContext := strings.TrimSpace(req.Context)
	if controlContext == "" {
		controlContext = "None"
	}
	user := fmt.Sprintf(g.loadPrompt(driven.PromptAnswerUser, defaultUserPrompt),
		req.Prompt, controlContext, req.Content.Annotated())

	resp, err := g.chat(ctx, []chatMessage{
		{Role: "system", Content: g.loadPrompt(driven.PromptAnswerSystem, defaultSystemPrompt)},
		{Role: "user", Content: user},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, domain.Permanent(service, "no response choices returned")
	}

	text, citations := resolveCitations(resp.Choices[0].Message.Content, req.Content)
	if text == "" {
		return nil, domain.Permanent(service, fmt.Sprintf("empty answer (finish reason %q)", resp.Choices[0].FinishReason))
	}

	model := resp.Model
	if model == "" {
		model = g.model
	}
	return &domain.Answer{
		Text:       text,
		Citations:  citations,
		Model:      model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

func (g *Generator) chat(ctx context.Context, messages []chatMessage) (*chatResponse, error) {
	jsonBody, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    messages,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, apierror.FromTransport(ctx, service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierror.FromTransport(ctx, service, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apierror.FromStatus(service, resp, body)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, apierror.Malformed(service, err)
	}
	return &chatResp, nil
}

// loadPrompt loads a prompt from the store, falling back to the default if unavailable.
func (g *Generator) loadPrompt(name, fallback string) string {
	if g.prompts == nil {
		return fallback
	}
	prompt, err := g.prompts.Load(name)
	if err != nil {
		return fallback
	}
	return prompt
}

// resolveCitations strips citation markers from the answer and returns the
// cited passages in order of first mention. Unknown markers are dropped.
func resolveCitations(answer string, content *domain.ExtractionResult) (string, []domain.Citation) {
	var citations []domain.Citation
	seen := make(map[string]bool)
	for _, m := range markerPattern.FindAllStringSubmatch(answer, -1) {
		id := m[1]
		if seen[id] {
			continue
		}
		seen[id] = true
		if c, ok := content.CitationByID(id); ok {
			citations = append(citations, c)
		}
	}
	return strings.TrimSpace(markerPattern.ReplaceAllString(answer, "")), citations
}

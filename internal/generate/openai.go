package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fyrsmithlabs/patchd/internal/config"
	"github.com/fyrsmithlabs/patchd/internal/faults"
)

const analyzeSystemPrompt = `You are a code analysis assistant. Given a repository
identifier and a change request, respond with a single JSON object:
{"structure": ["relative/paths"], "conventions": "short prose", "dependencies": ["names"]}.
Respond with JSON only, no prose around it.`

const generateSystemPrompt = `You are a code generation assistant. Given a change
request and a repository analysis, respond with a single JSON object:
{"title": "short change title",
 "summary": "what changed and why",
 "operations": [{"action": "create"|"modify", "path": "relative/path", "content": "full file content"}]}.
Every path must be relative to the repository root. Respond with JSON only.`

// OpenAIService implements Service over a chat-completion API.
type OpenAIService struct {
	client *openai.Client
	model  string
}

// NewOpenAIService creates a generation service. baseURL overrides the
// API endpoint for compatible local servers; empty means the default.
func NewOpenAIService(apiKey config.Secret, baseURL, model string) (*OpenAIService, error) {
	if !apiKey.IsSet() {
		return nil, fmt.Errorf("generation api key is required")
	}
	if model == "" {
		model = openai.GPT4o
	}

	cfg := openai.DefaultConfig(apiKey.Value())
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIService{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Analyze asks the model for the repository's structure and conventions.
func (s *OpenAIService) Analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	user := fmt.Sprintf("Repository: %s\nChange request: %s", req.Repo, req.Prompt)
	raw, err := s.complete(ctx, "analyze", analyzeSystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, faults.Wrap("analyze", faults.CodeUnrecoverable,
			fmt.Errorf("malformed analysis response: %w", err))
	}
	return &analysis, nil
}

// Generate asks the model for a concrete change set.
func (s *OpenAIService) Generate(ctx context.Context, req GenerateRequest) (*ChangeSet, error) {
	analysisJSON, err := json.Marshal(req.Analysis)
	if err != nil {
		return nil, faults.Wrap("generate", faults.CodeUnrecoverable, err)
	}

	user := fmt.Sprintf("Repository: %s\nChange request: %s\nAnalysis: %s",
		req.Repo, req.Prompt, analysisJSON)
	raw, err := s.complete(ctx, "generate", generateSystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var cs ChangeSet
	if err := json.Unmarshal([]byte(raw), &cs); err != nil {
		return nil, faults.Wrap("generate", faults.CodeUnrecoverable,
			fmt.Errorf("malformed change-set response: %w", err))
	}
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	return &cs, nil
}

func (s *OpenAIService) complete(ctx context.Context, op, system, user string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", classifyAPIError(op, err)
	}
	if len(resp.Choices) == 0 {
		return "", faults.New(op, faults.CodeUnrecoverable, "completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyAPIError maps API failures onto the fault taxonomy: rate limits
// and server errors are transient, auth and request errors are not.
func classifyAPIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429,
			apiErr.HTTPStatusCode >= 500 && apiErr.HTTPStatusCode < 600:
			return faults.Wrap(op, faults.CodeTransient, err)
		default:
			return faults.Wrap(op, faults.CodeUnrecoverable, err)
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == 429 {
			return faults.Wrap(op, faults.CodeTransient, err)
		}
		return faults.Wrap(op, faults.CodeUnrecoverable, err)
	}

	// Transport-level failure with no HTTP status: retryable.
	return faults.Wrap(op, faults.CodeTransient, err)
}

package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

const defaultGroqBaseURL = "https://api.groq.com/openai/v1"

// GroqCompleter talks to Groq's OpenAI-compatible chat completions endpoint
// through the OpenAI SDK.
type GroqCompleter struct {
	client openai.Client
}

// NewGroqCompleter builds a completer. An empty baseURL targets Groq; a nil
// client gets a default with the given timeout. SDK retries are disabled.
func NewGroqCompleter(apiKey, baseURL string, client *http.Client, timeout time.Duration) *GroqCompleter {
	if baseURL == "" {
		baseURL = defaultGroqBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &GroqCompleter{client: openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(strings.TrimSuffix(baseURL, "/")+"/"),
		option.WithHTTPClient(client),
		option.WithMaxRetries(0),
	)}
}

// Name identifies the provider in logs and errors.
func (g *GroqCompleter) Name() string { return "groq" }

// Complete posts one chat completion.
func (g *GroqCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}

	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, g.fromSDKError(apiErr)
		}
		return nil, eris.Wrap(err, "groq: post completion")
	}
	if len(completion.Choices) == 0 {
		return nil, eris.New("groq: response has no choices")
	}

	return &Response{
		Text:         completion.Choices[0].Message.Content,
		Model:        completion.Model,
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
	}, nil
}

// fromSDKError keeps the server's own message, which carries the rate-limit
// wording and the "try again in" hint.
func (g *GroqCompleter) fromSDKError(apiErr *openai.Error) *APIError {
	raw := apiErr.RawJSON()
	msg := gjson.Get(raw, "error.message").String()
	if msg == "" {
		msg = gjson.Get(raw, "message").String()
	}
	if msg == "" {
		msg = strings.TrimSpace(raw)
	}
	if msg == "" {
		msg = http.StatusText(apiErr.StatusCode)
	}

	out := &APIError{
		Provider:   g.Name(),
		StatusCode: apiErr.StatusCode,
		Message:    msg,
	}
	if apiErr.Response != nil {
		out.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
	}
	return out
}

package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rolltidehero/rubberduck-vscode/pkg/backend"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"github.com/tiktoken-go/tokenizer"
)

// Client sends prompts to the OpenAI API. Instruct/completion models use the
// completions endpoint; chat models get the prompt as a single user message.
type Client struct {
	client   *openai.Client
	settings *backend.Settings
	codec    tokenizer.Codec
	logger   zerolog.Logger
}

var _ backend.Client = (*Client)(nil)

type Option func(*Client)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithOpenAIClient(client *openai.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func NewClient(settings *backend.Settings, options ...Option) (*Client, error) {
	settings_ := settings.Clone()
	settings_.ApiType = backend.ApiTypeOpenAI
	if err := settings_.Validate(); err != nil {
		return nil, err
	}

	config := openai.DefaultConfig(settings_.APIKey)
	if settings_.BaseURL != "" {
		config.BaseURL = settings_.BaseURL
	}
	if settings_.Organization != "" {
		config.OrgID = settings_.Organization
	}

	ret := &Client{
		client:   openai.NewClientWithConfig(config),
		settings: settings_,
		codec:    codecForModel(settings_.Model),
		logger:   log.Logger,
	}
	for _, o := range options {
		o(ret)
	}
	return ret, nil
}

func codecForModel(model string) tokenizer.Codec {
	c, err := tokenizer.ForModel(tokenizer.Model(model))
	if err == nil {
		return c
	}
	c, err = tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil
	}
	return c
}

// IsChatModel reports whether model is only served by the chat completions endpoint.
func IsChatModel(model string) bool {
	if strings.HasSuffix(model, "-instruct") {
		return false
	}
	return strings.HasPrefix(model, "gpt-3.5-turbo") || strings.HasPrefix(model, "gpt-4")
}

func (c *Client) countTokens(prompt string) int {
	if c.codec == nil {
		return -1
	}
	ids, _, err := c.codec.Encode(prompt)
	if err != nil {
		return -1
	}
	return len(ids)
}

func (c *Client) GenerateCompletion(ctx context.Context, req backend.Request) (backend.Completion, error) {
	model := c.settings.Model
	promptTokens := c.countTokens(req.Prompt)

	c.logger.Debug().
		Str("model", model).
		Int("max_tokens", req.MaxTokens).
		Float64("temperature", req.Temperature).
		Strs("stop", req.Stop).
		Int("prompt_tokens", promptTokens).
		Msg("sending completion request")

	if c.settings.ContextSize > 0 && promptTokens >= 0 && promptTokens+req.MaxTokens > c.settings.ContextSize {
		return backend.NewError(fmt.Sprintf(
			"prompt too long: %d prompt tokens plus %d completion tokens exceed the context size of %d",
			promptTokens, req.MaxTokens, c.settings.ContextSize,
		)), nil
	}

	if timeout := c.settings.RequestTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		text string
		err  error
	)
	if IsChatModel(model) {
		text, err = c.runChatCompletion(ctx, model, req)
	} else {
		text, err = c.runCompletion(ctx, model, req)
	}
	if err != nil {
		apiErr := &openai.APIError{}
		if errors.As(err, &apiErr) {
			c.logger.Warn().Err(err).Int("status", apiErr.HTTPStatusCode).Msg("completion request rejected")
			return backend.NewError(apiErr.Message), nil
		}
		return backend.Completion{}, errors.Wrap(err, "completion request failed")
	}

	return backend.NewSuccess(text), nil
}

func (c *Client) runCompletion(ctx context.Context, model string, req backend.Request) (string, error) {
	resp, err := c.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:       model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stop:        req.Stop,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned from OpenAI")
	}
	return resp.Choices[0].Text, nil
}

func (c *Client) runChatCompletion(ctx context.Context, model string, req backend.Request) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stop:        req.Stop,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: req.Prompt,
			},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

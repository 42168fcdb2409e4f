package ollama

import (
	"context"
	"strings"

	"github.com/go-go-golems/glazed/pkg/helpers/maps"
	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rolltidehero/rubberduck-vscode/pkg/backend"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Generator is the part of *api.Client used here.
type Generator interface {
	Generate(ctx context.Context, req *api.GenerateRequest, fn api.GenerateResponseFunc) error
}

var _ Generator = (*api.Client)(nil)

type Client struct {
	generator Generator
	settings  *backend.Settings
	logger    zerolog.Logger
}

var _ backend.Client = (*Client)(nil)

type Option func(*Client)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithGenerator(g Generator) Option {
	return func(c *Client) {
		c.generator = g
	}
}

// generateOptions maps request parameters to ollama's model options.
type generateOptions struct {
	NumPredict  int      `yaml:"num_predict,omitempty"`
	Stop        []string `yaml:"stop,omitempty"`
	Temperature float64  `yaml:"temperature"`
}

// NewClient connects to the server named by OLLAMA_HOST unless a generator is
// passed in.
func NewClient(settings *backend.Settings, options ...Option) (*Client, error) {
	settings_ := settings.Clone()
	settings_.ApiType = backend.ApiTypeOllama
	if err := settings_.Validate(); err != nil {
		return nil, err
	}

	ret := &Client{
		settings: settings_,
		logger:   log.Logger,
	}
	for _, o := range options {
		o(ret)
	}

	if ret.generator == nil {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, errors.Wrap(err, "could not create ollama client")
		}
		ret.generator = client
	}

	return ret, nil
}

func (c *Client) GenerateCompletion(ctx context.Context, req backend.Request) (backend.Completion, error) {
	opts, err := maps.StructToMapThroughYAML(generateOptions{
		NumPredict:  req.MaxTokens,
		Stop:        req.Stop,
		Temperature: req.Temperature,
	})
	if err != nil {
		return backend.Completion{}, errors.Wrap(err, "could not build ollama options")
	}

	if timeout := c.settings.RequestTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.logger.Debug().
		Str("model", c.settings.Model).
		Interface("options", opts).
		Msg("sending generate request")

	var sb strings.Builder
	err = c.generator.Generate(ctx, &api.GenerateRequest{
		Model:   c.settings.Model,
		Prompt:  req.Prompt,
		Options: opts,
	}, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			c.logger.Warn().Err(err).Int("status", statusErr.StatusCode).Msg("generate request rejected")
			msg := statusErr.ErrorMessage
			if msg == "" {
				msg = statusErr.Status
			}
			return backend.NewError(msg), nil
		}
		return backend.Completion{}, errors.Wrap(err, "generate request failed")
	}

	return backend.NewSuccess(sb.String()), nil
}

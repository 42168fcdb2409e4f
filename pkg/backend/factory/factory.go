package factory

import (
	"github.com/pkg/errors"
	"github.com/rolltidehero/rubberduck-vscode/pkg/backend"
	"github.com/rolltidehero/rubberduck-vscode/pkg/backend/echo"
	"github.com/rolltidehero/rubberduck-vscode/pkg/backend/ollama"
	"github.com/rolltidehero/rubberduck-vscode/pkg/backend/openai"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type StandardClientFactory struct {
	Settings *backend.Settings
	Logger   *zerolog.Logger
}

func (f *StandardClientFactory) NewClient() (backend.Client, error) {
	if f.Settings == nil {
		return nil, errors.New("no backend settings")
	}
	settings_ := f.Settings.Clone()
	if err := settings_.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid backend settings")
	}

	logger := log.Logger
	if f.Logger != nil {
		logger = *f.Logger
	}
	logger = logger.With().Str("api_type", string(settings_.ApiType)).Str("model", settings_.Model).Logger()

	var ret backend.Client
	switch settings_.ApiType {
	case backend.ApiTypeOpenAI:
		c, err := openai.NewClient(settings_, openai.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		ret = c
	case backend.ApiTypeOllama:
		c, err := ollama.NewClient(settings_, ollama.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		ret = c
	case backend.ApiTypeEcho:
		ret = echo.NewClient()
	default:
		return nil, errors.Errorf("unsupported api type %q", settings_.ApiType)
	}

	return ret, nil
}

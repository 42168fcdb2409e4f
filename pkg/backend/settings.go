package backend

import (
	"time"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

type ApiType string

const (
	ApiTypeOpenAI ApiType = "openai"
	ApiTypeOllama ApiType = "ollama"
	ApiTypeEcho   ApiType = "echo"
)

var ErrMissingAPIKey = errors.New("missing api key")

type Settings struct {
	ApiType ApiType `yaml:"api_type,omitempty"`
	Model   string  `yaml:"model,omitempty"`
	APIKey  string  `yaml:"api_key,omitempty"`
	BaseURL string  `yaml:"base_url,omitempty"`

	Organization string `yaml:"organization,omitempty"`
	// TimeoutSeconds bounds a single completion request.
	TimeoutSeconds int `yaml:"timeout,omitempty"`
	// ContextSize caps prompt tokens plus max tokens; 0 disables the check.
	ContextSize int `yaml:"context_size,omitempty"`
}

// RequestTimeout returns the configured timeout, 0 meaning none.
func (s *Settings) RequestTimeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

func (s *Settings) Validate() error {
	switch s.ApiType {
	case ApiTypeOpenAI:
		if s.APIKey == "" {
			return ErrMissingAPIKey
		}
		if s.Model == "" {
			return errors.New("no model specified")
		}
	case ApiTypeOllama:
		if s.Model == "" {
			return errors.New("no model specified")
		}
	case ApiTypeEcho:
	default:
		return errors.Errorf("unsupported api type %q", s.ApiType)
	}
	return nil
}

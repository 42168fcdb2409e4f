package artifact

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var ErrUnknownHandle = errors.New("unknown artifact handle")

type MemoryHost struct {
	mu        sync.Mutex
	artifacts map[Handle]string
	opened    []Handle
}

var _ Host = (*MemoryHost)(nil)

func NewMemoryHost() *MemoryHost {
	return &MemoryHost{artifacts: map[Handle]string{}}
}

func (m *MemoryHost) Open(_ context.Context, content string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := Handle(uuid.NewString())
	m.artifacts[h] = content
	m.opened = append(m.opened, h)
	return h, nil
}

func (m *MemoryHost) Replace(_ context.Context, h Handle, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.artifacts[h]; !ok {
		return errors.Wrapf(ErrUnknownHandle, "replace %s", h)
	}
	m.artifacts[h] = content
	return nil
}

func (m *MemoryHost) Get(h Handle) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.artifacts[h]
	return c, ok
}

// Opened lists handles in the order they were opened.
func (m *MemoryHost) Opened() []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Handle(nil), m.opened...)
}

// FileHost writes each artifact to its own file below Dir. The handle is the
// file path.
type FileHost struct {
	fs        afero.Fs
	dir       string
	extension string
	logger    zerolog.Logger
}

var _ Host = (*FileHost)(nil)

type FileHostOption func(*FileHost)

func WithExtension(ext string) FileHostOption {
	return func(f *FileHost) {
		f.extension = ext
	}
}

func WithLogger(logger zerolog.Logger) FileHostOption {
	return func(f *FileHost) {
		f.logger = logger
	}
}

func NewFileHost(fs afero.Fs, dir string, options ...FileHostOption) *FileHost {
	ret := &FileHost{
		fs:        fs,
		dir:       dir,
		extension: ".txt",
		logger:    log.Logger,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (f *FileHost) Open(_ context.Context, content string) (Handle, error) {
	if err := f.fs.MkdirAll(f.dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "could not create artifact directory %s", f.dir)
	}
	path := filepath.Join(f.dir, "artifact-"+uuid.NewString()[:8]+f.extension)
	if err := afero.WriteFile(f.fs, path, []byte(content), 0o644); err != nil {
		return "", errors.Wrapf(err, "could not write artifact %s", path)
	}
	f.logger.Info().Str("path", path).Msg("artifact created")
	return Handle(path), nil
}

func (f *FileHost) Replace(_ context.Context, h Handle, content string) error {
	path := string(h)
	if _, err := f.fs.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrUnknownHandle, "replace %s", path)
		}
		return errors.Wrapf(err, "could not stat artifact %s", path)
	}
	if err := afero.WriteFile(f.fs, path, []byte(content), 0o644); err != nil {
		return errors.Wrapf(err, "could not write artifact %s", path)
	}
	f.logger.Debug().Str("path", path).Msg("artifact updated")
	return nil
}

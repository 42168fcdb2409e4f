// Package artifact mirrors generated text (for example a generated test file)
// into an external host such as an editor buffer or a file on disk.
package artifact

import (
	"context"
)

// Handle identifies an artifact opened on a Host.
type Handle string

type Host interface {
	// Open creates a new artifact holding content.
	Open(ctx context.Context, content string) (Handle, error)
	// Replace overwrites the full text of an artifact previously opened.
	Replace(ctx context.Context, h Handle, content string) error
}

// Mirror holds the latest generated content and the handle of the artifact
// it was synced to. Content and handle are set independently; the handle is
// only ever created once.
type Mirror struct {
	content    string
	hasContent bool
	handle     Handle
	hasHandle  bool
}

func (m *Mirror) Set(content string) {
	m.content = content
	m.hasContent = true
}

func (m *Mirror) Content() (string, bool) {
	return m.content, m.hasContent
}

func (m *Mirror) Handle() (Handle, bool) {
	return m.handle, m.hasHandle
}

// Sync pushes the content to host, opening the artifact the first time and
// replacing its text afterwards. Without content it does nothing.
func (m *Mirror) Sync(ctx context.Context, host Host) error {
	if !m.hasContent || host == nil {
		return nil
	}

	if !m.hasHandle {
		h, err := host.Open(ctx, m.content)
		if err != nil {
			return err
		}
		m.handle = h
		m.hasHandle = true
		return nil
	}

	return host.Replace(ctx, m.handle, m.content)
}

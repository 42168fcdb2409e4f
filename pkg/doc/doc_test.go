package doc

import (
	"testing"

	"github.com/go-go-golems/glazed/pkg/help"
	"github.com/stretchr/testify/require"
)

func TestAddDocToHelpSystemLoadsTopics(t *testing.T) {
	hs := help.NewHelpSystem()
	require.NoError(t, AddDocToHelpSystem(hs))

	for _, slug := range []string{"conversation-templates", "template-variables", "backend-configuration"} {
		section, err := hs.GetSectionWithSlug(slug)
		require.NoError(t, err, slug)
		require.NotEmpty(t, section.Title, slug)
	}
}

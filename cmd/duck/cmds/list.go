package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation/template"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

type ListTemplatesCommand struct {
	*cmds.CommandDescription
	fs afero.Fs
}

var _ cmds.GlazeCommand = (*ListTemplatesCommand)(nil)

type ListTemplatesSettings struct {
	Directory string   `glazed.parameter:"directory"`
	Patterns  []string `glazed.parameter:"pattern"`
}

func NewListTemplatesCommand(fs afero.Fs) (*ListTemplatesCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create Glazed parameter layer")
	}

	return &ListTemplatesCommand{
		CommandDescription: cmds.NewCommandDescription(
			"list",
			cmds.WithShort("List the conversation templates of a directory"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"pattern",
					parameters.ParameterTypeStringList,
					parameters.WithHelp("File name patterns (default *.rdt.md, *.yaml, *.yml, *.json)"),
				),
			),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"directory",
					parameters.ParameterTypeString,
					parameters.WithHelp("Template directory"),
					parameters.WithDefault("."),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
		fs: fs,
	}, nil
}

func (c *ListTemplatesCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	s := &ListTemplatesSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "failed to initialize settings")
	}

	templates, err := template.NewLoader(c.fs).LoadDir(s.Directory, s.Patterns...)
	if err != nil {
		return err
	}

	for _, t := range templates {
		variables := make([]string, 0, len(t.Variables))
		for _, v := range t.Variables {
			variables = append(variables, v.Name)
		}
		row := types.NewRow(
			types.MRP("id", t.ID),
			types.MRP("label", t.Label),
			types.MRP("type", string(t.Type)),
			types.MRP("description", t.Description),
			types.MRP("variables", variables),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func NewListCommand() (*cobra.Command, error) {
	listCmd, err := NewListTemplatesCommand(afero.NewOsFs())
	if err != nil {
		return nil, err
	}
	return cli.BuildCobraCommandFromGlazeCommand(listCmd)
}

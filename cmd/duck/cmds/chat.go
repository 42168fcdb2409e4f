package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rolltidehero/rubberduck-vscode/pkg/artifact"
	"github.com/rolltidehero/rubberduck-vscode/pkg/backend"
	"github.com/rolltidehero/rubberduck-vscode/pkg/backend/factory"
	"github.com/rolltidehero/rubberduck-vscode/pkg/chat"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation/template"
	"github.com/rolltidehero/rubberduck-vscode/pkg/conversation/variables"
	"github.com/rolltidehero/rubberduck-vscode/pkg/events"
	"github.com/rolltidehero/rubberduck-vscode/pkg/helpers"
	"github.com/rolltidehero/rubberduck-vscode/pkg/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"
)

func NewChatCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "chat <template>",
		Short: "Start a conversation from a template file",
		Long: "Start a conversation from a template file. Type /retry to repeat the last turn " +
			"and /quit to leave.",
		Args: cobra.ExactArgs(1),
		RunE: runChat,
	}

	flags := cmd.Flags()
	flags.String("api-type", string(backend.ApiTypeOpenAI), "Backend (openai, ollama, echo)")
	flags.String("model", "gpt-3.5-turbo-instruct", "Model name")
	flags.String("openai-api-key", "", "OpenAI API key")
	flags.String("openai-organization", "", "OpenAI organization")
	flags.String("base-url", "", "Override the backend base URL")
	flags.String("ollama-host", "", "Ollama server (default $OLLAMA_HOST)")
	flags.Int("timeout", 0, "Request timeout in seconds (0 for none)")
	flags.Int("context-size", 0, "Maximum prompt plus completion tokens (0 to disable the check)")

	flags.StringArray("var", nil, "Set a conversation variable (name=value), may be repeated")
	flags.String("selection-file", "", "File used as the selected text")
	flags.String("language", "", "Language of the selection (default: from the file extension)")
	flags.String("artifact-dir", "", "Directory receiving generated artifacts")
	flags.String("source", string(chat.SourceLocalWorkspace), "Source label of the template")

	for _, name := range []string{
		"api-type", "model", "openai-api-key", "openai-organization",
		"base-url", "ollama-host", "timeout", "context-size",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			return nil, err
		}
	}

	return cmd, nil
}

func settingsFromViper() *backend.Settings {
	return &backend.Settings{
		ApiType:        backend.ApiType(viper.GetString("api-type")),
		Model:          viper.GetString("model"),
		APIKey:         viper.GetString("openai-api-key"),
		BaseURL:        viper.GetString("base-url"),
		Organization:   viper.GetString("openai-organization"),
		TimeoutSeconds: viper.GetInt("timeout"),
		ContextSize:    viper.GetInt("context-size"),
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	fs := afero.NewOsFs()
	flags := cmd.Flags()

	tmpl, err := template.NewLoader(fs).Load(args[0])
	if err != nil {
		return err
	}

	var selection *Selection
	if path, _ := flags.GetString("selection-file"); path != "" {
		language, _ := flags.GetString("language")
		selection, err = LoadSelection(fs, path, language)
		if err != nil {
			return err
		}
	}

	source, _ := flags.GetString("source")
	ct, err := chat.NewConversationType(tmpl, chat.Source(source),
		chat.WithTypeResolver(variables.NewResolver(selection.ResolverOptions()...)))
	if err != nil {
		return err
	}

	if host := viper.GetString("ollama-host"); host != "" {
		if err := os.Setenv("OLLAMA_HOST", host); err != nil {
			return err
		}
	}
	client, err := (&factory.StandardClientFactory{Settings: settingsFromViper()}).NewClient()
	if err != nil {
		return err
	}

	pairs, _ := flags.GetStringArray("var")
	overrides, err := ParseVars(pairs)
	if err != nil {
		return err
	}
	initVariables, err := ct.ResolveInitVariables(cmd.Context())
	if err != nil {
		return err
	}
	for k, v := range overrides {
		initVariables[k] = v
	}

	var host artifact.Host
	if dir, _ := flags.GetString("artifact-dir"); dir != "" {
		ext := ".txt"
		if selection != nil {
			ext = extensionOf(selection.Path)
		}
		host = artifact.NewFileHost(fs, dir, artifact.WithExtension(ext))
	}

	router, err := events.NewEventRouter(events.WithLogger(log.Logger))
	if err != nil {
		return err
	}
	defer func() { _ = router.Close() }()
	router.AddConversationHandler("log", events.DefaultTopic, func(_ context.Context, e *events.ConversationUpdated) error {
		log.Debug().
			Str("conversation", e.ConversationID).
			Str("state", string(e.State)).
			Int("messages", e.MessageCount).
			Msg("conversation updated")
		return nil
	})
	publisher := events.NewPublisher()
	publisher.SubscribePublisher(events.DefaultTopic, router.Publisher)

	out := cmd.OutOrStdout()
	printer, err := newTranscriptPrinter(out, isatty.IsTerminal(os.Stdout.Fd()))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()

		manager := session.NewManager()
		c, err := manager.Start(ctx, ct, chat.CreateOptions{
			Client:        client,
			InitVariables: initVariables,
			ArtifactHost:  host,
			Observer:      chat.Observers{publisher, chat.ObserverFunc(printer.showProgress)},
		})
		if err != nil {
			return err
		}

		return chatLoop(ctx, manager, c, printer, &input.UI{Writer: out, Reader: cmd.InOrStdin()})
	})

	return eg.Wait()
}

func extensionOf(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 && !strings.ContainsAny(path[i:], `/\`) {
		return path[i:]
	}
	return ".txt"
}

func chatLoop(ctx context.Context, manager *session.Manager, c *chat.Conversation, printer *transcriptPrinter, ui *input.UI) error {
	printer.printHeader(ctx, c)
	printer.printNew(c)

	for {
		query := "you"
		if m, ok := lastBotMessage(c.Messages()); ok && m.ResponsePlaceholder != "" {
			query = "you (" + m.ResponsePlaceholder + ")"
		}

		line, err := ui.Ask(query, &input.Options{HideOrder: true})
		if err != nil {
			if !errors.Is(err, input.ErrInterrupted) {
				log.Debug().Err(err).Msg("input closed")
			}
			return nil
		}

		switch line = strings.TrimSpace(line); line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/retry":
			err = manager.Retry(ctx, c.ID())
		default:
			err = manager.Answer(ctx, c.ID(), helpers.ToPointer(line))
		}
		if err != nil {
			return err
		}

		printer.printNew(c)
	}
}

func lastBotMessage(messages conversation.Messages) (conversation.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == conversation.RoleBot {
			return messages[i], true
		}
	}
	return conversation.Message{}, false
}

// transcriptPrinter writes bot messages and state changes to the terminal,
// rendering markdown when the output is a terminal.
type transcriptPrinter struct {
	out      io.Writer
	renderer *glamour.TermRenderer
	printed  int
}

func newTranscriptPrinter(out io.Writer, terminal bool) (*transcriptPrinter, error) {
	ret := &transcriptPrinter{out: out}
	if terminal {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err != nil {
			return nil, errors.Wrap(err, "could not create markdown renderer")
		}
		ret.renderer = r
	}
	return ret, nil
}

func (p *transcriptPrinter) printHeader(ctx context.Context, c *chat.Conversation) {
	_, _ = fmt.Fprintf(p.out, "== %s ==\n", c.GetTitle(ctx))
}

func (p *transcriptPrinter) render(text string) string {
	if p.renderer == nil {
		return text + "\n"
	}
	s, err := p.renderer.Render(text)
	if err != nil {
		log.Debug().Err(err).Msg("could not render markdown")
		return text + "\n"
	}
	return s
}

// printNew prints the bot messages added since the last call and the error
// state, if any.
func (p *transcriptPrinter) printNew(c *chat.Conversation) {
	messages := c.Messages()
	for _, m := range messages[p.printed:] {
		if m.Role == conversation.RoleBot {
			_, _ = fmt.Fprintf(p.out, "duck:\n%s", p.render(m.Content))
		}
	}
	p.printed = len(messages)

	if s, ok := c.State().(conversation.Error); ok {
		_, _ = fmt.Fprintf(p.out, "error: %s (type /retry to try again)\n", s.ErrorMessage)
	}
}

func (p *transcriptPrinter) showProgress(_ context.Context, c *chat.Conversation) error {
	if s, ok := c.State().(conversation.WaitingForBotAnswer); ok {
		_, err := fmt.Fprintf(os.Stderr, "%s…\n", s.BotAction)
		return err
	}
	return nil
}

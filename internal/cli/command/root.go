package command

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/chatdesk/internal/core/domain"
	"github.com/yndnr/chatdesk/internal/infra/buildinfo"
)

// App creates the CLI application.
func App() *cli.App {
	return newApp(openStore)
}

func newApp(storeFn storeOpener) *cli.App {
	rt := &runtime{storeFn: storeFn}

	app := &cli.App{
		Name:    "chatdesk",
		Usage:   "Chat and document assistant client",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			LoginCommand(rt),
			LogoutCommand(rt),
			SessionCommand(rt),
			ChatCommand(rt),
			DocsCommand(rt),
			ConfigCommand(rt),
		},
		Before: rt.setup,
		After: func(*cli.Context) error {
			return rt.close()
		},
		ExitErrHandler:       func(*cli.Context, error) {},
		EnableBashCompletion: true,
	}
	return app
}

// globalFlags returns the global CLI flags. Flags override the config
// file and environment.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Config file (default ~/.chatdesk/config.yaml)",
			EnvVars: []string{"CHATDESK_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns, no truncation)",
		},
		&cli.StringFlag{
			Name:  "auth-url",
			Usage: "Auth API base URL",
		},
		&cli.StringFlag{
			Name:  "chat-url",
			Usage: "Chat API base URL",
		},
		&cli.StringFlag{
			Name:  "docs-url",
			Usage: "Documents API base URL",
		},
		&cli.StringFlag{
			Name:  "store",
			Usage: "Credential store: badger, redis, memory",
		},
		&cli.StringFlag{
			Name:  "store-dir",
			Usage: "Badger credential store directory",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Shorthand for --log-level debug",
		},
	}
}

// Main runs the application and returns the process exit code.
func Main(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	app := App()
	app.Reader, app.Writer, app.ErrWriter = stdin, stdout, stderr
	return run(ctx, app, args)
}

func run(ctx context.Context, app *cli.App, args []string) int {
	err := app.RunContext(ctx, args)
	if err == nil {
		return 0
	}
	fmt.Fprintf(app.ErrWriter, "error: %v\n", err)
	return ExitCode(err)
}

// Exit codes.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitUsage       = 2
	ExitNotLoggedIn = 3
	ExitInterrupted = 130
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	var ec cli.ExitCoder
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &ec):
		return ec.ExitCode()
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, domain.ErrNotAuthenticated), errors.Is(err, domain.ErrUnauthorized):
		return ExitNotLoggedIn
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidConfig):
		return ExitUsage
	default:
		return ExitError
	}
}

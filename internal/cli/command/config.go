package command

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/chatdesk/internal/cli/config"
	"github.com/yndnr/chatdesk/internal/cli/output"
	"github.com/yndnr/chatdesk/internal/core/domain"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:    "config",
		Aliases: []string{"cfg"},
		Usage:   "Inspect or create the configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the effective configuration with secrets masked",
				Action: configShow(rt),
			},
			{
				Name:   "path",
				Usage:  "Print the config file path",
				Action: configPath(rt),
			},
			{
				Name:  "init",
				Usage: "Write the effective configuration to the config file",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Overwrite an existing file",
					},
				},
				Action: configInit(rt),
			},
		},
	}
}

func configShow(rt *runtime) cli.ActionFunc {
	return func(c *cli.Context) error {
		redacted := rt.cfg.Redacted()
		// Nested settings read better as YAML than as a two-column table.
		if !rt.printer.Format().Structured() {
			return (&output.YAMLFormatter{}).Format(rt.stdout, redacted)
		}
		return rt.printer.Print(redacted)
	}
}

func configPath(rt *runtime) cli.ActionFunc {
	return func(c *cli.Context) error {
		state := "missing"
		if fileExists(rt.configPath) {
			state = "exists"
		}
		if rt.printer.Format().Structured() {
			return rt.printer.Print(map[string]string{"path": rt.configPath, "state": state})
		}
		fmt.Fprintln(rt.stdout, rt.configPath)
		return nil
	}
}

func configInit(rt *runtime) cli.ActionFunc {
	return func(c *cli.Context) error {
		if fileExists(rt.configPath) && !c.Bool("force") {
			return domain.ErrInvalidArgument.WithDetails(rt.configPath + " already exists (use --force to overwrite)")
		}
		if err := config.Save(rt.cfg, rt.configPath); err != nil {
			return err
		}
		rt.printer.Notice("Wrote %s", rt.configPath)
		return nil
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

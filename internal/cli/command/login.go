package command

import (
	"github.com/urfave/cli/v2"
)

// LoginCommand returns the login command.
func LoginCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in and store the session",
		Description: "Exchanges username and password for a token pair. The session is kept in the\n" +
			"credential store and silently refreshed by later commands until it expires.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "username",
				Aliases: []string{"u"},
				Usage:   "Account name (prompted when omitted)",
				EnvVars: []string{"CHATDESK_USERNAME"},
			},
			&cli.BoolFlag{
				Name:  "password-stdin",
				Usage: "Read the password from stdin",
			},
		},
		Action: func(c *cli.Context) error {
			username := c.String("username")
			fromStdin := c.Bool("password-stdin")
			if username == "" {
				var err error
				if username, err = rt.promptUsername(); err != nil {
					return err
				}
			}
			password, err := rt.readPassword(fromStdin)
			if err != nil {
				return err
			}

			sm, err := rt.Session(c.Context)
			if err != nil {
				return err
			}

			spin := rt.printer.Spinner("Signing in as " + username)
			spin.Start()
			if err := sm.Authenticate(c.Context, username, password); err != nil {
				spin.Fail("Login failed")
				return err
			}
			spin.Stop()

			view := newStatusView(sm, rt.cfg.Store.Backend)
			if rt.printer.Format().Structured() {
				return rt.printer.Print(view)
			}
			rt.printer.Notice("Logged in as %s. Token expires %s.", displayUser(view.User, username), view.expiry())
			return nil
		},
	}
}

// LogoutCommand returns the logout command.
func LogoutCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "End the session and wipe stored credentials",
		Action: func(c *cli.Context) error {
			sm, err := rt.Session(c.Context)
			if err != nil {
				return err
			}
			wasAuth := sm.IsAuthenticated()
			if err := sm.Logout(c.Context); err != nil {
				return err
			}
			if wasAuth {
				rt.printer.Notice("Logged out.")
			} else {
				rt.printer.Notice("Not logged in.")
			}
			return nil
		},
	}
}

func displayUser(subject, fallback string) string {
	if subject != "" {
		return subject
	}
	return fallback
}

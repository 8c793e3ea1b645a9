package command

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/yndnr/chatdesk/internal/core/domain"
)

// terminalFd returns the descriptor of r when it is an interactive terminal.
var terminalFd = func(r io.Reader) (int, bool) {
	f, ok := r.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	return int(f.Fd()), true
}

// readSecret reads a password without echo from the terminal.
var readSecret = term.ReadPassword

// promptUsername asks for the username on an interactive stdin.
func (rt *runtime) promptUsername() (string, error) {
	if _, ok := terminalFd(rt.stdin); !ok {
		return "", domain.ErrInvalidArgument.WithDetails("username required: pass --username")
	}
	fmt.Fprint(rt.stderr, "Username: ")
	line, err := rt.readLine()
	if err != nil {
		return "", fmt.Errorf("read username: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads the password from stdin when fromStdin is set, or
// prompts without echo on a terminal.
func (rt *runtime) readPassword(fromStdin bool) (string, error) {
	if fromStdin {
		line, err := rt.readLine()
		if err != nil {
			return "", fmt.Errorf("read password from stdin: %w", err)
		}
		return line, nil
	}

	fd, ok := terminalFd(rt.stdin)
	if !ok {
		return "", domain.ErrInvalidArgument.WithDetails("no terminal for the password prompt: use --password-stdin")
	}
	fmt.Fprint(rt.stderr, "Password: ")
	b, err := readSecret(fd)
	fmt.Fprintln(rt.stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

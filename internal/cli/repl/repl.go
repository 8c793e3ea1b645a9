package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ErrExit ends Run without error when returned by a handler.
var ErrExit = errors.New("repl: exit")

// Stop wraps err so that Run returns it instead of printing it and
// reading the next line.
func Stop(err error) error {
	return &stopError{err: err}
}

type stopError struct{ err error }

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// Handler runs one command. args is the text after the command name.
type Handler func(ctx context.Context, args string) error

type command struct {
	usage   string
	handler Handler
}

// REPL reads lines, dispatches "/name args" to registered commands and
// passes everything else to the default handler.
type REPL struct {
	in        io.Reader
	out       io.Writer
	prompt    func() string
	commands  map[string]command
	completer *Completer
	history   *History
	fallback  Handler
}

// Option configures a REPL.
type Option func(*REPL)

// WithPrompt sets the prompt. It is evaluated before every line.
func WithPrompt(fn func() string) Option {
	return func(r *REPL) { r.prompt = fn }
}

// WithHistory records entered lines in h.
func WithHistory(h *History) Option {
	return func(r *REPL) { r.history = h }
}

// New creates a REPL reading in and writing out. fallback handles lines
// that are not commands.
func New(in io.Reader, out io.Writer, fallback Handler, opts ...Option) *REPL {
	r := &REPL{
		in:        in,
		out:       out,
		prompt:    func() string { return "> " },
		commands:  make(map[string]command),
		completer: NewCompleter(),
		history:   NewHistory(""),
		fallback:  fallback,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Handle("help", "show commands", func(context.Context, string) error {
		r.printHelp()
		return nil
	})
	exit := func(context.Context, string) error { return ErrExit }
	r.Handle("exit", "leave", exit)
	r.Handle("quit", "", exit)
	return r
}

// Handle registers /name. An empty usage hides it from /help.
func (r *REPL) Handle(name, usage string, h Handler) {
	if _, ok := r.commands[name]; !ok {
		r.completer.Add("/" + name)
	}
	r.commands[name] = command{usage: usage, handler: h}
}

// Run loops until EOF, an exit command or ctx cancellation. Handler
// errors are printed and the loop continues.
func (r *REPL) Run(ctx context.Context) error {
	reader := bufio.NewReader(r.in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(r.out, r.prompt())

		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := errors.Is(err, io.EOF)

		line = strings.TrimSpace(line)
		if line != "" {
			r.history.Add(line)
			if err := r.eval(ctx, line); err != nil {
				if errors.Is(err, ErrExit) {
					return nil
				}
				var stop *stopError
				if errors.As(err, &stop) {
					return stop.err
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
		}
		if eof {
			fmt.Fprintln(r.out)
			return nil
		}
	}
}

func (r *REPL) eval(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		return r.fallback(ctx, line)
	}

	name, args, _ := strings.Cut(line[1:], " ")
	if cmd, ok := r.commands[name]; ok {
		return cmd.handler(ctx, strings.TrimSpace(args))
	}
	if matches := r.completer.Complete("/" + name); len(matches) == 1 {
		return r.commands[matches[0][1:]].handler(ctx, strings.TrimSpace(args))
	} else if len(matches) > 1 {
		return fmt.Errorf("ambiguous command /%s: %s", name, strings.Join(matches, ", "))
	}
	return fmt.Errorf("unknown command /%s (try /help)", name)
}

func (r *REPL) printHelp() {
	names := make([]string, 0, len(r.commands))
	for name, cmd := range r.commands {
		if cmd.usage != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(r.out, "  /%-10s %s\n", name, r.commands[name].usage)
	}
}

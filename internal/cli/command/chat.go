package command

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/chatdesk/internal/cli/config"
	"github.com/yndnr/chatdesk/internal/cli/connection"
	"github.com/yndnr/chatdesk/internal/cli/repl"
	"github.com/yndnr/chatdesk/internal/core/domain"
	"github.com/yndnr/chatdesk/internal/core/service"
)

// ChatCommand returns the chat subcommand group.
func ChatCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Talk to the assistant",
		Subcommands: []*cli.Command{
			{
				Name:    "history",
				Aliases: []string{"ls"},
				Usage:   "List recent conversations",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Value:   connection.DefaultHistoryLimit,
						Usage:   "Number of conversations",
					},
				},
				Action: chatHistory(rt),
			},
			{
				Name:      "show",
				Usage:     "Show the messages of a conversation",
				ArgsUsage: "CONVERSATION_ID",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Value:   connection.DefaultMessageLimit,
						Usage:   "Number of most recent messages",
					},
				},
				Action: chatShow(rt),
			},
			{
				Name:      "send",
				Usage:     "Send a message (\"-\" reads it from stdin)",
				ArgsUsage: "MESSAGE...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "conversation",
						Aliases: []string{"c"},
						Usage:   "Continue this conversation instead of starting one",
					},
				},
				Action: chatSend(rt),
			},
			{
				Name:    "interactive",
				Aliases: []string{"i"},
				Usage:   "Chat in a prompt loop",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "conversation",
						Aliases: []string{"c"},
						Usage:   "Continue this conversation",
					},
				},
				Action: chatInteractive(rt),
			},
		},
	}
}

// chatClient resumes the session and returns a Chat API client bound to it.
func (rt *runtime) chatClient(c *cli.Context) (*connection.ChatClient, error) {
	sm, err := rt.Session(c.Context)
	if err != nil {
		return nil, err
	}
	return rt.conns.Chat(sm), nil
}

func chatHistory(rt *runtime) cli.ActionFunc {
	return func(c *cli.Context) error {
		chat, err := rt.chatClient(c)
		if err != nil {
			return err
		}
		conversations, err := chat.Histories(c.Context, c.Int("limit"))
		if err != nil {
			return err
		}
		if len(conversations) == 0 && !rt.printer.Format().Structured() {
			rt.printer.Notice("No conversations yet.")
			return nil
		}
		return rt.printer.Print(conversations)
	}
}

func chatShow(rt *runtime) cli.ActionFunc {
	return func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return domain.ErrInvalidArgument.WithDetails("conversation id required")
		}
		chat, err := rt.chatClient(c)
		if err != nil {
			return err
		}
		messages, err := chat.Messages(c.Context, id, c.Int("limit"))
		if err != nil {
			return err
		}
		return rt.printer.Print(messages)
	}
}

func chatSend(rt *runtime) cli.ActionFunc {
	return func(c *cli.Context) error {
		message := strings.Join(c.Args().Slice(), " ")
		if message == "-" {
			data, err := io.ReadAll(rt.stdin)
			if err != nil {
				return err
			}
			message = string(data)
		}
		message = strings.TrimSpace(message)
		if message == "" {
			return domain.ErrInvalidArgument.WithDetails("message required")
		}

		chat, err := rt.chatClient(c)
		if err != nil {
			return err
		}
		spin := rt.printer.Spinner("Waiting for the assistant")
		spin.Start()
		reply, err := chat.Send(c.Context, message, c.String("conversation"))
		spin.Stop()
		if err != nil {
			return err
		}

		if rt.printer.Format().Structured() {
			return rt.printer.Print(reply)
		}
		rt.printer.Notice("%s", reply.Response)
		if c.String("conversation") == "" {
			rt.printer.Notice("\nConversation %s started. Continue with: chatdesk chat send -c %s ...",
				reply.ConversationID, reply.ConversationID)
		}
		return nil
	}
}

// historyFile is where interactive input is remembered.
func historyFile() string {
	return filepath.Join(filepath.Dir(config.DefaultConfigPath()), "history")
}

func chatInteractive(rt *runtime) cli.ActionFunc {
	return func(c *cli.Context) error {
		sm, err := rt.Session(c.Context)
		if err != nil {
			return err
		}
		if !sm.IsAuthenticated() {
			return domain.ErrNotAuthenticated
		}
		s := &chatLoop{rt: rt, sm: sm, chat: rt.conns.Chat(sm), conversation: c.String("conversation")}

		history := repl.NewHistory(historyFile())
		if err := history.Load(); err != nil {
			rt.log.Warn("chat history unavailable", "error", err)
		}
		r := repl.New(rt.stdin, rt.stdout, s.send, repl.WithPrompt(s.prompt), repl.WithHistory(history))
		r.Handle("new", "start a new conversation", s.reset)
		r.Handle("use", "continue conversation ID", s.use)
		r.Handle("history", "list recent conversations [LIMIT]", s.history)
		r.Handle("show", "show the current conversation [LIMIT]", s.show)

		fmt.Fprintln(rt.stdout, "Type a message, /help for commands, /exit to leave.")
		runErr := r.Run(c.Context)
		if err := history.Save(); err != nil {
			rt.log.Warn("chat history not saved", "error", err)
		}
		return runErr
	}
}

// chatLoop is the state of one interactive chat.
type chatLoop struct {
	rt           *runtime
	sm           *service.SessionManager
	chat         *connection.ChatClient
	conversation string
}

func (l *chatLoop) prompt() string {
	if l.conversation == "" {
		return "new> "
	}
	id := l.conversation
	if len(id) > 8 {
		id = id[:8]
	}
	return id + "> "
}

// check ends the loop once the session is gone.
func (l *chatLoop) check(err error) error {
	if err != nil && !l.sm.IsAuthenticated() {
		return repl.Stop(err)
	}
	return err
}

func (l *chatLoop) send(ctx context.Context, message string) error {
	reply, err := l.chat.Send(ctx, message, l.conversation)
	if err != nil {
		return l.check(err)
	}
	l.conversation = reply.ConversationID
	fmt.Fprintln(l.rt.stdout, reply.Response)
	return nil
}

func (l *chatLoop) reset(context.Context, string) error {
	l.conversation = ""
	fmt.Fprintln(l.rt.stdout, "Next message starts a new conversation.")
	return nil
}

func (l *chatLoop) use(_ context.Context, id string) error {
	if id == "" {
		return domain.ErrInvalidArgument.WithDetails("usage: /use CONVERSATION_ID")
	}
	l.conversation = id
	return nil
}

func (l *chatLoop) history(ctx context.Context, args string) error {
	limit, err := limitArg(args, connection.DefaultHistoryLimit)
	if err != nil {
		return err
	}
	conversations, err := l.chat.Histories(ctx, limit)
	if err != nil {
		return l.check(err)
	}
	if len(conversations) == 0 {
		fmt.Fprintln(l.rt.stdout, "No conversations yet.")
		return nil
	}
	return l.rt.printer.Print(conversations)
}

func (l *chatLoop) show(ctx context.Context, args string) error {
	if l.conversation == "" {
		return domain.ErrInvalidArgument.WithDetails("no conversation yet")
	}
	limit, err := limitArg(args, connection.DefaultMessageLimit)
	if err != nil {
		return err
	}
	messages, err := l.chat.Messages(ctx, l.conversation, limit)
	if err != nil {
		return l.check(err)
	}
	return l.rt.printer.Print(messages)
}

func limitArg(args string, def int) (int, error) {
	if args == "" {
		return def, nil
	}
	n, err := strconv.Atoi(args)
	if err != nil || n <= 0 {
		return 0, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("limit must be a positive number, got %q", args))
	}
	return n, nil
}

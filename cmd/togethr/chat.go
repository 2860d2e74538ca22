package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/ashureev/togethr/internal/chat"
	"github.com/ashureev/togethr/internal/conversation"
	"github.com/ashureev/togethr/internal/domain"
	"github.com/ashureev/togethr/internal/render"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const replHelp = `Type a message and press Enter to send it.
  /1 … /6        send a suggested search
  /suggestions   list suggested searches
  /transcript    print the whole conversation
  /quit          exit`

func newChatCmd(opts *rootOptions) *cobra.Command {
	var colorFlag string

	cmd := &cobra.Command{
		Use:   "chat [userId] [query]",
		Short: "Start an interactive chat",
		Long: "Start an interactive chat. A URL-encoded query, as found in a\n" +
			"/search/{userId}/{query} link, is sent once when the chat opens.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := render.ParseColorMode(colorFlag)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var query string
			if len(args) == 2 {
				query = args[1]
			}
			return runChat(ctx, a, render.NewTerminal(opts.stdout, mode), opts.stdin, opts.stdout, query)
		},
	}
	cmd.Flags().StringVar(&colorFlag, "color", "auto", "auto, always or never")
	return cmd
}

// repl drives one chat session from line-oriented input.
type repl struct {
	session *chat.Session
	term    *render.Terminal
	out     io.Writer
	printed int
}

func runChat(ctx context.Context, a *app, term *render.Terminal, in io.Reader, out io.Writer, query string) error {
	id, err := a.resolver.GetOrCreate(ctx)
	if err != nil {
		slog.Warn("Continuing without guest identity", "error", err)
	}

	// The process is one tab: a fresh session id per run.
	tabID := uuid.NewString()
	conv := conversation.NewManager(tabID, a.sessions, a.backend, a.cfg.ConversationWait, slog.Default())
	session := chat.NewSession(id, conv, a.backend, a.metrics, slog.Default())
	defer session.Close()
	if id.IsComplete() {
		session.Start(ctx)
	}

	r := &repl{session: session, term: term, out: out}

	if query != "" {
		r.send(ctx, true, func(ctx context.Context) error { return session.AutoSend(ctx, query) })
	} else {
		r.printSuggestions()
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		r.prompt()
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := r.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle processes one input line and reports whether to exit.
func (r *repl) handle(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
	case trimmed == "/quit" || trimmed == "/exit":
		return true
	case trimmed == "/help":
		fmt.Fprintln(r.out, replHelp)
	case trimmed == "/suggestions":
		r.printSuggestions()
	case trimmed == "/transcript":
		if err := r.term.Transcript(r.session.Messages()); err != nil {
			slog.Error("Failed to render transcript", "error", err)
		}
	case strings.HasPrefix(trimmed, "/"):
		n, err := strconv.Atoi(strings.TrimPrefix(trimmed, "/"))
		if err != nil || n < 1 || n > len(domain.Suggestions) {
			fmt.Fprintf(r.out, "unknown command %q, try /help\n", trimmed)
			return false
		}
		r.session.SetInput(domain.Suggestions[n-1])
		r.send(ctx, true, r.session.Submit)
	default:
		r.session.SetInput(line)
		r.send(ctx, false, r.session.Submit)
	}
	return false
}

// send runs fn and prints what it appended. echoUser also prints the user's
// entry, for sends whose text was not typed at the prompt.
func (r *repl) send(ctx context.Context, echoUser bool, fn func(context.Context) error) {
	if err := r.term.Loading(); err != nil {
		slog.Debug("Failed to render loading indicator", "error", err)
	}
	err := fn(ctx)
	r.flush(echoUser)

	switch {
	case err == nil:
	case errors.Is(err, chat.ErrEmptyInput):
	case errors.Is(err, conversation.ErrMissingConversationID):
		fmt.Fprintln(r.out, "! Could not start a conversation yet, please try again.")
	default:
		fmt.Fprintf(r.out, "! %v\n", err)
	}
}

// flush prints the entries appended since the last flush.
func (r *repl) flush(echoUser bool) {
	msgs := r.session.Messages()
	for _, m := range msgs[r.printed:] {
		if m.Sender == domain.SenderUser && !echoUser {
			continue
		}
		if err := r.term.Message(m); err != nil {
			slog.Error("Failed to render message", "error", err)
		}
	}
	r.printed = len(msgs)
}

func (r *repl) printSuggestions() {
	fmt.Fprintln(r.out, "Try one of these:")
	for i, s := range domain.Suggestions {
		fmt.Fprintf(r.out, "  /%d  %s\n", i+1, s)
	}
}

func (r *repl) prompt() {
	fmt.Fprint(r.out, "> ")
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/respond"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/session"
)

const replHelp = `Commands:
  %reset   clear the conversation
  %info    show session information
  %help    show this help
  exit     leave the chat`

// runInteractiveChat runs the REPL until EOF or exit.
func runInteractiveChat(cmd *cobra.Command, args []string) error {
	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	var approver respond.Approver
	if !cfg.Interpreter.AutoRun {
		approver = &terminalApprover{in: in, out: out}
	}
	a, err := newApp(cmd.Context(), cfg, approver, true)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintln(out, headerStyle.Render("interp")+" "+outputStyle.Render(fmt.Sprintf("(%s) type %%help for commands", a.session.GetSystemInfo().Model)))
	r := newRenderer(out)

	for {
		fmt.Fprint(out, promptStyle.Render("> "))
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out)
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		switch {
		case input == "":
			continue
		case input == "exit" || input == "quit":
			return nil
		case strings.HasPrefix(input, "%"):
			if err := magic(a, out, input); err != nil {
				fmt.Fprintln(out, errorStyle.Render(err.Error()))
			}
			continue
		}

		if err := streamTurn(cmd.Context(), a, r, session.Text(input)); err != nil {
			fmt.Fprintln(out, errorStyle.Render(err.Error()))
		}
	}
}

// runInstruction runs one instruction to completion.
func runInstruction(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var approver respond.Approver
	if !cfg.Interpreter.AutoRun {
		approver = &terminalApprover{in: bufio.NewReader(cmd.InOrStdin()), out: out}
	}
	a, err := newApp(cmd.Context(), cfg, approver, true)
	if err != nil {
		return err
	}
	defer a.Close()

	return streamTurn(cmd.Context(), a, newRenderer(out), session.Text(strings.Join(args, " ")))
}

// streamTurn renders one turn and saves the conversation. Interrupt stops
// the turn rather than the program.
func streamTurn(parent context.Context, a *app, r *renderer, entry session.Entry) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	turn, err := a.session.Stream(ctx, entry)
	if err != nil {
		return err
	}
	for c := range turn.Chunks() {
		r.Handle(c)
	}
	r.end()

	if _, err := a.session.Save(); err != nil {
		logger.Warn("failed to save conversation", zap.Error(err))
	}

	err = turn.Err()
	var pe *session.ProducerError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(r.out, outputStyle.Render("(stopped)"))
		return nil
	case errors.As(err, &pe):
		// Already shown as an error chunk.
		return nil
	default:
		return err
	}
}

// magic handles %-prefixed REPL commands.
func magic(a *app, out io.Writer, input string) error {
	switch strings.Fields(input)[0] {
	case "%reset":
		if err := a.session.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(out, outputStyle.Render("conversation cleared"))
	case "%info":
		data, err := json.MarshalIndent(a.session.GetSystemInfo(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		if name := a.session.ConversationFilename(); name != "" {
			fmt.Fprintln(out, outputStyle.Render("conversation: "+name))
		}
	case "%help":
		fmt.Fprintln(out, replHelp)
	default:
		return fmt.Errorf("unknown command %s (try %%help)", input)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/conversation"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/server"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/usage"
)

// historyCmd groups conversation history commands
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect saved conversations",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved conversations, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h := conversation.History{Dir: cfg.GetHistoryDir()}
		records, err := h.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "No saved conversations.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTITLE\tMODIFIED")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Title, r.ModTime.Format(time.DateTime))
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Print a saved conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := conversation.History{Dir: cfg.GetHistoryDir()}
		msgs, err := h.Load(args[0])
		if err != nil {
			return err
		}
		r := newRenderer(cmd.OutOrStdout())
		for _, m := range msgs {
			if m.Role == types.RoleSystem {
				continue
			}
			c := m.Chunk()
			r.Handle(types.Chunk{Role: c.Role, Type: c.Type, Format: c.Format, Start: true})
			r.Handle(c)
			r.Handle(types.Chunk{Role: c.Role, Type: c.Type, Format: c.Format, End: true})
		}
		return nil
	},
}

// serveCmd exposes the session over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the interpreter over HTTP with server-sent events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr != "" {
			cfg.Server.Addr = addr
		}

		// No terminal to confirm on: code runs only with auto-run.
		a, err := newApp(cmd.Context(), cfg, nil, false)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", cfg.Server.Addr)
		return server.New(a.session, a.history, cfg).Run(ctx)
	},
}

// usageCmd prints usage statistics
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show turn, run and token statistics for this workspace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := usage.NewTracker(cfg.StatePath())
		if err != nil {
			return err
		}
		defer t.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		stats, err := t.Statistics(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACTION\tCOUNT\tAVG")
		for _, a := range stats.Actions {
			fmt.Fprintf(w, "%s\t%d\t%s\n", a.Action, a.Count, a.AvgDuration.Round(time.Millisecond))
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "MODEL\tINPUT\tOUTPUT")
		models := make([]string, 0, len(stats.ByModel))
		for m := range stats.ByModel {
			models = append(models, m)
		}
		sort.Strings(models)
		for _, m := range models {
			tc := stats.ByModel[m]
			fmt.Fprintf(w, "%s\t%d\t%d\n", m, tc.Input, tc.Output)
		}
		fmt.Fprintf(w, "total\t%d\t%d\n", stats.Total.Input, stats.Total.Output)
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nErrors reported: %d\n", stats.Errors)
		return nil
	},
}

// languagesCmd lists the configured runners
var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List the languages code can run in",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := buildRegistry(cfg)
		if err != nil {
			return err
		}
		for _, l := range reg.Languages() {
			fmt.Fprintln(cmd.OutOrStdout(), l)
		}
		return nil
	},
}

func init() {
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default from config)")
}

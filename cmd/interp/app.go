package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/config"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/conversation"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/llm"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/respond"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/runner"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/runner/golang"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/runner/html"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/runner/process"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/session"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/usage"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/workspace"
)

// app bundles everything a command needs to drive a session.
type app struct {
	cfg     *config.Config
	session *session.Session
	history *conversation.History
	tracker *usage.Tracker
}

// buildRegistry creates one runner per configured language and checks the
// result serves every language the config requires.
func buildRegistry(c *config.Config) (*runner.Registry, error) {
	limits := process.Config{
		Timeout:            c.GetRunTimeout(),
		MaxOutputBytes:     c.Runners.MaxOutputBytes,
		AllowedEnvironment: c.Runners.AllowedEnvVars,
	}

	reg, err := runner.NewRegistry(html.New())
	if err != nil {
		return nil, err
	}
	for _, ls := range c.Runners.Process {
		r, err := process.New(process.Spec{
			Language:   ls.Language,
			Binary:     ls.Binary,
			Args:       ls.Args,
			TraceLines: ls.TraceLines,
			Env:        ls.Env,
		}, limits)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(r); err != nil {
			return nil, err
		}
	}
	if c.Runners.Go.Enabled {
		if err := reg.Register(golang.New(c.Runners.Go.AllowedPackages, golang.WithTimeout(c.GetRunTimeout()))); err != nil {
			return nil, err
		}
	}

	if err := reg.Validate(c.Runners.Languages); err != nil {
		return nil, err
	}
	return reg, nil
}

// newApp wires a session for the loaded config. approver may be nil, in
// which case unconfirmed code is declined.
func newApp(ctx context.Context, c *config.Config, approver respond.Approver, inTerminal bool) (*app, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ws, err := workspace.New(c.Workspace)
	if err != nil {
		return nil, err
	}

	reg, err := buildRegistry(c)
	if err != nil {
		return nil, err
	}

	client, err := llm.New(ctx, c)
	if err != nil {
		return nil, err
	}

	tracker, err := usage.NewTracker(c.StatePath())
	if err != nil {
		// Usage is best effort.
		logger.Warn("usage tracking disabled", zap.Error(err))
		tracker = nil
	}

	history := &conversation.History{Dir: c.GetHistoryDir()}

	opts := []runner.DispatcherOption{}
	if tracker != nil {
		opts = append(opts, runner.WithTracker(tracker))
	}

	sess, err := session.New(session.Options{
		Config:     c,
		Client:     client,
		Dispatcher: runner.NewDispatcher(reg, ws, opts...),
		Approver:   approver,
		Workspace:  ws,
		Usage:      tracker,
		History:    history,
		InTerminal: inTerminal,
	})
	if err != nil {
		if tracker != nil {
			_ = tracker.Close()
		}
		return nil, err
	}

	logger.Debug("session ready",
		zap.String("session", sess.ID()),
		zap.String("provider", client.Provider()),
		zap.String("model", client.Model()),
		zap.Strings("languages", reg.Languages()))
	return &app{cfg: c, session: sess, history: history, tracker: tracker}, nil
}

// Close releases the session and the usage database.
func (a *app) Close() error {
	var errs []error
	if err := a.session.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.tracker != nil {
		if err := a.tracker.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Package session implements the conversation controller.
//
// A Session owns the conversation store and runs one turn at a time. A turn
// is a pull-driven pipeline:
//
//	model → respond (code → runner) → aggregate (store) → caller
//
// Turns are driven by the caller (Chat, Stream) or by a background goroutine
// (ChatAsync). A second turn started while one is responding fails with
// ErrBusy.
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/config"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/conversation"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/llm"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/respond"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/runner"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/truncate"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/usage"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/workspace"
)

// State is the controller state.
type State int

const (
	StateIdle State = iota
	StateResponding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResponding:
		return "responding"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Errors returned when a turn cannot start.
var (
	ErrBusy         = errors.New("session is already responding")
	ErrInvalidEntry = errors.New("invalid entry")
)

// ProducerError wraps a model client failure that ended a turn.
type ProducerError struct {
	Err error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("model producer failed: %v", e.Err)
}

func (e *ProducerError) Unwrap() error { return e.Err }

// Options wires a Session.
type Options struct {
	Config     *config.Config
	Client     llm.Client
	Dispatcher *runner.Dispatcher

	// Approver confirms code when auto-run is off.
	Approver respond.Approver

	// Optional collaborators.
	Workspace *workspace.Workspace
	Usage     *usage.Tracker
	History   *conversation.History

	// InTerminal marks sessions driven by the interactive CLI. It is only
	// reported with failure telemetry.
	InTerminal bool
}

// Session is the conversation controller.
type Session struct {
	id string

	cfg        *config.Config
	client     llm.Client
	dispatcher *runner.Dispatcher
	approver   respond.Approver
	ws         *workspace.Workspace
	tracker    *usage.Tracker
	history    *conversation.History
	inTerminal bool

	store *conversation.Store

	mu       sync.Mutex
	state    State
	current  *Turn
	filename string

	watcher   *workspace.Watcher
	fileOps   []func(workspace.FileOperation)
	stopWatch context.CancelFunc
}

// New creates a Session.
func New(opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, errors.New("session: config is required")
	}
	if opts.Client == nil {
		return nil, errors.New("session: model client is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("session: dispatcher is required")
	}

	s := &Session{
		id:         uuid.NewString(),
		cfg:        opts.Config,
		client:     opts.Client,
		dispatcher: opts.Dispatcher,
		approver:   opts.Approver,
		ws:         opts.Workspace,
		tracker:    opts.Usage,
		history:    opts.History,
		inTerminal: opts.InTerminal,
		store:      conversation.NewStore(),
	}
	logging.Session("session %s created: provider=%s model=%s", s.id, s.client.Provider(), s.client.Model())
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current controller state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the whole conversation.
func (s *Session) Messages() []types.Message {
	return s.store.Snapshot()
}

// Chat runs a turn to completion and returns the messages it added. The
// user entry itself is not part of the result. A model failure is returned
// as a *ProducerError alongside the messages, which end in the error record.
func (s *Session) Chat(ctx context.Context, entry Entry) ([]types.Message, error) {
	t, err := s.start(ctx, entry, true)
	if err != nil {
		return nil, err
	}
	for range t.Chunks() {
	}
	return t.Messages(), t.Err()
}

// Stream starts a turn driven by the caller through Turn.Chunks. The session
// stays Responding until the sequence is exhausted, the caller breaks out,
// or the turn is stopped.
func (s *Session) Stream(ctx context.Context, entry Entry) (*Turn, error) {
	return s.start(ctx, entry, false)
}

// ChatAsync runs a turn on a background goroutine, passing each chunk to
// callback. Failures other than model failures and cancellation are passed
// as a final computer/error chunk.
func (s *Session) ChatAsync(ctx context.Context, entry Entry, callback func(types.Chunk)) (*Turn, error) {
	t, err := s.start(ctx, entry, false)
	if err != nil {
		return nil, err
	}
	if callback == nil {
		callback = func(types.Chunk) {}
	}

	go func() {
		for c := range t.Chunks() {
			callback(c)
		}
		err := t.Err()
		var pe *ProducerError
		if err != nil && !errors.Is(err, context.Canceled) && !errors.As(err, &pe) {
			callback(types.ErrorChunk(err.Error()))
		}
	}()
	return t, nil
}

// Current returns the responding turn, or nil when idle.
func (s *Session) Current() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Stop cooperatively stops the responding turn, if any.
func (s *Session) Stop() {
	if t := s.Current(); t != nil {
		t.Stop()
	}
}

// Reset terminates all runners and clears the conversation.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return ErrBusy
	}

	err := s.dispatcher.Registry().TerminateAll()
	s.store.Reset()
	s.filename = ""
	logging.Session("session %s reset", s.id)
	return err
}

// Restore replaces the conversation without running a turn.
func (s *Session) Restore(msgs []types.Message) error {
	return s.restore(msgs, "")
}

// restore replaces the conversation and adopts filename in one critical
// section.
func (s *Session) restore(msgs []types.Message, filename string) error {
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return ErrBusy
	}
	s.store.Replace(msgs)
	s.filename = filename
	logging.Session("session %s restored %d messages", s.id, len(msgs))
	return nil
}

// Load restores a saved conversation by file name. Later saves overwrite
// the same file.
func (s *Session) Load(name string) error {
	if s.history == nil {
		return errors.New("conversation history is not configured")
	}
	msgs, err := s.history.Load(name)
	if err != nil {
		return err
	}
	return s.restore(msgs, name)
}

// ConversationFilename returns the history file of this conversation, or
// "" before the first save.
func (s *Session) ConversationFilename() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filename
}

// SystemInfo describes the running interpreter.
type SystemInfo struct {
	OS        string   `json:"os"`
	Offline   bool     `json:"offline"`
	Provider  string   `json:"provider"`
	Model     string   `json:"llm_model"`
	AutoRun   bool     `json:"auto_run"`
	SafeMode  bool     `json:"safe_mode"`
	Languages []string `json:"languages"`
	Workspace string   `json:"workspace,omitempty"`
}

// GetSystemInfo reports the interpreter's environment.
func (s *Session) GetSystemInfo() SystemInfo {
	info := SystemInfo{
		OS:        runtime.GOOS,
		Offline:   s.cfg.Interpreter.Offline,
		Provider:  s.client.Provider(),
		Model:     s.client.Model(),
		AutoRun:   s.cfg.Interpreter.AutoRun,
		SafeMode:  !s.cfg.Interpreter.AutoRun,
		Languages: s.dispatcher.Registry().Languages(),
	}
	if s.ws != nil {
		info.Workspace = s.ws.Root
	}
	return info
}

// OnFileOperation registers fn for file operations under the workspace.
// The watcher starts with the first registration and stops on Close.
func (s *Session) OnFileOperation(fn func(workspace.FileOperation)) error {
	if s.ws == nil {
		return errors.New("no workspace configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileOps = append(s.fileOps, fn)
	if s.watcher != nil {
		return nil
	}

	w, err := s.ws.NewWatcher(s.dispatchFileOp)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("start watcher: %w", err)
	}
	s.watcher = w
	s.stopWatch = cancel
	return nil
}

func (s *Session) dispatchFileOp(op workspace.FileOperation) {
	s.mu.Lock()
	handlers := slices.Clone(s.fileOps)
	s.mu.Unlock()

	logging.WorkspaceDebug("file %s: %s", op.Op, op.Path)
	for _, fn := range handlers {
		fn(op)
	}
}

// closeWait bounds how long Close waits for a stopped turn whose consumer
// no longer pulls chunks.
var closeWait = 5 * time.Second

// Close stops the responding turn, the file watcher and all runners.
func (s *Session) Close() error {
	s.Stop()
	if t := s.Current(); t != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeWait)
		_ = t.Wait(ctx)
		if ctx.Err() != nil {
			logging.SessionWarn("close: turn %s still running after %s", t.ID, closeWait)
		}
		cancel()
	}

	s.mu.Lock()
	w, cancel := s.watcher, s.stopWatch
	s.watcher, s.stopWatch, s.fileOps = nil, nil, nil
	s.mu.Unlock()
	if w != nil {
		cancel()
		w.Stop()
	}
	return s.dispatcher.Registry().TerminateAll()
}

// start acquires the turn guard and applies the entry.
func (s *Session) start(ctx context.Context, entry Entry, blocking bool) (*Turn, error) {
	msgs, replace, err := entry.normalize()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return nil, ErrBusy
	}

	if replace {
		s.store.Replace(msgs)
		s.filename = ""
	} else {
		for _, m := range msgs {
			s.store.Append(m)
		}
	}
	from := s.store.MarkCursor()

	t := newTurn(s, ctx, entry.Kind(), from, blocking)
	s.state = StateResponding
	s.current = t
	logging.Session("turn %s started: entry=%s cursor=%d", t.ID, entry.Kind(), from)
	return t, nil
}

// release returns the session to Idle.
func (s *Session) release(t *Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == t {
		s.current = nil
		s.state = StateIdle
	}
}

// Save writes the conversation to history and returns the file name. It
// is a no-op returning "" when history is disabled or the conversation is
// empty. Blocking turns save automatically; streaming callers save when
// they are done rendering.
func (s *Session) Save() (string, error) {
	if s.history == nil || !s.cfg.Interpreter.ConversationHistory {
		return "", nil
	}
	msgs := s.store.Snapshot()
	if len(msgs) == 0 {
		return "", nil
	}

	s.mu.Lock()
	if s.filename == "" {
		s.filename = conversation.Filename(msgs, time.Now())
	}
	name := s.filename
	s.mu.Unlock()

	if err := s.history.Save(name, msgs); err != nil {
		return "", err
	}
	return name, nil
}

func (s *Session) saveHistory() {
	if _, err := s.Save(); err != nil {
		logging.StoreError("save conversation %s: %v", s.ConversationFilename(), err)
	}
}

// respondConfig builds the producer configuration for one turn.
func (s *Session) respondConfig(t *Turn) respond.Config {
	ic := s.cfg.Interpreter
	system := ic.SystemMessage
	if ic.CustomInstructions != "" {
		system = strings.TrimSpace(system + "\n\n" + ic.CustomInstructions)
	}
	return respond.Config{
		Client:        s.client,
		Dispatcher:    s.dispatcher,
		Messages:      s.store.Snapshot,
		System:        system,
		Templates:     llm.TemplatesFromConfig(ic),
		AutoRun:       ic.AutoRun,
		Approver:      s.approver,
		MaxIterations: ic.MaxIterations,
		OnError:       t.fail,
	}
}

func (s *Session) truncator() *truncate.Truncator {
	return truncate.New(s.cfg.Interpreter.MaxOutput, s.cfg.Interpreter.ScrollbarHint)
}

// isLoopBreaker reports whether content ends loop mode.
func (s *Session) isLoopBreaker(content string) bool {
	content = strings.TrimSpace(content)
	for _, b := range s.cfg.Interpreter.LoopBreakers {
		if content == strings.TrimSpace(b) {
			return true
		}
	}
	return false
}

// reportFailure forwards a fatal turn error to the usage store when
// anonymous telemetry is enabled.
func (s *Session) reportFailure(ctx context.Context, kind string, err error) {
	if s.tracker == nil || !s.cfg.AnonymousTelemetry() {
		return
	}
	props := map[string]any{
		"error":                 err.Error(),
		"in_terminal_interface": s.inTerminal,
		"message_type":          kind,
		"os_mode":               false,
	}
	if err := s.tracker.ReportError(ctx, props); err != nil {
		logging.UsageWarn("report turn failure: %v", err)
	}
}

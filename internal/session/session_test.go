package session

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/config"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/conversation"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/llm"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/llm/llmtest"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/runner"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/usage"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/workspace"
)

// ignoreOpenCensus skips the stats worker started by an init in the model
// SDK's dependencies.
var ignoreOpenCensus = goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start")

// echoRunner answers every run with one output line.
type echoRunner struct {
	terminated atomic.Int32
}

func (r *echoRunner) Language() string { return "shell" }

func (r *echoRunner) Run(_ context.Context, code string) iter.Seq[types.Chunk] {
	return func(yield func(types.Chunk) bool) {
		yield(types.ConsoleOutput("out: " + code + "\n"))
	}
}

func (r *echoRunner) Terminate() error {
	r.terminated.Add(1)
	return nil
}

type fixture struct {
	session *Session
	runner  *echoRunner
	cfg     *config.Config
	ws      *workspace.Workspace
}

func newFixture(t *testing.T, client llm.Client, opts ...func(*Options)) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Interpreter.AutoRun = true
	cfg.Interpreter.ConversationHistory = false

	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)

	rn := &echoRunner{}
	reg, err := runner.NewRegistry(rn)
	require.NoError(t, err)

	o := Options{
		Config:     cfg,
		Client:     client,
		Dispatcher: runner.NewDispatcher(reg, ws),
		Workspace:  ws,
	}
	for _, fn := range opts {
		fn(&o)
	}

	s, err := New(o)
	require.NoError(t, err)
	return &fixture{session: s, runner: rn, cfg: cfg, ws: ws}
}

func assistant(content string) types.Message {
	return types.Message{Role: types.RoleAssistant, Type: types.TypeMessage, Content: content}
}

func output(content string) types.Message {
	return types.Message{Role: types.RoleComputer, Type: types.TypeConsole, Format: types.FormatOutput, Content: content}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Config: config.DefaultConfig()})
	assert.Error(t, err)
}

func TestChatReturnsNewMessages(t *testing.T) {
	f := newFixture(t, llmtest.Texts("```shell\nls\n```", "Listed."))

	msgs, err := f.session.Chat(context.Background(), Text("list files"))
	require.NoError(t, err)

	want := []types.Message{
		{Role: types.RoleAssistant, Type: types.TypeCode, Format: "shell", Content: "ls"},
		output("out: ls\n"),
		assistant("Listed."),
	}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("new messages mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, types.UserMessage("list files"), f.session.Messages()[0])
	assert.Equal(t, StateIdle, f.session.State())
}

func TestChatEmptyEntry(t *testing.T) {
	f := newFixture(t, llmtest.Texts("Try asking me to plot something."))

	_, err := f.session.Chat(context.Background(), Entry{})
	require.NoError(t, err)
	assert.Equal(t, types.UserMessage(EmptyEntryText), f.session.Messages()[0])
}

func TestEntryNormalize(t *testing.T) {
	msgs, replace, err := FromMessage(types.Message{Content: "hi"}).normalize()
	require.NoError(t, err)
	assert.False(t, replace)
	assert.Equal(t, []types.Message{types.UserMessage("hi")}, msgs)

	msgs, _, err = FromMessage(types.Message{Role: types.RoleUser, Type: types.TypeMessage}).normalize()
	require.NoError(t, err)
	assert.Equal(t, EmptyEntryText, msgs[0].Content)

	_, _, err = FromHistory([]types.Message{{Role: "robot", Type: types.TypeMessage}}).normalize()
	assert.ErrorIs(t, err, types.ErrInvalidRole)

	assert.Equal(t, "history", FromHistory([]types.Message{}).Kind())
	assert.Equal(t, "text", Text("x").Kind())
	assert.Equal(t, "empty", Entry{}.Kind())
}

func TestHistoryEntryReplacesConversation(t *testing.T) {
	f := newFixture(t, llmtest.Texts("first", "Welcome back."))
	_, err := f.session.Chat(context.Background(), Text("hello"))
	require.NoError(t, err)

	restored := []types.Message{types.UserMessage("old question"), assistant("old answer")}
	msgs, err := f.session.Chat(context.Background(), FromHistory(restored))
	require.NoError(t, err)

	assert.Equal(t, []types.Message{assistant("Welcome back.")}, msgs)
	assert.Equal(t, append(restored, assistant("Welcome back.")), f.session.Messages())
}

func TestStreamEmitsFramesAndReturnsToIdle(t *testing.T) {
	f := newFixture(t, llmtest.Texts("Hello"))

	turn, err := f.session.Stream(context.Background(), Text("hi"))
	require.NoError(t, err)
	assert.Equal(t, StateResponding, f.session.State())

	var got []types.Chunk
	for c := range turn.Chunks() {
		got = append(got, c)
	}

	assert.Equal(t, []types.Chunk{
		{Role: types.RoleAssistant, Type: types.TypeMessage, Start: true},
		types.AssistantMessage("Hello"),
		{Role: types.RoleAssistant, Type: types.TypeMessage, End: true},
	}, got)
	assert.Equal(t, StateIdle, f.session.State())
	assert.NoError(t, turn.Err())

	// A turn's chunks can be consumed once.
	for range turn.Chunks() {
		t.Fatal("second iteration yielded a chunk")
	}
}

func TestStreamBreakReturnsToIdle(t *testing.T) {
	f := newFixture(t, llmtest.Texts("```shell\nls\n```", "done"))

	turn, err := f.session.Stream(context.Background(), Text("hi"))
	require.NoError(t, err)
	for range turn.Chunks() {
		break
	}

	assert.Equal(t, StateIdle, f.session.State())
	assert.NoError(t, turn.Err())
	select {
	case <-turn.Done():
	default:
		t.Fatal("turn not done after break")
	}
}

func TestBusyGuard(t *testing.T) {
	f := newFixture(t, llmtest.Texts("one"))

	turn, err := f.session.Stream(context.Background(), Text("first"))
	require.NoError(t, err)

	_, err = f.session.Stream(context.Background(), Text("second"))
	assert.ErrorIs(t, err, ErrBusy)
	_, err = f.session.Chat(context.Background(), Text("second"))
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, f.session.Reset(), ErrBusy)
	assert.ErrorIs(t, f.session.Restore(nil), ErrBusy)
	assert.Same(t, turn, f.session.Current())

	turn.Stop()
	assert.Equal(t, StateIdle, f.session.State())
	assert.ErrorIs(t, turn.Err(), context.Canceled)
	assert.Nil(t, f.session.Current())
}

func TestChatAsyncDeliversChunks(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	f := newFixture(t, llmtest.Texts("```shell\necho hi\n```", "It said hi."))

	var (
		mu  sync.Mutex
		got []types.Chunk
	)
	turn, err := f.session.ChatAsync(context.Background(), Text("say hi"), func(c types.Chunk) {
		mu.Lock()
		defer mu.Unlock()
		if !c.IsFrame() {
			got = append(got, c)
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, turn.Wait(ctx))

	// The callback goroutine may still be returning after Done.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []types.Chunk{
		types.AssistantCode("shell", "echo hi"),
		types.ConsoleOutput("out: echo hi\n"),
		types.AssistantMessage("It said hi."),
	}, got)
	assert.Equal(t, StateIdle, f.session.State())
}

func TestChatAsyncStop(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	f := newFixture(t, llmtest.New(llmtest.Reply{Text: "thinking", Block: true}))

	first := make(chan struct{})
	var once sync.Once
	turn, err := f.session.ChatAsync(context.Background(), Text("ponder"), func(types.Chunk) {
		once.Do(func() { close(first) })
	})
	require.NoError(t, err)

	<-first
	turn.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, turn.Wait(ctx), context.Canceled)
	assert.Equal(t, StateIdle, f.session.State())

	// Give the callback goroutine time to return before the leak check.
	time.Sleep(20 * time.Millisecond)
}

func TestCancellationAfterTwoOfFiveChunks(t *testing.T) {
	client := llmtest.Texts("abcde")
	client.DeltaSize = 1
	f := newFixture(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	turn, err := f.session.Stream(ctx, Text("letters"))
	require.NoError(t, err)

	var content []types.Chunk
	var ends int
	for c := range turn.Chunks() {
		if c.End {
			ends++
		}
		if c.IsFrame() {
			continue
		}
		content = append(content, c)
		if len(content) == 2 {
			cancel()
		}
	}

	assert.Equal(t, []types.Chunk{types.AssistantMessage("a"), types.AssistantMessage("b")}, content)
	assert.Zero(t, ends)
	assert.Equal(t, []types.Message{assistant("ab")}, turn.Messages())
	assert.Equal(t, StateIdle, f.session.State())
	assert.ErrorIs(t, turn.Err(), context.Canceled)
}

func TestLoopModeContinuesUntilBreaker(t *testing.T) {
	client := llmtest.Texts("Working on it.", "The task is done.", "never reached")
	f := newFixture(t, client)
	f.cfg.Interpreter.Loop = true

	msgs, err := f.session.Chat(context.Background(), Text("do the thing"))
	require.NoError(t, err)

	assert.Equal(t, []types.Message{
		assistant("Working on it."),
		types.UserMessage(config.DefaultLoopMessage),
		assistant("The task is done."),
	}, msgs)
	assert.Len(t, client.Requests(), 2)
}

func TestLoopModeBoundedByMaxIterations(t *testing.T) {
	client := llmtest.Texts("a", "b", "c", "d")
	f := newFixture(t, client)
	f.cfg.Interpreter.Loop = true
	f.cfg.Interpreter.MaxIterations = 2

	_, err := f.session.Chat(context.Background(), Text("go"))
	require.NoError(t, err)
	assert.Len(t, client.Requests(), 2)
}

func TestProducerFailureBecomesErrorChunkAndTelemetry(t *testing.T) {
	tracker, err := usage.NewTracker(t.TempDir())
	require.NoError(t, err)
	defer tracker.Close()

	boom := errors.New("rate limited")
	f := newFixture(t, llmtest.New(llmtest.Reply{Text: "Let me", Err: boom}), func(o *Options) {
		o.Usage = tracker
	})
	f.cfg.Interpreter.DisableTelemetry = false
	f.cfg.Interpreter.Offline = false

	msgs, err := f.session.Chat(context.Background(), Text("hi"))

	var pe *ProducerError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, types.Message{Role: types.RoleComputer, Type: types.TypeError, Content: "rate limited"}, msgs[len(msgs)-1])
	assert.Equal(t, StateIdle, f.session.State())

	stats, err := tracker.Statistics(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Errors)
}

func TestProducerFailureNotReportedWhenTelemetryDisabled(t *testing.T) {
	tracker, err := usage.NewTracker(t.TempDir())
	require.NoError(t, err)
	defer tracker.Close()

	f := newFixture(t, llmtest.New(llmtest.Reply{Err: errors.New("down")}), func(o *Options) {
		o.Usage = tracker
	})
	f.cfg.Interpreter.DisableTelemetry = true

	_, err = f.session.Chat(context.Background(), Text("hi"))
	require.Error(t, err)

	stats, err := tracker.Statistics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Errors)
}

func TestResetTerminatesRunners(t *testing.T) {
	f := newFixture(t, llmtest.Texts("hello"))
	_, err := f.session.Chat(context.Background(), Text("hi"))
	require.NoError(t, err)

	require.NoError(t, f.session.Reset())
	assert.Empty(t, f.session.Messages())
	assert.EqualValues(t, 1, f.runner.terminated.Load())
}

func TestUnsupportedLanguageDoesNotEndTurn(t *testing.T) {
	f := newFixture(t, llmtest.Texts("```cobol\nDISPLAY 'HI'.\n```", "ok"))

	msgs, err := f.session.Chat(context.Background(), Text("say hi in cobol"))
	require.NoError(t, err)
	assert.Equal(t, StateIdle, f.session.State())

	require.Len(t, msgs, 4)
	assert.Equal(t, types.Message{Role: types.RoleAssistant, Type: types.TypeCode, Format: "cobol", Content: "DISPLAY 'HI'."}, msgs[0])
	assert.Equal(t, types.PlaceholderOutput(), msgs[1])
	assert.Equal(t, types.RoleComputer, msgs[2].Role)
	assert.Equal(t, types.TypeError, msgs[2].Type)
	assert.Contains(t, msgs[2].Content, "cobol")
	assert.Equal(t, assistant("ok"), msgs[3])
}

func TestCloseDoesNotWaitForStalledConsumer(t *testing.T) {
	old := closeWait
	closeWait = 50 * time.Millisecond
	t.Cleanup(func() { closeWait = old })

	client := llmtest.Texts("abcde")
	client.DeltaSize = 1
	f := newFixture(t, client)

	turn, err := f.session.Stream(context.Background(), Text("hi"))
	require.NoError(t, err)
	next, stop := iter.Pull(turn.Chunks())
	_, ok := next()
	require.True(t, ok)

	start := time.Now()
	require.NoError(t, f.session.Close())
	assert.Less(t, time.Since(start), 2*time.Second)

	stop()
	assert.Equal(t, StateIdle, f.session.State())
	assert.ErrorIs(t, turn.Err(), context.Canceled)
}

func TestRestore(t *testing.T) {
	f := newFixture(t, llmtest.Texts())
	msgs := []types.Message{types.UserMessage("q"), assistant("a")}

	require.NoError(t, f.session.Restore(msgs))
	assert.Equal(t, msgs, f.session.Messages())

	err := f.session.Restore([]types.Message{{Role: types.RoleUser, Type: "image"}})
	assert.ErrorIs(t, err, types.ErrInvalidType)
}

func TestChatSavesHistoryUnderOneFilename(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, llmtest.Texts("one", "two"), func(o *Options) {
		o.History = &conversation.History{Dir: dir}
	})
	f.cfg.Interpreter.ConversationHistory = true

	_, err := f.session.Chat(context.Background(), Text("Plot the sine wave please"))
	require.NoError(t, err)
	name := f.session.ConversationFilename()
	require.NotEmpty(t, name)
	assert.Regexp(t, `^Plot_the_sine_wave__`, name)

	_, err = f.session.Chat(context.Background(), Text("again"))
	require.NoError(t, err)
	assert.Equal(t, name, f.session.ConversationFilename())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	saved, err := (&conversation.History{Dir: dir}).Load(name)
	require.NoError(t, err)
	assert.Equal(t, f.session.Messages(), saved)

	g := newFixture(t, llmtest.Texts(), func(o *Options) {
		o.History = &conversation.History{Dir: dir}
	})
	require.NoError(t, g.session.Load(name))
	assert.Equal(t, saved, g.session.Messages())
	assert.Equal(t, name, g.session.ConversationFilename())

	require.NoError(t, g.session.Restore(nil))
	assert.Empty(t, g.session.ConversationFilename())
}

func TestStreamDoesNotSaveUntilAsked(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, llmtest.Texts("hello"), func(o *Options) {
		o.History = &conversation.History{Dir: dir}
	})
	f.cfg.Interpreter.ConversationHistory = true

	turn, err := f.session.Stream(context.Background(), Text("say hello"))
	require.NoError(t, err)
	for range turn.Chunks() {
	}
	assert.Empty(t, f.session.ConversationFilename())

	name, err := f.session.Save()
	require.NoError(t, err)
	assert.Regexp(t, `^say__`, name)
	assert.FileExists(t, filepath.Join(dir, name))

	f.cfg.Interpreter.ConversationHistory = false
	name, err = f.session.Save()
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestGetSystemInfo(t *testing.T) {
	f := newFixture(t, llmtest.Texts())
	info := f.session.GetSystemInfo()

	assert.Equal(t, "scripted", info.Model)
	assert.Equal(t, []string{"shell"}, info.Languages)
	assert.True(t, info.AutoRun)
	assert.False(t, info.SafeMode)
	assert.Equal(t, f.ws.Root, info.Workspace)
}

func TestOnFileOperation(t *testing.T) {
	f := newFixture(t, llmtest.Texts())

	var (
		mu  sync.Mutex
		ops []workspace.FileOperation
	)
	require.NoError(t, f.session.OnFileOperation(func(op workspace.FileOperation) {
		mu.Lock()
		defer mu.Unlock()
		ops = append(ops, op)
	}))
	defer f.session.Close()

	require.NoError(t, os.WriteFile(filepath.Join(f.ws.Root, "made.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, op := range ops {
			if op.Path == "made.txt" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "responding", StateResponding.String())
	assert.Equal(t, "State(7)", State(7).String())
}

package respond

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/aggregate"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/conversation"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/llm"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/llm/llmtest"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
)

type call struct{ language, code string }

type echoDispatcher struct {
	mu    sync.Mutex
	calls []call
}

func (d *echoDispatcher) Dispatch(ctx context.Context, language, code string) iter.Seq[types.Chunk] {
	d.mu.Lock()
	d.calls = append(d.calls, call{language, code})
	d.mu.Unlock()
	return func(yield func(types.Chunk) bool) {
		yield(types.ConsoleOutput("ran " + code + "\n"))
	}
}

func (d *echoDispatcher) Calls() []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]call(nil), d.calls...)
}

var templates = llm.Templates{
	CodeOutput:       "Out: {content}",
	EmptyCodeOutput:  "No output",
	CodeOutputSender: llm.RoleUser,
}

// turn runs one aggregated turn against a store seeded with a user message.
func turn(t *testing.T, ctx context.Context, cfg Config, autoRun bool) ([]types.Chunk, *conversation.Store) {
	t.Helper()
	store := conversation.NewStore(types.UserMessage("print one"))
	cfg.Messages = store.Snapshot
	cfg.Templates = templates
	cfg.AutoRun = autoRun

	var out []types.Chunk
	for c := range aggregate.Aggregate(ctx, Respond(ctx, cfg), store, aggregate.Options{AutoRun: autoRun}) {
		if !c.IsFrame() {
			out = append(out, c)
		}
	}
	return out, store
}

func TestRespondRunsCodeAndReprompts(t *testing.T) {
	client := llmtest.Texts("Running:\n```python\nprint(1)\n```\n", "It printed.")
	client.DeltaSize = 3
	d := &echoDispatcher{}

	_, store := turn(t, context.Background(), Config{Client: client, Dispatcher: d}, true)

	want := []types.Message{
		types.UserMessage("print one"),
		{Role: types.RoleAssistant, Type: types.TypeMessage, Content: "Running:\n"},
		{Role: types.RoleAssistant, Type: types.TypeCode, Format: "python", Content: "print(1)"},
		{Role: types.RoleComputer, Type: types.TypeConsole, Format: types.FormatOutput, Content: "ran print(1)\n"},
		{Role: types.RoleAssistant, Type: types.TypeMessage, Content: "It printed."},
	}
	if diff := cmp.Diff(want, store.Snapshot()); diff != "" {
		t.Errorf("conversation mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []call{{"python", "print(1)"}}, d.Calls())

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	second := reqs[1].Messages
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "Out: ran print(1)\n"}, second[len(second)-1])
}

func TestRespondEmitsConfirmationWhenNotAutoRun(t *testing.T) {
	client := llmtest.Texts("```shell\nls\n```", "done")
	d := &echoDispatcher{}
	var asked []call
	approver := ApproverFunc(func(_ context.Context, language, code string) (bool, error) {
		asked = append(asked, call{language, code})
		return true, nil
	})

	chunks, _ := turn(t, context.Background(), Config{Client: client, Dispatcher: d, Approver: approver}, false)

	assert.Contains(t, chunks, types.Confirmation("shell", "ls"))
	assert.Equal(t, []call{{"shell", "ls"}}, asked)
	assert.Equal(t, []call{{"shell", "ls"}}, d.Calls())
}

func TestRespondDeclinedStopsTurn(t *testing.T) {
	client := llmtest.Texts("```shell\nrm -rf /tmp/x\n```", "never")
	d := &echoDispatcher{}
	approver := ApproverFunc(func(context.Context, string, string) (bool, error) { return false, nil })

	chunks, store := turn(t, context.Background(), Config{Client: client, Dispatcher: d, Approver: approver}, false)

	assert.Equal(t, types.Confirmation("shell", "rm -rf /tmp/x"), chunks[len(chunks)-1])
	assert.Empty(t, d.Calls())
	assert.Len(t, client.Requests(), 1)

	last, ok := store.Last()
	require.True(t, ok)
	assert.Equal(t, types.PlaceholderOutput(), last)
}

func TestRespondNilApproverDeclines(t *testing.T) {
	client := llmtest.Texts("```shell\nls\n```")
	d := &echoDispatcher{}

	turn(t, context.Background(), Config{Client: client, Dispatcher: d}, false)
	assert.Empty(t, d.Calls())
}

func TestRespondApproverErrorFailsTurn(t *testing.T) {
	client := llmtest.Texts("```shell\nls\n```")
	var reported error
	approver := ApproverFunc(func(context.Context, string, string) (bool, error) { return false, errors.New("stdin closed") })

	chunks, _ := turn(t, context.Background(), Config{
		Client:     client,
		Dispatcher: &echoDispatcher{},
		Approver:   approver,
		OnError:    func(err error) { reported = err },
	}, false)

	require.Error(t, reported)
	assert.Contains(t, reported.Error(), "stdin closed")
	assert.Equal(t, types.TypeError, chunks[len(chunks)-1].Type)
}

func TestRespondTrailingTextDoesNotRun(t *testing.T) {
	client := llmtest.Texts("```shell\nls\n```\nThat lists files.")
	d := &echoDispatcher{}

	turn(t, context.Background(), Config{Client: client, Dispatcher: d}, true)
	assert.Empty(t, d.Calls())
}

func TestRespondStopsAtMaxIterations(t *testing.T) {
	client := llmtest.Texts("```shell\necho 1\n```", "```shell\necho 2\n```", "```shell\necho 3\n```")
	d := &echoDispatcher{}

	turn(t, context.Background(), Config{Client: client, Dispatcher: d, MaxIterations: 2}, true)

	assert.Len(t, client.Requests(), 2)
	assert.Equal(t, []call{{"shell", "echo 1"}, {"shell", "echo 2"}}, d.Calls())
}

func TestRespondModelErrorBecomesErrorChunk(t *testing.T) {
	boom := errors.New("quota exceeded")
	client := llmtest.New(llmtest.Reply{Text: "Let me", Err: boom})
	var reported error

	chunks, store := turn(t, context.Background(), Config{
		Client:     client,
		Dispatcher: &echoDispatcher{},
		OnError:    func(err error) { reported = err },
	}, true)

	assert.ErrorIs(t, reported, boom)
	assert.Equal(t, []types.Chunk{
		types.AssistantMessage("Let me"),
		types.ErrorChunk("quota exceeded"),
	}, chunks)

	last, _ := store.Last()
	assert.Equal(t, types.Message{Role: types.RoleComputer, Type: types.TypeError, Content: "quota exceeded"}, last)
}

func TestRespondCancellationIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := llmtest.New(llmtest.Reply{Text: "thinking", Block: true})
	var reported error
	cfg := Config{
		Client:     client,
		Dispatcher: &echoDispatcher{},
		Messages:   func() []types.Message { return []types.Message{types.UserMessage("x")} },
		AutoRun:    true,
		OnError:    func(err error) { reported = err },
	}

	var got []types.Chunk
	for c := range Respond(ctx, cfg) {
		got = append(got, c)
		cancel()
	}

	assert.Equal(t, []types.Chunk{types.AssistantMessage("thinking")}, got)
	assert.NoError(t, reported)
}

func TestTrailingCodeStartsNewBlockAfterGap(t *testing.T) {
	var tc trailingCode
	tc.observe(types.AssistantCode("shell", "ls"))
	tc.observe(types.AssistantMessage("\n"))
	tc.observe(types.AssistantCode("shell", "pwd"))

	language, code, ok := tc.block()
	require.True(t, ok)
	assert.Equal(t, "shell", language)
	assert.Equal(t, "pwd", code)

	tc.observe(types.AssistantMessage("done"))
	_, _, ok = tc.block()
	assert.False(t, ok)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/config"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/conversation"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/llm/llmtest"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/runner"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/session"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/workspace"
)

type nopRunner struct{}

func (nopRunner) Language() string { return "shell" }

func (nopRunner) Run(context.Context, string) iter.Seq[types.Chunk] {
	return func(yield func(types.Chunk) bool) { yield(types.ConsoleOutput("ok\n")) }
}

func (nopRunner) Terminate() error { return nil }

func setup(t *testing.T, replies ...string) (*Server, *session.Session, *conversation.History) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.Interpreter.AutoRun = true
	cfg.Interpreter.ConversationHistory = false

	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	reg, err := runner.NewRegistry(nopRunner{})
	require.NoError(t, err)

	history := &conversation.History{Dir: t.TempDir()}
	sess, err := session.New(session.Options{
		Config:     cfg,
		Client:     llmtest.Texts(replies...),
		Dispatcher: runner.NewDispatcher(reg, ws),
		Workspace:  ws,
		History:    history,
	})
	require.NoError(t, err)

	return New(sess, history, cfg), sess, history
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _, _ := setup(t)
	w := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv, _, _ := setup(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestChatBlocking(t *testing.T) {
	srv, _, _ := setup(t, "```shell\nls\n```", "Done.")

	w := do(t, srv, http.MethodPost, "/v1/chat/blocking", ChatRequest{Message: "list"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Error)
	assert.Equal(t, []types.Message{
		{Role: types.RoleAssistant, Type: types.TypeCode, Format: "shell", Content: "ls"},
		{Role: types.RoleComputer, Type: types.TypeConsole, Format: types.FormatOutput, Content: "ok\n"},
		{Role: types.RoleAssistant, Type: types.TypeMessage, Content: "Done."},
	}, resp.Messages)

	w = do(t, srv, http.MethodGet, "/v1/messages", nil)
	var all struct {
		Messages []types.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all.Messages, 4)
}

func TestChatStreamSendsEvents(t *testing.T) {
	srv, sess, _ := setup(t, "Hello there")

	w := do(t, srv, http.MethodPost, "/v1/chat", ChatRequest{Message: "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream"), w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Equal(t, 3, strings.Count(body, "event:chunk"))
	assert.Contains(t, body, `"content":"Hello there"`)
	assert.Contains(t, body, `"start":true`)
	assert.Contains(t, body, "event:done")
	assert.Equal(t, session.StateIdle, sess.State())
}

func TestChatRejectsBadJSON(t *testing.T) {
	srv, _, _ := setup(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/blocking", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatRejectsInvalidHistory(t *testing.T) {
	srv, _, _ := setup(t)
	w := do(t, srv, http.MethodPost, "/v1/chat/blocking", ChatRequest{
		Messages: []types.Message{{Role: "robot", Type: types.TypeMessage}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBusySessionAndStop(t *testing.T) {
	srv, sess, _ := setup(t, "slow")

	turn, err := sess.Stream(context.Background(), session.Text("hold"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusConflict, do(t, srv, http.MethodPost, "/v1/chat/blocking", ChatRequest{Message: "x"}).Code)
	assert.Equal(t, http.StatusConflict, do(t, srv, http.MethodPost, "/v1/chat", ChatRequest{Message: "x"}).Code)
	assert.Equal(t, http.StatusConflict, do(t, srv, http.MethodPost, "/v1/reset", nil).Code)

	var state map[string]any
	require.NoError(t, json.Unmarshal(do(t, srv, http.MethodGet, "/v1/state", nil).Body.Bytes(), &state))
	assert.Equal(t, "responding", state["state"])

	w := do(t, srv, http.MethodPost, "/v1/stop", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"stopped":true}`, w.Body.String())
	assert.ErrorIs(t, turn.Err(), context.Canceled)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/v1/reset", nil).Code)
	assert.Empty(t, sess.Messages())
}

func TestHistoryListAndRestore(t *testing.T) {
	srv, sess, history := setup(t)

	saved := []types.Message{types.UserMessage("old"), {Role: types.RoleAssistant, Type: types.TypeMessage, Content: "reply"}}
	require.NoError(t, history.Save("old__January_01_2025_10-00-00.json", saved))

	w := do(t, srv, http.MethodGet, "/v1/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "old__January_01_2025_10-00-00.json")

	w = do(t, srv, http.MethodPost, "/v1/history/old__January_01_2025_10-00-00.json/restore", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, saved, sess.Messages())

	w = do(t, srv, http.MethodPost, "/v1/history/missing.json/restore", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/conversation"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/session"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
)

// ChatRequest starts a turn. Messages, when present, replaces the
// conversation; otherwise Message is submitted as a user message.
type ChatRequest struct {
	Message  string          `json:"message"`
	Messages []types.Message `json:"messages"`
}

func (r ChatRequest) entry() session.Entry {
	if r.Messages != nil {
		return session.FromHistory(r.Messages)
	}
	return session.Text(r.Message)
}

// ChatResponse is the result of a blocking turn.
type ChatResponse struct {
	Messages []types.Message `json:"messages"`
	Error    string          `json:"error,omitempty"`
}

// DoneEvent closes an event stream.
type DoneEvent struct {
	TurnID string `json:"turn_id"`
	Error  string `json:"error,omitempty"`
}

type handler struct {
	session *session.Session
	history *conversation.History
}

func (h *handler) State(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":        h.session.State().String(),
		"session_id":   h.session.ID(),
		"conversation": h.session.ConversationFilename(),
		"system":       h.session.GetSystemInfo(),
	})
}

func (h *handler) Messages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": h.session.Messages()})
}

func (h *handler) ChatStream(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	turn, err := h.session.Stream(c.Request.Context(), req.entry())
	if err != nil {
		writeStartError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	for chunk := range turn.Chunks() {
		c.SSEvent("chunk", chunk)
		c.Writer.Flush()
	}

	done := DoneEvent{TurnID: turn.ID}
	if err := turn.Err(); err != nil {
		done.Error = err.Error()
	}
	c.SSEvent("done", done)
	c.Writer.Flush()
}

func (h *handler) ChatBlocking(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msgs, err := h.session.Chat(c.Request.Context(), req.entry())
	if errors.Is(err, session.ErrBusy) || errors.Is(err, session.ErrInvalidEntry) {
		writeStartError(c, err)
		return
	}

	resp := ChatResponse{Messages: msgs}
	if resp.Messages == nil {
		resp.Messages = []types.Message{}
	}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) Stop(c *gin.Context) {
	stopped := h.session.Current() != nil
	h.session.Stop()
	c.JSON(http.StatusAccepted, gin.H{"stopped": stopped})
}

func (h *handler) Reset(c *gin.Context) {
	if err := h.session.Reset(); err != nil {
		if errors.Is(err, session.ErrBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logging.ServerError("reset: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.session.State().String()})
}

func (h *handler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"conversations": []conversation.Record{}})
		return
	}
	records, err := h.history.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []conversation.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": records})
}

func (h *handler) RestoreHistory(c *gin.Context) {
	name := c.Param("name")
	if err := h.session.Load(name); err != nil {
		switch {
		case errors.Is(err, conversation.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrBusy):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": h.session.Messages()})
}

func writeStartError(c *gin.Context, err error) {
	if errors.Is(err, session.ErrBusy) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// Package server exposes one interpreter Session over HTTP. Streaming turns
// are delivered as server-sent events, one "chunk" event per chunk.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/config"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/conversation"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/session"
)

// RequestIDHeader carries the request correlation ID.
const RequestIDHeader = "X-Request-ID"

// Server serves a Session.
type Server struct {
	session *session.Session
	history *conversation.History
	cfg     config.ServerConfig
	read    time.Duration
	write   time.Duration
	engine  *gin.Engine
}

// New builds the HTTP surface for sess. history may be nil.
func New(sess *session.Session, history *conversation.History, cfg *config.Config) *Server {
	read, write := cfg.GetServerTimeouts()
	s := &Server{
		session: sess,
		history: history,
		cfg:     cfg.Server,
		read:    read,
		write:   write,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	s.routes(router)
	s.engine = router
	return s
}

func (s *Server) routes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handler{session: s.session, history: s.history}
	v1 := router.Group("/v1")
	{
		v1.GET("/state", h.State)
		v1.GET("/messages", h.Messages)
		v1.POST("/chat", h.ChatStream)
		v1.POST("/chat/blocking", h.ChatBlocking)
		v1.POST("/stop", h.Stop)
		v1.POST("/reset", h.Reset)
		v1.GET("/history", h.History)
		v1.POST("/history/:name/restore", h.RestoreHistory)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.read,
		WriteTimeout:      s.write,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Server("http server listening on %s", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Server("shutting down http server")
	s.session.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.ServerError("http server shutdown: %v", err)
		return err
	}
	return <-errCh
}

// requestLogger tags each request with a correlation ID and logs it.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)

		log := logging.WithRequestID(logging.CategoryServer, id)
		start := time.Now()
		c.Next()
		log.WithField("status", c.Writer.Status()).
			WithField("duration", time.Since(start).String()).
			Info("%s %s", c.Request.Method, c.Request.URL.Path)
	}
}

package control

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"campus_call/native/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/pion/logging"
)

// Caller is the UI-facing call API.
type Caller interface {
	StartCall(ctx context.Context, target domain.ParticipantID) error
	Accept(ctx context.Context) error
	Reject(ctx context.Context) error
	End(ctx context.Context) error
	ToggleAudio(ctx context.Context) error
	ToggleVideo(ctx context.Context) error
	ToggleScreenShare(ctx context.Context) error
	Snapshot() domain.CallSnapshot
	Diagnostics() domain.Diagnostics
	OnEvent(fn func(domain.CallEvent)) (cancel func())
}

// HistoryReader lists finished calls.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]domain.CallRecord, error)
}

type startRequest struct {
	Target string `json:"target" binding:"required"`
}

// Server exposes the call API over HTTP for the local UI.
type Server struct {
	caller  Caller
	history HistoryReader
	log     logging.LeveledLogger
	router  *gin.Engine
	http    *http.Server
}

// NewServer builds the router. history may be nil when the ledger is disabled.
func NewServer(addr string, caller Caller, history HistoryReader, lf logging.LoggerFactory) *Server {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	s := &Server{
		caller:  caller,
		history: history,
		log:     lf.NewLogger("control"),
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/call")
	{
		api.GET("", s.snapshot)
		api.GET("/diagnostics", s.diagnostics)
		api.GET("/history", s.recent)
		api.GET("/events", s.events)

		api.POST("/start", s.start)
		api.POST("/accept", s.action(caller.Accept))
		api.POST("/reject", s.action(caller.Reject))
		api.POST("/end", s.action(caller.End))
		api.POST("/toggle/audio", s.action(caller.ToggleAudio))
		api.POST("/toggle/video", s.action(caller.ToggleVideo))
		api.POST("/toggle/screen", s.action(caller.ToggleScreenShare))
	}

	s.router = router
	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Infof("control surface on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debugf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
}

func (s *Server) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.caller.Snapshot())
}

func (s *Server) diagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, s.caller.Diagnostics())
}

func (s *Server) recent(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call history disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	recs, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		s.log.Errorf("read history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read call history"})
		return
	}
	if recs == nil {
		recs = []domain.CallRecord{}
	}
	c.JSON(http.StatusOK, recs)
}

func (s *Server) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.caller.StartCall(c.Request.Context(), domain.ParticipantID(req.Target)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.caller.Snapshot())
}

func (s *Server) action(fn func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(c.Request.Context()); err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, s.caller.Snapshot())
	}
}

// events streams call events as server-sent events, starting with the
// current snapshot.
func (s *Server) events(c *gin.Context) {
	ch := make(chan domain.CallEvent, 32)
	cancel := s.caller.OnEvent(func(ev domain.CallEvent) {
		select {
		case ch <- ev:
		default:
			s.log.Warnf("event stream backlogged, dropping %s event", ev.Kind)
		}
	})
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.SSEvent("snapshot", s.caller.Snapshot())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-ch:
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrChannelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrRegistration):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrMediaUnavailable):
		return http.StatusFailedDependency
	case errors.Is(err, domain.ErrNoTarget):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/core"
	"github.com/storyloom/storyloom/internal/service/engine"
	"github.com/storyloom/storyloom/pkg/log"
)

// GameEngine is the part of the turn engine the API serves.
type GameEngine interface {
	StartSession(ctx context.Context, sessionID, protagonist string, chapterID, anchorIndex int) (*engine.TurnResult, error)
	SubmitTurn(ctx context.Context, req engine.TurnRequest) (*engine.TurnResult, error)
	GetSessionStatus(ctx context.Context, sessionID string) (*engine.SessionStatus, error)
}

// Server exposes the turn engine over HTTP.
type Server struct {
	engine GameEngine
	http   *http.Server
}

func NewServer(ctx context.Context, cfg *config.ServerConfig, eng GameEngine, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{engine: eng}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(ctx))

	v1 := router.Group("/api/v1")
	v1.POST("/game/start", s.handleStart)
	v1.POST("/game/turn", s.handleTurn)
	v1.GET("/game/sessions/:id/status", s.handleStatus)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.http = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}
	return s
}

func (s *Server) Start(ctx context.Context) error {
	log.FromCtx(ctx).Info().Str("addr", s.http.Addr).Msg("http api listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// requestLogger attaches a request-scoped logger carrying a request id, so
// everything a turn logs can be traced back to its HTTP request.
func requestLogger(ctx context.Context) gin.HandlerFunc {
	base := log.FromCtx(ctx)
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		logger := base.With().Str("request_id", requestID).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Header("X-Request-ID", requestID)

		started := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(started)).
			Msg("request handled")
	}
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res, err := s.engine.StartSession(c.Request.Context(), req.SessionID, req.Protagonist, req.ChapterID, req.AnchorIndex)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := toTurnResponse(res)
	c.JSON(http.StatusOK, gin.H{
		"session_id":  resp.SessionID,
		"turn_number": resp.TurnNumber,
		"script":      resp.Script,
		"context":     res.Context,
		"anchor":      res.Anchor,
		"state":       resp.State,
		"metadata":    resp.Metadata,
	})
}

func (s *Server) handleTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res, err := s.engine.SubmitTurn(c.Request.Context(), engine.TurnRequest{
		SessionID:             req.SessionID,
		ChapterID:             req.ChapterID,
		AnchorIndex:           req.AnchorIndex,
		PlayerChoice:          req.PlayerChoice,
		PreviousAnchorIndex:   req.PreviousAnchorIndex,
		IncludeTail:           req.IncludeTail,
		IsLastAnchorInChapter: req.IsLastAnchorInChapter,
		CurrentAnchorID:       req.CurrentAnchorID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toTurnResponse(res))
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.engine.GetSessionStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{
		SessionID:  status.SessionID,
		Status:     status.Status,
		TurnCount:  status.TurnCount,
		LastActive: status.LastActive,
	})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrInvalidRange):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrAlreadyProcessing):
		status = http.StatusConflict
	case errors.Is(err, core.ErrGenerationFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		log.FromCtx(c.Request.Context()).Error().Err(err).Msg("request failed")
	}
	c.JSON(status, errorResponse{Error: err.Error()})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"readable/internal/attachment"
	"readable/internal/auth"
	"readable/internal/models"
	"readable/internal/service/reasoning"
	"readable/internal/session"
)

// multipart framing allowance on top of the file size limit
const multipartOverhead = 1 << 20

const staleMessage = "The attachment changed while the request was running, so the answer was discarded."

// ArchiveReader exposes archived turns for the archive endpoint.
type ArchiveReader interface {
	ListTurns(ctx context.Context, sessionID string) ([]models.ArchivedTurn, error)
}

// Handler wires HTTP routes to the session manager.
type Handler struct {
	sessions       *session.Manager
	auth           *auth.Service
	archive        ArchiveReader
	maxUploadBytes int64
}

// NewHandler constructs a Handler. archive may be nil when storage is disabled.
func NewHandler(sessions *session.Manager, authService *auth.Service, archive ArchiveReader, maxUploadBytes int64) *Handler {
	return &Handler{
		sessions:       sessions,
		auth:           authService,
		archive:        archive,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.healthz)

	api := router.Group("/api")
	api.POST("/sessions", h.createSession)
	sessionRoutes := api.Group("/sessions/:id")
	sessionRoutes.Use(h.auth.RequirePathSession("id"), h.auth.CSRFMiddleware())
	sessionRoutes.GET("", h.getSession)
	sessionRoutes.DELETE("", h.deleteSession)
	sessionRoutes.POST("/attachment", h.attach)
	sessionRoutes.DELETE("/attachment", h.clearAttachment)
	sessionRoutes.POST("/messages", h.submit)
	sessionRoutes.GET("/archive", h.getArchive)
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": h.sessions.Len()})
}

func (h *Handler) createSession(c *gin.Context) {
	s, err := h.sessions.Create(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	csrfToken, err := h.auth.IssueCookies(c, s.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue session cookies failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session":    s.View(),
		"csrf_token": csrfToken,
	})
}

// currentSession resolves the live session named in the path, writing 404 when absent.
func (h *Handler) currentSession(c *gin.Context) (*session.Session, bool) {
	id, ok := auth.SessionIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session required"})
		return nil, false
	}
	s, err := h.sessions.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return s, true
}

func (h *Handler) getSession(c *gin.Context) {
	view, err := h.sessions.View(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.auth.ClearCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) attach(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": session.TooLargeMessage})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": session.TooLargeMessage})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	defer f.Close()

	att, err := s.OnAttach(c.Request.Context(), attachment.File{
		Name:      filepath.Base(file.Filename),
		MediaType: file.Header.Get("Content-Type"),
		Reader:    f,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, attachment.ErrUnsupportedFormat):
			status = http.StatusUnsupportedMediaType
		case errors.Is(err, attachment.ErrTooLarge):
			status = http.StatusRequestEntityTooLarge
		case errors.Is(err, attachment.ErrInvalidText), errors.Is(err, attachment.ErrMissingName):
			status = http.StatusBadRequest
		}
		msg := s.LastError()
		if msg == "" {
			msg = err.Error()
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"attachment": att,
		"session":    s.View(),
	})
}

func (h *Handler) clearAttachment(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	s.ClearAttachment(c.Request.Context())
	c.Status(http.StatusNoContent)
}

type messageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) submit(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// SSE headers are only written once the user turn is accepted, so
	// rejections still get a plain JSON status.
	streaming := false
	turn, err := s.OnSubmit(c.Request.Context(), req.Content, func(user models.Turn) {
		streaming = true
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		if err := sendEvent("ack", gin.H{"turn": session.NewTurnView(user)}); err != nil {
			slog.Debug("ack event not delivered", "session", s.ID, "error", err)
		}
	})
	if !streaming {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, session.ErrEmptyPrompt):
			status = http.StatusBadRequest
		case errors.Is(err, session.ErrPending), errors.Is(err, session.ErrNoAttachment):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		_ = sendEvent("error", errorPayload(err))
		return
	}
	_ = sendEvent("done", gin.H{"turn": session.NewTurnView(*turn)})
}

func errorPayload(err error) gin.H {
	if errors.Is(err, session.ErrStale) {
		return gin.H{"message": staleMessage, "kind": "stale"}
	}
	var rerr *reasoning.Error
	if errors.As(err, &rerr) {
		return gin.H{"message": rerr.Message, "kind": rerr.Kind.String()}
	}
	return gin.H{"message": reasoning.UpstreamFallbackMessage, "kind": reasoning.KindUpstream.String()}
}

func (h *Handler) getArchive(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive disabled"})
		return
	}
	turns, err := h.archive.ListTurns(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load archive failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"turns": turns})
}

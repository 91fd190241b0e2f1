// Package server exposes the durable streams and workspace runs over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hupe1980/deckhand/core"
	"github.com/hupe1980/deckhand/logging"
	"github.com/hupe1980/deckhand/store"
	"github.com/hupe1980/deckhand/stream"
	"github.com/hupe1980/deckhand/workspace"
)

// Options configures a Handler.
type Options struct {
	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger

	// MaxBodyBytes bounds request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64

	// Context bounds the lifetime of long-lived responses such as SSE tails.
	// Cancel it before shutting the server down so open tails return.
	// Defaults to context.Background().
	Context context.Context
}

// Handler serves the HTTP API.
type Handler struct {
	workspaces *workspace.Manager
	log        *stream.Log
	logger     logging.Logger
	maxBody    int64
	ctx        context.Context
}

// NewHandler creates a Handler for mgr and its durable log.
func NewHandler(mgr *workspace.Manager, optFns ...func(o *Options)) *Handler {
	opts := Options{
		Logger:       logging.NoOpLogger{},
		MaxBodyBytes: 1 << 20,
		Context:      context.Background(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	return &Handler{
		workspaces: mgr,
		log:        mgr.Log(),
		logger:     opts.Logger,
		maxBody:    opts.MaxBodyBytes,
		ctx:        opts.Context,
	}
}

// RegisterRoutes registers all routes on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	e.GET("/api/durable-streams", h.ListStreams)
	e.GET("/api/durable-streams/stream/:id", h.GetStream)
	e.POST("/api/durable-streams/stream/:id", h.AppendStream)
	e.DELETE("/api/durable-streams/stream/:id", h.PruneStream)

	e.POST("/api/workspaces/:id/messages", h.SendMessage)
	e.POST("/api/workspaces/:id/cancel", h.CancelRun)
	e.POST("/api/workspaces/:id/feedback", h.RecordFeedback)
	e.GET("/api/workspaces/:id/state", h.GetState)
	e.GET("/api/workspaces/:id/status", h.GetStatus)
}

// New creates an echo instance with the routes of h registered.
func New(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	h.RegisterRoutes(e)
	return e
}

type errorResponse struct {
	Error string `json:"error"`
}

func jsonError(c echo.Context, code int, msg string) error {
	return c.JSON(code, errorResponse{Error: msg})
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type streamPage struct {
	Events     []stream.Event `json:"events"`
	NextOffset uint64         `json:"nextOffset"`
	Tail       uint64         `json:"tail"`
}

// hydrate restores a workspace stream from the store before it is served.
// Other streams live only in the process.
func (h *Handler) hydrate(c echo.Context, id string) error {
	workspaceID, ok := strings.CutPrefix(id, workspace.StreamPrefix)
	if !ok {
		return nil
	}
	if err := h.workspaces.Hydrate(c.Request().Context(), workspaceID); err != nil {
		h.logger.Error("server.stream.hydrate_failed", "stream", id, "error", err)
		return err
	}
	return nil
}

// ListStreams returns the ids of the streams held by the process.
// GET /api/durable-streams
func (h *Handler) ListStreams(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"streams": h.log.Streams()})
}

// GetStream returns buffered events from offset, or tails the stream as
// server-sent events when live=sse.
// GET /api/durable-streams/stream/:id?offset=N[&live=sse]
func (h *Handler) GetStream(c echo.Context) error {
	id := c.Param("id")
	var offset uint64
	if raw := c.QueryParam("offset"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return jsonError(c, http.StatusBadRequest, "offset must be a non-negative integer")
		}
		offset = v
	}

	if err := h.hydrate(c, id); err != nil {
		return jsonError(c, http.StatusInternalServerError, "failed to load stream")
	}

	if c.QueryParam("live") == "sse" {
		return h.streamSSE(c, id, offset)
	}

	events := h.log.Read(id, offset)
	next := offset
	if n := len(events); n > 0 {
		next = events[n-1].Offset + 1
	}
	return c.JSON(http.StatusOK, streamPage{Events: events, NextOffset: next, Tail: h.log.Tail(id)})
}

func (h *Handler) streamSSE(c echo.Context, id string, offset uint64) error {
	// The tail ends with the client or with the server, whichever goes first.
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	res := c.Response()
	res.Header().Set("Content-Type", "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	h.logger.Debug("server.stream.subscribed", "stream", id, "offset", offset)
	for ev := range h.log.Subscribe(ctx, id, offset) {
		frame, err := stream.EncodeFrame(ev)
		if err != nil {
			h.logger.Debug("server.stream.frame_skipped", "stream", id, "offset", ev.Offset, "error", err)
			continue
		}
		if _, err := res.Write(frame); err != nil {
			return nil
		}
		res.Flush()
	}
	return nil
}

// AppendStream appends the JSON request body as one event.
// POST /api/durable-streams/stream/:id
func (h *Handler) AppendStream(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, h.maxBody+1))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "failed to read body")
	}
	if int64(len(body)) > h.maxBody {
		return jsonError(c, http.StatusRequestEntityTooLarge, "body too large")
	}
	if !json.Valid(body) {
		return jsonError(c, http.StatusBadRequest, "body must be valid JSON")
	}
	if err := h.hydrate(c, c.Param("id")); err != nil {
		return jsonError(c, http.StatusInternalServerError, "failed to load stream")
	}
	if _, err := h.log.Append(c.Param("id"), json.RawMessage(body)); err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// PruneStream drops a stream from the process. Workspace streams keep their
// store log and are restored on the next access; pruning one is refused while
// its workspace has an active run.
// DELETE /api/durable-streams/stream/:id
func (h *Handler) PruneStream(c echo.Context) error {
	id := c.Param("id")
	workspaceID, ok := strings.CutPrefix(id, workspace.StreamPrefix)
	if !ok {
		h.log.Prune(id)
		return c.NoContent(http.StatusNoContent)
	}
	if err := h.workspaces.Prune(workspaceID); err != nil {
		return jsonError(c, http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type messageRequest struct {
	DeckPath string `json:"deckPath"`
	Message  string `json:"message"`
	Input    any    `json:"input"`
	Stream   bool   `json:"stream"`
}

type messageResponse struct {
	RunID    string `json:"runId"`
	StreamID string `json:"streamId"`
}

// SendMessage starts a run for the workspace.
// POST /api/workspaces/:id/messages
func (h *Handler) SendMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	id := c.Param("id")
	runID, err := h.workspaces.Send(c.Request().Context(), id, workspace.SendRequest{
		DeckPath: req.DeckPath,
		Message:  req.Message,
		Input:    req.Input,
		Stream:   req.Stream,
	})
	switch {
	case errors.Is(err, workspace.ErrWorkspaceBusy):
		return jsonError(c, http.StatusConflict, err.Error())
	case errors.Is(err, workspace.ErrNoDeck):
		return jsonError(c, http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.Error("server.workspace.send_failed", "workspace", id, "error", err)
		return jsonError(c, http.StatusInternalServerError, "failed to start run")
	}
	return c.JSON(http.StatusAccepted, messageResponse{RunID: runID, StreamID: workspace.StreamID(id)})
}

// CancelRun cancels the active run of the workspace.
// POST /api/workspaces/:id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	if err := h.workspaces.Cancel(c.Param("id")); err != nil {
		return jsonError(c, http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type feedbackRequest struct {
	MessageRefID string `json:"messageRefId"`
	Score        int    `json:"score"`
	Reason       string `json:"reason"`
}

// RecordFeedback attaches feedback to a message of the stored conversation
// and returns the updated RunState.
// POST /api/workspaces/:id/feedback
func (h *Handler) RecordFeedback(c echo.Context) error {
	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.MessageRefID == "" {
		return jsonError(c, http.StatusBadRequest, "messageRefId is required")
	}
	id := c.Param("id")
	state, err := h.workspaces.Feedback(c.Request().Context(), id, core.Feedback{
		MessageRefID: req.MessageRefID,
		Score:        req.Score,
		Reason:       req.Reason,
		CreatedAt:    time.Now().UTC(),
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return jsonError(c, http.StatusNotFound, "workspace not found")
	case errors.Is(err, workspace.ErrUnknownMessage):
		return jsonError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, workspace.ErrWorkspaceBusy):
		return jsonError(c, http.StatusConflict, err.Error())
	case err != nil:
		h.logger.Error("server.workspace.feedback_failed", "workspace", id, "error", err)
		return jsonError(c, http.StatusInternalServerError, "failed to record feedback")
	}
	return c.JSON(http.StatusOK, state)
}

// GetState returns the persisted RunState of the workspace.
// GET /api/workspaces/:id/state
func (h *Handler) GetState(c echo.Context) error {
	state, err := h.workspaces.State(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return jsonError(c, http.StatusNotFound, "workspace not found")
	}
	if err != nil {
		h.logger.Error("server.workspace.state_failed", "workspace", c.Param("id"), "error", err)
		return jsonError(c, http.StatusInternalServerError, "failed to read state")
	}
	return c.JSON(http.StatusOK, state)
}

// GetStatus returns the active or last run status of the workspace.
// GET /api/workspaces/:id/status
func (h *Handler) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.workspaces.Status(c.Param("id")))
}

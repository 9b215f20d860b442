package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ShayCichocki/maestro/internal/oracle"
	"github.com/ShayCichocki/maestro/internal/supervisor"
	"github.com/ShayCichocki/maestro/pkg/models"
)

// submitRequest is the POST /api/tasks body.
type submitRequest struct {
	// TaskDescription states what to do.
	TaskDescription string `json:"task_description" binding:"required"`
	// ConversationContext carries surrounding conversation, if any.
	ConversationContext string `json:"conversation_context"`
	// ExecutionMode is "execute" (default) or "plan".
	ExecutionMode string `json:"execution_mode"`
	// SessionID pins the session id; one is generated when empty.
	SessionID string `json:"session_id"`
}

// handleSubmit accepts a task. Assessment runs synchronously so a too-simple
// request returns its delegation guidance immediately; everything else is
// accepted and executed in the background, observable over the event stream.
func (s *Server) handleSubmit(c *gin.Context) {
	var body submitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	req := supervisor.Request{
		SessionID:           sessionID,
		Description:         body.TaskDescription,
		ConversationContext: body.ConversationContext,
		PlanOnly:            body.ExecutionMode == "plan",
	}

	assessment := s.service.Assess(c.Request.Context(), req)
	if assessment.Complexity == oracle.ComplexityTooSimple {
		result := s.service.ExecuteAssessed(c.Request.Context(), req, assessment)
		c.JSON(http.StatusOK, gin.H{
			"session_id":    sessionID,
			"delegate_back": true,
			"guidance":      result.Guidance,
		})
		return
	}

	// The request outlives this HTTP exchange.
	go s.service.ExecuteAssessed(context.WithoutCancel(c.Request.Context()), req, assessment)

	c.JSON(http.StatusAccepted, gin.H{
		"session_id": sessionID,
		"status":     "accepted",
	})
}

// handleEvents streams a session's progress updates as server-sent events.
// The stream opens with a synthetic connected event carrying seq 0, then
// forwards bus events in arrival order until the client disconnects. A
// comment heartbeat keeps idle connections alive through proxies.
func (s *Server) handleEvents(c *gin.Context) {
	sessionID := c.Param("sessionID")

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	// Subscribe before the handshake so no event published in between is lost.
	ch, unsubscribe := s.bus.Subscribe(sessionID)
	defer unsubscribe()

	// The handshake reports the last assigned sequence id so a reconnecting
	// client can tell whether it missed events.
	writeEvent(c, models.ProgressUpdate{
		SessionID: sessionID,
		Type:      models.ProgressConnected,
		Message:   "connected",
		Details: map[string]any{
			"last_seq":    s.bus.LastSeq(sessionID),
			"subscribers": s.bus.SubscriberCount(sessionID),
		},
		Timestamp: time.Now(),
		Seq:       0,
	})
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case update, open := <-ch:
			if !open {
				return
			}
			writeEvent(c, update)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

// handleContext answers "what is happening in this session right now" from
// the snapshot store.
func (s *Server) handleContext(c *gin.Context) {
	sessionID := c.Param("sessionID")

	snap, ok := s.store.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or expired session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"context":    snap,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"events_dropped": s.bus.DroppedCount(),
	})
}

// writeEvent serializes one update in SSE framing.
func writeEvent(c *gin.Context, update models.ProgressUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", update.Type, payload)
}

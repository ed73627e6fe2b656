package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/moderation"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type feedEventPayload struct {
	ConversationID string `json:"conversationId"`
	ActorID        string `json:"actorId,omitempty"`
	TargetID       string `json:"targetId"`
	Action         string `json:"action"`
	Status         string `json:"status"`
	Text           string `json:"text,omitempty"`
	At             string `json:"at"`
}

type heartbeatPayload struct {
	Source string `json:"source"`
	At     string `json:"at"`
}

func newFeedEventPayload(report moderation.Report) feedEventPayload {
	return feedEventPayload{
		ConversationID: report.Conversation.String(),
		ActorID:        report.Actor.String(),
		TargetID:       report.Target.String(),
		Action:         report.Action,
		Status:         string(report.Status),
		Text:           report.Text,
		At:             report.At.UTC().Format(time.RFC3339),
	}
}

// handleFeed streams moderation reports of one conversation as server-sent events.
// A heartbeat is written immediately so clients see the headers, then on every tick.
func (h *httpHandler) handleFeed(c *gin.Context) {
	conversation, ok := conversationParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	stream, cleanup := h.feed.Subscribe(ctx, conversation)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(feedEventHeartbeat, heartbeatPayload{Source: feedSourceBackend, At: time.Now().UTC().Format(time.RFC3339)})
	c.Writer.Flush()

	h.logger.Debug("feed subscriber connected",
		zap.String("operator", c.GetString(operatorContextKey)),
		zap.String("conversation_id", conversation.String()))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case report, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(FeedEventModeration, newFeedEventPayload(report))
			return true
		case tick := <-ticker.C:
			c.SSEvent(feedEventHeartbeat, heartbeatPayload{Source: feedSourceBackend, At: tick.UTC().Format(time.RFC3339)})
			return true
		}
	})
}

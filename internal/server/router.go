// Package server exposes the operator HTTP API: event intake, rank and filter
// administration, and a server-sent-events feed of moderation outcomes.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/warden/internal/bot"
	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"github.com/MarcoPoloResearchLab/warden/internal/roles"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	operatorContextKey       = "warden_operator"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingEventSink      = errors.New("event sink dependency required")
	errMissingRankAdmin      = errors.New("rank admin dependency required")
	errMissingFilterAdmin    = errors.New("filter admin dependency required")
	errMissingFeed           = errors.New("moderation feed dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator validates operator bearer tokens and returns their subject.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// EventSink accepts inbound chat events.
type EventSink interface {
	Submit(ctx context.Context, event chat.Event) error
}

// RankAdmin reads and writes stored ranks.
type RankAdmin interface {
	ListRanks(ctx context.Context, conversation chat.ConversationID) ([]roles.Assignment, error)
	SetRank(ctx context.Context, conversation chat.ConversationID, actor chat.ActorID, rank roles.Rank) error
	RoleNames(ctx context.Context, conversation chat.ConversationID) (map[roles.Rank]string, error)
}

// FilterAdmin reads and writes the content filter opt-in.
type FilterAdmin interface {
	FilterEnabled(ctx context.Context, conversation chat.ConversationID) (bool, error)
	SetFilterEnabled(ctx context.Context, conversation chat.ConversationID, enabled bool) error
}

type Dependencies struct {
	Tokens            TokenValidator
	Events            EventSink
	Ranks             RankAdmin
	Filters           FilterAdmin
	Feed              *ModerationFeed
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Tokens == nil:
		return nil, errMissingTokenValidator
	case deps.Events == nil:
		return nil, errMissingEventSink
	case deps.Ranks == nil:
		return nil, errMissingRankAdmin
	case deps.Filters == nil:
		return nil, errMissingFilterAdmin
	case deps.Feed == nil:
		return nil, errMissingFeed
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:    deps.Tokens,
		events:    deps.Events,
		ranks:     deps.Ranks,
		filters:   deps.Filters,
		feed:      deps.Feed,
		heartbeat: heartbeat,
		logger:    logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/events", handler.handleEvent)
	protected.GET("/conversations/:conversation_id/ranks", handler.handleListRanks)
	protected.PUT("/conversations/:conversation_id/ranks/:actor_id", handler.handleSetRank)
	protected.GET("/conversations/:conversation_id/filter", handler.handleGetFilter)
	protected.PUT("/conversations/:conversation_id/filter", handler.handleSetFilter)
	protected.GET("/conversations/:conversation_id/feed", handler.handleFeed)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	tokens    TokenValidator
	events    EventSink
	ranks     RankAdmin
	filters   FilterAdmin
	feed      *ModerationFeed
	heartbeat time.Duration
	logger    *zap.Logger
}

type rankPayload struct {
	ActorID   string `json:"actor_id"`
	Rank      int    `json:"rank"`
	Role      string `json:"role"`
	UpdatedAt string `json:"updated_at"`
}

type rankListPayload struct {
	ConversationID string        `json:"conversation_id"`
	Ranks          []rankPayload `json:"ranks"`
}

type setRankRequestPayload struct {
	Rank *int `json:"rank"`
}

type filterPayload struct {
	Enabled *bool `json:"enabled"`
}

func (h *httpHandler) handleEvent(c *gin.Context) {
	var request eventRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	event, err := request.toEvent()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "detail": err.Error()})
		return
	}
	if err := h.events.Submit(c.Request.Context(), event); err != nil {
		switch {
		case errors.Is(err, bot.ErrInvalidEvent):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "detail": err.Error()})
		case errors.Is(err, bot.ErrDispatcherStopped):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dispatcher_stopped"})
		default:
			h.logger.Warn("event submission failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "submit_failed"})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *httpHandler) handleListRanks(c *gin.Context) {
	conversation, ok := conversationParam(c)
	if !ok {
		return
	}
	assignments, err := h.ranks.ListRanks(c.Request.Context(), conversation)
	if err != nil {
		h.logger.Error("failed to list ranks", zap.String("conversation_id", conversation.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	names, err := h.ranks.RoleNames(c.Request.Context(), conversation)
	if err != nil {
		h.logger.Warn("failed to load role names", zap.String("conversation_id", conversation.String()), zap.Error(err))
		names = roles.DefaultRoleNames
	}

	response := rankListPayload{ConversationID: conversation.String(), Ranks: make([]rankPayload, 0, len(assignments))}
	for _, assignment := range assignments {
		response.Ranks = append(response.Ranks, rankPayload{
			ActorID:   assignment.ActorID,
			Rank:      assignment.Rank,
			Role:      names[roles.Rank(assignment.Rank)],
			UpdatedAt: assignment.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleSetRank(c *gin.Context) {
	conversation, ok := conversationParam(c)
	if !ok {
		return
	}
	actor, err := chat.NewActorID(c.Param("actor_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_actor_id"})
		return
	}
	var request setRankRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Rank == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	rank := roles.Rank(*request.Rank)
	if !rank.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rank"})
		return
	}
	if err := h.ranks.SetRank(c.Request.Context(), conversation, actor, rank); err != nil {
		h.logger.Error("failed to set rank", zap.String("conversation_id", conversation.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_failed"})
		return
	}
	h.logger.Info("rank set by operator",
		zap.String("operator", c.GetString(operatorContextKey)),
		zap.String("conversation_id", conversation.String()),
		zap.String("actor_id", actor.String()),
		zap.Int("rank", int(rank)))
	c.JSON(http.StatusOK, gin.H{"conversation_id": conversation.String(), "actor_id": actor.String(), "rank": int(rank)})
}

func (h *httpHandler) handleGetFilter(c *gin.Context) {
	conversation, ok := conversationParam(c)
	if !ok {
		return
	}
	enabled, err := h.filters.FilterEnabled(c.Request.Context(), conversation)
	if err != nil {
		h.logger.Error("failed to read filter setting", zap.String("conversation_id", conversation.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": conversation.String(), "enabled": enabled})
}

func (h *httpHandler) handleSetFilter(c *gin.Context) {
	conversation, ok := conversationParam(c)
	if !ok {
		return
	}
	var request filterPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.filters.SetFilterEnabled(c.Request.Context(), conversation, *request.Enabled); err != nil {
		h.logger.Error("failed to store filter setting", zap.String("conversation_id", conversation.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": conversation.String(), "enabled": *request.Enabled})
}

// authorizeRequest accepts a bearer header, or an access_token query parameter
// for EventSource clients that cannot set headers.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	switch {
	case strings.HasPrefix(header, "Bearer "):
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	case header == "":
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(operatorContextKey, subject)
	c.Next()
}

func conversationParam(c *gin.Context) (chat.ConversationID, bool) {
	conversation, err := chat.NewConversationID(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_conversation_id"})
		return "", false
	}
	return conversation, true
}

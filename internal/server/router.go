package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aris-ansari/x-clone/internal/auth"
	"github.com/aris-ansari/x-clone/internal/notifications"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const userIDContextKey = "xclone_user_id"

var (
	errMissingAuthenticator = errors.New("authenticator dependency required")
	errMissingNotifications = errors.New("notifications service dependency required")
	errMissingPresence      = errors.New("presence dependency required")
	errMissingGateway       = errors.New("realtime gateway dependency required")
	errMissingActivity      = errors.New("activity recorder dependency required")
)

// RequestAuthenticator resolves the caller from the session cookie of an HTTP request.
type RequestAuthenticator interface {
	AuthenticateRequest(r *http.Request) (auth.Identity, error)
}

// PresenceReader answers whether a user has live sessions.
type PresenceReader interface {
	IsOnline(userID string) bool
	Sessions(userID string) int
}

// ActivityRecorder turns completed follow, like and comment actions into notifications.
// A nil result means the action produced no notification.
type ActivityRecorder interface {
	Followed(ctx context.Context, followerID, followedID string, meta notifications.Meta) *notifications.Notification
	Liked(ctx context.Context, likerID, authorID, postID string, meta notifications.Meta) *notifications.Notification
	Commented(ctx context.Context, commenterID, authorID, postID, commentID string, meta notifications.Meta) *notifications.Notification
}

type Dependencies struct {
	Authenticator  RequestAuthenticator
	Notifications  *notifications.Service
	Activity       ActivityRecorder
	Presence       PresenceReader
	Gateway        http.Handler
	MetricsHandler http.Handler
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Authenticator == nil {
		return nil, errMissingAuthenticator
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}
	if deps.Activity == nil {
		return nil, errMissingActivity
	}
	if deps.Presence == nil {
		return nil, errMissingPresence
	}
	if deps.Gateway == nil {
		return nil, errMissingGateway
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if len(deps.AllowedOrigins) > 0 {
		router.Use(corsMiddleware(deps.AllowedOrigins))
	}

	handler := &httpHandler{
		authenticator: deps.Authenticator,
		notifications: deps.Notifications,
		activity:      deps.Activity,
		presence:      deps.Presence,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}
	router.GET("/socket", gin.WrapH(deps.Gateway))

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.GET("/notifications/unread-count", handler.handleUnreadCount)
	protected.POST("/notifications/read", handler.handleMarkAllRead)
	protected.DELETE("/notifications", handler.handleClearNotifications)
	protected.POST("/notifications/events", handler.handleNotificationEvent)
	protected.POST("/activity/follow", handler.handleFollowActivity)
	protected.POST("/activity/like", handler.handleLikeActivity)
	protected.POST("/activity/comment", handler.handleCommentActivity)
	protected.GET("/presence/:userId", handler.handlePresence)

	return router, nil
}

// corsMiddleware allows the browser client to send its session cookie cross-origin.
// Without configured origins the router serves same-origin callers only.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Origin"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if allowsAnyOrigin(allowedOrigins) {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func allowsAnyOrigin(allowedOrigins []string) bool {
	for _, origin := range allowedOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

type httpHandler struct {
	authenticator RequestAuthenticator
	notifications *notifications.Service
	activity      ActivityRecorder
	presence      PresenceReader
	logger        *zap.Logger
}

type notificationEventPayload struct {
	To      string             `json:"to" binding:"required"`
	Type    string             `json:"type" binding:"required,oneof=follow like comment"`
	Post    string             `json:"post"`
	Comment string             `json:"comment"`
	Meta    notifications.Meta `json:"meta"`
}

type followActivityPayload struct {
	User string             `json:"user" binding:"required"`
	Meta notifications.Meta `json:"meta"`
}

type likeActivityPayload struct {
	Author string             `json:"author" binding:"required"`
	Post   string             `json:"post" binding:"required"`
	Meta   notifications.Meta `json:"meta"`
}

type commentActivityPayload struct {
	Author  string             `json:"author" binding:"required"`
	Post    string             `json:"post" binding:"required"`
	Comment string             `json:"comment" binding:"required"`
	Meta    notifications.Meta `json:"meta"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
		return
	}

	records, err := h.notifications.Inbox(c.Request.Context(), userID, limit)
	if err != nil {
		h.respondServiceError(c, "list_failed", err)
		return
	}
	if records == nil {
		records = []notifications.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": records})
}

func (h *httpHandler) handleUnreadCount(c *gin.Context) {
	count, err := h.notifications.UnreadCount(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondServiceError(c, "count_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *httpHandler) handleMarkAllRead(c *gin.Context) {
	updated, err := h.notifications.MarkAllRead(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondServiceError(c, "mark_read_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *httpHandler) handleClearNotifications(c *gin.Context) {
	deleted, err := h.notifications.Clear(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondServiceError(c, "clear_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *httpHandler) handleNotificationEvent(c *gin.Context) {
	var request notificationEventPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.notifications.Notify(c.Request.Context(), notifications.NotifyRequest{
		From:      c.GetString(userIDContextKey),
		To:        request.To,
		Type:      notifications.Type(request.Type),
		PostID:    request.Post,
		CommentID: request.Comment,
		Meta:      request.Meta,
	})
	if err != nil {
		if errors.Is(err, notifications.ErrInvalidUserID) || errors.Is(err, notifications.ErrInvalidType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": serviceErrorCode(err)})
			return
		}
		h.respondServiceError(c, "notify_failed", err)
		return
	}
	if record == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusAccepted, record)
}

// Activity routes acknowledge the caller's action even when no notification was recorded.
func (h *httpHandler) handleFollowActivity(c *gin.Context) {
	var request followActivityPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	record := h.activity.Followed(c.Request.Context(), c.GetString(userIDContextKey), request.User, request.Meta)
	c.JSON(http.StatusAccepted, gin.H{"notification": record})
}

func (h *httpHandler) handleLikeActivity(c *gin.Context) {
	var request likeActivityPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	record := h.activity.Liked(c.Request.Context(), c.GetString(userIDContextKey), request.Author, request.Post, request.Meta)
	c.JSON(http.StatusAccepted, gin.H{"notification": record})
}

func (h *httpHandler) handleCommentActivity(c *gin.Context) {
	var request commentActivityPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	record := h.activity.Commented(c.Request.Context(), c.GetString(userIDContextKey), request.Author, request.Post, request.Comment, request.Meta)
	c.JSON(http.StatusAccepted, gin.H{"notification": record})
}

func (h *httpHandler) handlePresence(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userId"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":   userID,
		"online":   h.presence.IsOnline(userID),
		"sessions": h.presence.Sessions(userID),
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	identity, err := h.authenticator.AuthenticateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrMissingCredential) || errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, identity.UserID)
	c.Next()
}

func (h *httpHandler) respondServiceError(c *gin.Context, fallback string, err error) {
	code := serviceErrorCode(err)
	h.logger.Error("notification request failed",
		zap.String("path", c.FullPath()),
		zap.String("code", code),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": fallback, "code": code})
}

func serviceErrorCode(err error) string {
	var serviceErr *notifications.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("invalid limit")
	}
	return limit, nil
}

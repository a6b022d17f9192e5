package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yigit/clubchat/internal/app/models/dto"
	"github.com/yigit/clubchat/internal/app/services"
	"github.com/yigit/clubchat/internal/middleware"
)

const defaultNotificationLimit = 50

// NotificationController serves unread counts, in-app notifications and
// the push registry of the caller.
type NotificationController struct {
	dispatcher services.NotificationDispatcher
	unread     services.UnreadTracker
}

// NewNotificationController creates a new NotificationController
func NewNotificationController(dispatcher services.NotificationDispatcher, unread services.UnreadTracker) *NotificationController {
	return &NotificationController{
		dispatcher: dispatcher,
		unread:     unread,
	}
}

// GetUnread godoc
// @Summary Unread counts of the caller
// @Tags unread
// @Security BearerAuth
// @Success 200 {object} dto.StructuredResponse{data=services.UnreadSummary}
// @Router /unread [get]
func (c *NotificationController) GetUnread(ctx *gin.Context) {
	summary, err := c.unread.TotalUnread(ctx.Request.Context(), middleware.CurrentUserID(ctx))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(summary, "Unread counts retrieved successfully"))
}

// ListNotifications godoc
// @Summary List notifications
// @Tags notifications
// @Security BearerAuth
// @Param unread query bool false "Only unread"
// @Param limit query int false "Maximum number of notifications (default: 50)"
// @Success 200 {object} dto.StructuredResponse{data=[]models.AppNotification}
// @Router /notifications [get]
func (c *NotificationController) ListNotifications(ctx *gin.Context) {
	unreadOnly, _ := strconv.ParseBool(ctx.Query("unread"))

	limit := defaultNotificationLimit
	if limitStr := ctx.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}

	notifications, err := c.dispatcher.List(ctx.Request.Context(), middleware.CurrentUserID(ctx), unreadOnly, limit)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(notifications, "Notifications retrieved successfully"))
}

// MarkRead marks a single notification read
func (c *NotificationController) MarkRead(ctx *gin.Context) {
	if err := c.dispatcher.MarkRead(ctx.Request.Context(), middleware.CurrentUserID(ctx), ctx.Param("id")); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(nil, "Notification marked as read"))
}

// MarkAllRead marks every notification of the caller read
func (c *NotificationController) MarkAllRead(ctx *gin.Context) {
	updated, err := c.dispatcher.MarkAllRead(ctx.Request.Context(), middleware.CurrentUserID(ctx))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(dto.MarkAllReadResponse{Updated: updated}, "Notifications marked as read"))
}

// GetPushSettings returns the caller's push registry entry
func (c *NotificationController) GetPushSettings(ctx *gin.Context) {
	settings, err := c.dispatcher.GetPushSettings(ctx.Request.Context(), middleware.CurrentUserID(ctx))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(settings, "Push settings retrieved successfully"))
}

func (c *NotificationController) SetPushEnabled(ctx *gin.Context) {
	var req dto.SetPushEnabledRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}

	settings, err := c.dispatcher.SetPushEnabled(ctx.Request.Context(), middleware.CurrentUserID(ctx), *req.Enabled)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(settings, "Push settings updated"))
}

func (c *NotificationController) RegisterToken(ctx *gin.Context) {
	var req dto.RegisterTokenRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}

	settings, err := c.dispatcher.RegisterToken(ctx.Request.Context(), middleware.CurrentUserID(ctx), req.Token, req.Platform)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, dto.NewStructuredResponse(settings, "Push token registered"))
}

func (c *NotificationController) UnregisterToken(ctx *gin.Context) {
	settings, err := c.dispatcher.UnregisterToken(ctx.Request.Context(), middleware.CurrentUserID(ctx), ctx.Param("token"))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(settings, "Push token removed"))
}

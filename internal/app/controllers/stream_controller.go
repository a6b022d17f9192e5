package controllers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/yigit/clubchat/internal/app/services"
	"github.com/yigit/clubchat/internal/middleware"
	"github.com/yigit/clubchat/internal/pkg/websocket"
)

// streamSnapshotSize bounds the messages and notifications sent when a
// subscription opens
const streamSnapshotSize = 50

// StreamController upgrades requests into live subscriptions. Every stream
// starts with a snapshot and then receives change events.
type StreamController struct {
	handler       *websocket.Handler
	chats         services.ChatDirectory
	messages      services.MessageStore
	unread        services.UnreadTracker
	notifications services.NotificationDispatcher
}

// NewStreamController creates a new StreamController
func NewStreamController(
	handler *websocket.Handler,
	chats services.ChatDirectory,
	messages services.MessageStore,
	unread services.UnreadTracker,
	notifications services.NotificationDispatcher,
) *StreamController {
	return &StreamController{
		handler:       handler,
		chats:         chats,
		messages:      messages,
		unread:        unread,
		notifications: notifications,
	}
}

// StreamChats subscribes to the caller's chat list
func (c *StreamController) StreamChats(ctx *gin.Context) {
	userID := middleware.CurrentUserID(ctx)
	c.handler.Subscribe(ctx, userID, websocket.ChatsTopic(userID), func(sctx context.Context) (interface{}, error) {
		chats, err := c.chats.ListChats(sctx, userID)
		if err != nil {
			return nil, err
		}
		summary, err := c.unread.TotalUnread(sctx, userID)
		if err != nil {
			return nil, err
		}
		return withUnread(chats, summary), nil
	})
}

// StreamMessages subscribes to one chat. Membership is checked before the
// upgrade so a stranger gets a plain 403.
func (c *StreamController) StreamMessages(ctx *gin.Context) {
	userID, chatID := middleware.CurrentUserID(ctx), ctx.Param("id")
	if _, err := c.chats.GetChat(ctx.Request.Context(), userID, chatID); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	c.handler.Subscribe(ctx, userID, websocket.MessagesTopic(chatID), func(sctx context.Context) (interface{}, error) {
		return c.messages.ListMessages(sctx, userID, chatID, nil, streamSnapshotSize)
	})
}

// StreamNotifications subscribes to the caller's notifications
func (c *StreamController) StreamNotifications(ctx *gin.Context) {
	userID := middleware.CurrentUserID(ctx)
	c.handler.Subscribe(ctx, userID, websocket.NotificationsTopic(userID), func(sctx context.Context) (interface{}, error) {
		return c.notifications.List(sctx, userID, false, streamSnapshotSize)
	})
}

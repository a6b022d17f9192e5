package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yigit/clubchat/internal/app/controllers"
	"github.com/yigit/clubchat/internal/middleware"
)

// Controllers groups every HTTP handler the router mounts
type Controllers struct {
	Chats         *controllers.ChatController
	Messages      *controllers.MessageController
	Polls         *controllers.PollController
	Notifications *controllers.NotificationController
	Streams       *controllers.StreamController
}

// SetupRouter configures all application routes
func SetupRouter(
	router *gin.Engine,
	ctrl Controllers,
	authMiddleware *middleware.AuthMiddleware,
	metricsHandler http.Handler,
) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	// API version group; everything below requires a bearer token
	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware.JWTAuth())

	chats := v1.Group("/chats")
	{
		chats.POST("/private", ctrl.Chats.CreatePrivateChat)
		chats.POST("/groups", ctrl.Chats.CreateGroupChat)
		chats.POST("/broadcasts", ctrl.Chats.CreateBroadcastChat)
		chats.GET("", ctrl.Chats.ListChats)
		chats.GET("/:id", ctrl.Chats.GetChat)
		chats.DELETE("/:id", ctrl.Chats.DeleteGroup)

		// Membership
		chats.POST("/:id/members", ctrl.Chats.AddMember)
		chats.DELETE("/:id/members/:userId", ctrl.Chats.RemoveMember)
		chats.POST("/:id/leave", ctrl.Chats.LeaveGroup)
		chats.PUT("/:id/senders/:userId", ctrl.Chats.SetBroadcastSender)
		chats.POST("/:id/seen", ctrl.Chats.MarkSeen)

		// Messages
		chats.GET("/:id/messages", ctrl.Messages.ListMessages)
		chats.POST("/:id/messages", ctrl.Messages.SendMessage)
		chats.DELETE("/:id/messages/:messageId", ctrl.Messages.DeleteMessage)
		chats.POST("/:id/messages/:messageId/expire", ctrl.Messages.ExpireMedia)

		// Polls
		chats.POST("/:id/polls", ctrl.Polls.CreatePoll)
		chats.GET("/:id/polls/:messageId", ctrl.Polls.GetPoll)
		chats.POST("/:id/polls/:messageId/votes", ctrl.Polls.Vote)
	}

	v1.GET("/unread", ctrl.Notifications.GetUnread)

	notifications := v1.Group("/notifications")
	{
		notifications.GET("", ctrl.Notifications.ListNotifications)
		notifications.POST("/read-all", ctrl.Notifications.MarkAllRead)
		notifications.POST("/:id/read", ctrl.Notifications.MarkRead)
	}

	push := v1.Group("/push")
	{
		push.GET("", ctrl.Notifications.GetPushSettings)
		push.PUT("", ctrl.Notifications.SetPushEnabled)
		push.POST("/tokens", ctrl.Notifications.RegisterToken)
		push.DELETE("/tokens/:token", ctrl.Notifications.UnregisterToken)
	}

	ws := v1.Group("/ws")
	{
		ws.GET("/chats", ctrl.Streams.StreamChats)
		ws.GET("/chats/:id/messages", ctrl.Streams.StreamMessages)
		ws.GET("/notifications", ctrl.Streams.StreamNotifications)
	}
}

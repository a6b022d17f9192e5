package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/app/models/dto"
	"github.com/yigit/clubchat/internal/app/services"
	"github.com/yigit/clubchat/internal/middleware"
)

// ChatController handles chat and membership operations
type ChatController struct {
	chats  services.ChatDirectory
	unread services.UnreadTracker
}

// NewChatController creates a new ChatController
func NewChatController(chats services.ChatDirectory, unread services.UnreadTracker) *ChatController {
	return &ChatController{
		chats:  chats,
		unread: unread,
	}
}

// CreatePrivateChat godoc
// @Summary Open a private chat
// @Description Returns the private chat between the caller and another user, creating it on first contact
// @Tags chats
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreatePrivateChatRequest true "Other participant"
// @Success 201 {object} dto.StructuredResponse{data=models.Chat}
// @Failure 400 {object} dto.ErrorResponse
// @Router /chats/private [post]
func (c *ChatController) CreatePrivateChat(ctx *gin.Context) {
	var req dto.CreatePrivateChatRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}

	chat, err := c.chats.CreatePrivateChat(ctx.Request.Context(), middleware.CurrentUserID(ctx), req.UserID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, dto.NewStructuredResponse(chat, "Private chat ready"))
}

// CreateGroupChat godoc
// @Summary Create a group chat
// @Tags chats
// @Security BearerAuth
// @Param request body dto.CreateGroupChatRequest true "Group name and members"
// @Success 201 {object} dto.StructuredResponse{data=models.Chat}
// @Router /chats/groups [post]
func (c *ChatController) CreateGroupChat(ctx *gin.Context) {
	var req dto.CreateGroupChatRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}

	chat, err := c.chats.CreateGroupChat(ctx.Request.Context(), req.Name, middleware.CurrentUserID(ctx), req.Members)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, dto.NewStructuredResponse(chat, "Group chat created"))
}

// CreateBroadcastChat godoc
// @Summary Create a broadcast chat
// @Description Only the owner may post until other senders are allowed
// @Tags chats
// @Security BearerAuth
// @Param request body dto.CreateBroadcastChatRequest true "Broadcast definition"
// @Success 201 {object} dto.StructuredResponse{data=models.Chat}
// @Router /chats/broadcasts [post]
func (c *ChatController) CreateBroadcastChat(ctx *gin.Context) {
	var req dto.CreateBroadcastChatRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}

	chat, err := c.chats.CreateBroadcastChat(
		ctx.Request.Context(),
		models.BroadcastScope(req.Scope),
		middleware.CurrentUserID(ctx),
		req.Name,
		req.Audience,
	)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, dto.NewStructuredResponse(chat, "Broadcast chat created"))
}

// ListChats godoc
// @Summary List the caller's chats with unread counts
// @Tags chats
// @Security BearerAuth
// @Success 200 {object} dto.StructuredResponse{data=[]dto.ChatWithUnread}
// @Router /chats [get]
func (c *ChatController) ListChats(ctx *gin.Context) {
	userID := middleware.CurrentUserID(ctx)

	chats, err := c.chats.ListChats(ctx.Request.Context(), userID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	summary, err := c.unread.TotalUnread(ctx.Request.Context(), userID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(withUnread(chats, summary), "Chats retrieved successfully"))
}

func withUnread(chats []*models.Chat, summary *services.UnreadSummary) []dto.ChatWithUnread {
	out := make([]dto.ChatWithUnread, 0, len(chats))
	for _, chat := range chats {
		entry := dto.ChatWithUnread{Chat: chat}
		if summary != nil {
			entry.UnreadCount = summary.Chats[chat.ID]
		}
		out = append(out, entry)
	}
	return out
}

// GetChat godoc
// @Summary Get a chat
// @Tags chats
// @Security BearerAuth
// @Param id path string true "Chat ID"
// @Success 200 {object} dto.StructuredResponse{data=models.Chat}
// @Failure 403 {object} dto.ErrorResponse "Not a participant"
// @Failure 404 {object} dto.ErrorResponse
// @Router /chats/{id} [get]
func (c *ChatController) GetChat(ctx *gin.Context) {
	chat, err := c.chats.GetChat(ctx.Request.Context(), middleware.CurrentUserID(ctx), ctx.Param("id"))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(chat, "Chat retrieved successfully"))
}

// DeleteGroup removes a group or broadcast chat; creator only
func (c *ChatController) DeleteGroup(ctx *gin.Context) {
	if err := c.chats.DeleteGroup(ctx.Request.Context(), middleware.CurrentUserID(ctx), ctx.Param("id")); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(nil, "Chat deleted"))
}

// AddMember adds a user to a group chat
func (c *ChatController) AddMember(ctx *gin.Context) {
	var req dto.AddMemberRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}

	chat, err := c.chats.AddMember(ctx.Request.Context(), middleware.CurrentUserID(ctx), ctx.Param("id"), req.UserID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(chat, "Member added"))
}

// RemoveMember removes a user from a group chat; creator only
func (c *ChatController) RemoveMember(ctx *gin.Context) {
	err := c.chats.RemoveMember(ctx.Request.Context(), middleware.CurrentUserID(ctx), ctx.Param("id"), ctx.Param("userId"))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(nil, "Member removed"))
}

// LeaveGroup removes the caller from a group chat
func (c *ChatController) LeaveGroup(ctx *gin.Context) {
	if err := c.chats.LeaveGroup(ctx.Request.Context(), ctx.Param("id"), middleware.CurrentUserID(ctx)); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(nil, "Left chat"))
}

// SetBroadcastSender godoc
// @Summary Grant or revoke posting in a broadcast chat
// @Tags chats
// @Security BearerAuth
// @Param id path string true "Chat ID"
// @Param userId path string true "Participant ID"
// @Param request body dto.SetSenderRequest true "Allowed flag"
// @Success 200 {object} dto.StructuredResponse{data=models.Chat}
// @Router /chats/{id}/senders/{userId} [put]
func (c *ChatController) SetBroadcastSender(ctx *gin.Context) {
	var req dto.SetSenderRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}

	chat, err := c.chats.SetBroadcastSender(
		ctx.Request.Context(),
		middleware.CurrentUserID(ctx),
		ctx.Param("id"),
		ctx.Param("userId"),
		*req.Allowed,
	)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(chat, "Broadcast senders updated"))
}

// MarkSeen moves the caller's read cursor of the chat to now
func (c *ChatController) MarkSeen(ctx *gin.Context) {
	chatID := ctx.Param("id")
	lastSeen, err := c.unread.MarkChatAsSeen(ctx.Request.Context(), middleware.CurrentUserID(ctx), chatID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(dto.SeenResponse{ChatID: chatID, LastSeen: lastSeen}, "Chat marked as seen"))
}

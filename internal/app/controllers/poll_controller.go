package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/app/models/dto"
	"github.com/yigit/clubchat/internal/app/services"
	"github.com/yigit/clubchat/internal/middleware"
)

// PollController handles poll creation and voting
type PollController struct {
	polls services.PollEngine
}

// NewPollController creates a new PollController
func NewPollController(polls services.PollEngine) *PollController {
	return &PollController{polls: polls}
}

// CreatePoll godoc
// @Summary Post a poll
// @Description Options are trimmed and deduplicated; at least two must remain.
// @Tags polls
// @Security BearerAuth
// @Param id path string true "Chat ID"
// @Param request body dto.CreatePollRequest true "Poll"
// @Success 201 {object} dto.StructuredResponse{data=models.Message}
// @Failure 400 {object} dto.ErrorResponse "Invalid poll"
// @Router /chats/{id}/polls [post]
func (c *PollController) CreatePoll(ctx *gin.Context) {
	var req dto.CreatePollRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}

	sender := models.Sender{
		ID:   middleware.CurrentUserID(ctx),
		Name: middleware.CurrentUserName(ctx),
	}
	msg, err := c.polls.CreatePoll(ctx.Request.Context(), ctx.Param("id"), sender, req.Draft())
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, dto.NewStructuredResponse(msg, "Poll created"))
}

// Vote godoc
// @Summary Toggle a vote
// @Description Voting for an already chosen option retracts the vote.
// @Tags polls
// @Security BearerAuth
// @Param id path string true "Chat ID"
// @Param messageId path string true "Poll message ID"
// @Param request body dto.VoteRequest true "Option"
// @Success 200 {object} dto.StructuredResponse{data=dto.PollResponse}
// @Failure 410 {object} dto.ErrorResponse "Poll closed"
// @Failure 422 {object} dto.ErrorResponse "Option out of range"
// @Router /chats/{id}/polls/{messageId}/votes [post]
func (c *PollController) Vote(ctx *gin.Context) {
	var req dto.VoteRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}

	msg, err := c.polls.Vote(ctx.Request.Context(), ctx.Param("id"), ctx.Param("messageId"), middleware.CurrentUserID(ctx), *req.OptionIndex)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(pollResponse(msg), "Vote recorded"))
}

// GetPoll returns a poll message with its tally
func (c *PollController) GetPoll(ctx *gin.Context) {
	userID, chatID, messageID := middleware.CurrentUserID(ctx), ctx.Param("id"), ctx.Param("messageId")

	tally, err := c.polls.Tally(ctx.Request.Context(), userID, chatID, messageID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(tally, "Poll retrieved successfully"))
}

func pollResponse(msg *models.Message) dto.PollResponse {
	resp := dto.PollResponse{Message: msg}
	if msg.Poll != nil {
		tally := msg.Poll.Tally()
		resp.Tally = &tally
	}
	return resp
}

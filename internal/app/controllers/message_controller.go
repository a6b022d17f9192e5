package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/app/models/dto"
	"github.com/yigit/clubchat/internal/app/services"
	"github.com/yigit/clubchat/internal/middleware"
)

// MessageController handles sending, listing and removing messages
type MessageController struct {
	messages       services.MessageStore
	expirer        services.Expirer
	maxUploadBytes int64
}

// NewMessageController creates a new MessageController. maxUploadBytes
// caps the size of multipart sends.
func NewMessageController(messages services.MessageStore, expirer services.Expirer, maxUploadBytes int64) *MessageController {
	return &MessageController{
		messages:       messages,
		expirer:        expirer,
		maxUploadBytes: maxUploadBytes,
	}
}

// ListMessages godoc
// @Summary List chat messages
// @Description Newest first. Pass the createdAt of the oldest message seen as before to page backward.
// @Tags messages
// @Security BearerAuth
// @Param id path string true "Chat ID"
// @Param before query string false "RFC 3339 timestamp"
// @Param limit query int false "Page size (max 200)"
// @Success 200 {object} dto.StructuredResponse{data=[]models.Message}
// @Router /chats/{id}/messages [get]
func (c *MessageController) ListMessages(ctx *gin.Context) {
	var query dto.ListMessagesQuery
	if !middleware.BindQuery(ctx, &query) {
		return
	}

	var before *time.Time
	if query.Before != "" {
		t, err := time.Parse(time.RFC3339Nano, query.Before)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
				dto.NewErrorDetail(dto.ErrorCodeValidationFailed, "before must be an RFC 3339 timestamp").WithField("before")))
			return
		}
		before = &t
	}

	messages, err := c.messages.ListMessages(ctx.Request.Context(), middleware.CurrentUserID(ctx), ctx.Param("id"), before, query.Limit)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(messages, "Messages retrieved successfully"))
}

// SendMessage godoc
// @Summary Send a message
// @Description JSON bodies send text. multipart/form-data sends media with an optional caption.
// @Tags messages
// @Accept json,mpfd
// @Security BearerAuth
// @Param id path string true "Chat ID"
// @Success 201 {object} dto.StructuredResponse{data=models.Message}
// @Failure 400 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse "Not allowed to post"
// @Failure 413 {object} dto.ErrorResponse
// @Router /chats/{id}/messages [post]
func (c *MessageController) SendMessage(ctx *gin.Context) {
	sender := models.Sender{
		ID:   middleware.CurrentUserID(ctx),
		Name: middleware.CurrentUserName(ctx),
	}

	if ctx.ContentType() == gin.MIMEMultipartPOSTForm {
		c.sendMedia(ctx, sender)
		return
	}

	var req dto.SendTextRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}
	msg, err := c.messages.SendMessage(ctx.Request.Context(), ctx.Param("id"), sender, models.OutgoingMessage{Text: req.Text})
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, dto.NewStructuredResponse(msg, "Message sent"))
}

func (c *MessageController) sendMedia(ctx *gin.Context, sender models.Sender) {
	if c.maxUploadBytes > 0 {
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, c.maxUploadBytes)
	}

	var form dto.SendMediaForm
	if err := ctx.ShouldBind(&form); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.rejectTooLarge(ctx)
			return
		}
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(middleware.BindingErrorDetail(err)))
		return
	}

	header, err := ctx.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.rejectTooLarge(ctx)
			return
		}
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeInvalidPayload, "A media file is required").WithField("file")))
		return
	}
	file, err := header.Open()
	if err != nil {
		middleware.HandleAPIError(ctx, fmt.Errorf("error opening uploaded file: %w", err))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	payload := models.OutgoingMessage{
		Text: form.Text,
		Media: &models.MediaBlob{
			Type:            models.MessageType(form.Type),
			ContentType:     contentType,
			FileName:        header.Filename,
			Size:            header.Size,
			DurationSeconds: form.DurationSeconds,
			Body:            file,
		},
		EphemeralSeconds: form.EphemeralSeconds,
	}

	msg, err := c.messages.SendMessage(ctx.Request.Context(), ctx.Param("id"), sender, payload)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, dto.NewStructuredResponse(msg, "Message sent"))
}

func (c *MessageController) rejectTooLarge(ctx *gin.Context) {
	ctx.JSON(http.StatusRequestEntityTooLarge, dto.NewErrorResponse(
		dto.NewErrorDetail(dto.ErrorCodePayloadTooLarge, "Media exceeds the upload limit").
			WithDetails(map[string]int64{"maxBytes": c.maxUploadBytes})))
}

// DeleteMessage tombstones a message. Deleting twice succeeds.
func (c *MessageController) DeleteMessage(ctx *gin.Context) {
	err := c.messages.DeleteMessage(ctx.Request.Context(), middleware.CurrentUserID(ctx), ctx.Param("id"), ctx.Param("messageId"))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(nil, "Message deleted"))
}

// ExpireMedia godoc
// @Summary Expire an ephemeral media message
// @Description Participants may expire once the countdown elapsed; the sender may expire at any time.
// @Tags messages
// @Security BearerAuth
// @Param id path string true "Chat ID"
// @Param messageId path string true "Message ID"
// @Param request body dto.ExpireMediaRequest false "Replacement text"
// @Success 200 {object} dto.StructuredResponse{data=models.Message}
// @Router /chats/{id}/messages/{messageId}/expire [post]
func (c *MessageController) ExpireMedia(ctx *gin.Context) {
	var req dto.ExpireMediaRequest
	if ctx.Request.ContentLength != 0 {
		if !middleware.BindJSON(ctx, &req) {
			return
		}
	}

	msg, err := c.expirer.ExpireMediaAs(
		ctx.Request.Context(),
		middleware.CurrentUserID(ctx),
		ctx.Param("id"),
		ctx.Param("messageId"),
		req.ReplacementText,
	)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewStructuredResponse(msg, "Media expired"))
}

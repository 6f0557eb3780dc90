package message

import (
	"context"
	"net/http"
	"strconv"

	"PulseChat/middleware/security"
	"PulseChat/module/chat/model"
	"PulseChat/service/fanout"
	"PulseChat/tools/errs"

	"github.com/gin-gonic/gin"
)

// Store 消息历史 REST 层消费的存储面
type Store interface {
	CheckUserInChat(ctx context.Context, chatID, userID int64) (bool, error)
	ListMessages(ctx context.Context, chatID int64, limit, offset int) ([]model.Message, error)
	CountMessages(ctx context.Context, chatID int64) (int64, error)
}

type Handler struct {
	store    Store
	progress *fanout.Progress
}

func NewHandler(store Store, progress *fanout.Progress) *Handler {
	return &Handler{store: store, progress: progress}
}

func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/list", h.List)
	g.GET("/unread", h.Unread)
}

type pageResp struct {
	Messages   []model.Message `json:"messages"`
	Limit      int             `json:"limit"`
	Offset     int             `json:"offset"`
	TotalCount int64           `json:"total_count"`
}

// List GET /list?chat_id=&limit=&offset= 倒序分页的历史。
// 断线漏掉的消息从这里追平。
func (h *Handler) List(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Query("chat_id"), 10, 64)
	if err != nil || chatID <= 0 {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("chat_id"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	userID := security.UserID(c)
	ctx := c.Request.Context()

	in, err := h.store.CheckUserInChat(ctx, chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	if !in {
		c.JSON(http.StatusForbidden, errs.ErrNotInChat)
		return
	}

	msgs, err := h.store.ListMessages(ctx, chatID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	total, err := h.store.CountMessages(ctx, chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	c.JSON(http.StatusOK, pageResp{Messages: msgs, Limit: limit, Offset: offset, TotalCount: total})
}

// Unread GET /unread?chat_id=&until= 自己的未读数
func (h *Handler) Unread(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Query("chat_id"), 10, 64)
	if err != nil || chatID <= 0 {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("chat_id"))
		return
	}
	var until *int64
	if s := c.Query("until"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("until"))
			return
		}
		until = &v
	}
	userID := security.UserID(c)
	ctx := c.Request.Context()

	in, err := h.store.CheckUserInChat(ctx, chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	if !in {
		c.JSON(http.StatusForbidden, errs.ErrNotInChat)
		return
	}
	n, err := h.progress.UnreadCount(ctx, chatID, userID, until)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	c.JSON(http.StatusOK, n)
}

package chat

import (
	"context"
	"net/http"
	"strconv"

	"PulseChat/logger"
	"PulseChat/middleware/security"
	"PulseChat/module/chat/model"
	"PulseChat/service/fanout"
	"PulseChat/tools/errs"

	"github.com/gin-gonic/gin"
)

// Store 会话 REST 层消费的存储面（Postgres 实现在 store 包）
type Store interface {
	CreateChat(ctx context.Context, name string, typ model.ChatType) (model.Chat, error)
	GetChat(ctx context.Context, chatID int64) (model.Chat, bool, error)
	AllChats(ctx context.Context) ([]model.Chat, error)
	CheckUserInChat(ctx context.Context, chatID, userID int64) (bool, error)
	UserChats(ctx context.Context, userID int64) ([]model.Chat, error)
	ChatUsers(ctx context.Context, chatID int64) ([]model.User, error)
	AddUserToChat(ctx context.Context, chatID, userID int64) (model.Message, error)
	RemoveUserFromChat(ctx context.Context, chatID, userID int64) (model.Message, error)
	UserByID(ctx context.Context, userID int64) (model.User, bool, error)
	UserReadProgress(ctx context.Context, chatID, userID int64) (int64, bool, error)
}

type Handler struct {
	store    Store
	pub      fanout.Publisher
	progress *fanout.Progress
}

func NewHandler(store Store, pub fanout.Publisher, progress *fanout.Progress) *Handler {
	return &Handler{store: store, pub: pub, progress: progress}
}

func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/progress", h.Progress)
	g.GET("/user_progress", h.UserProgress)
	g.POST("/create", h.Create)
	g.POST("/invite", h.Invite)
	g.POST("/join", h.Join)
	g.POST("/leave", h.Leave)
	g.GET("/get_user_chats", h.UserChats)
	g.GET("/get_chat_users", h.ChatUsers)
	g.GET("/get_all", h.All)
}

func chatIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Query("chat_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("chat_id"))
		return 0, false
	}
	return id, true
}

// Progress GET /progress?chat_id= 会话级最小已读 id（-1 = 还没人读过）
func (h *Handler) Progress(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	userID := security.UserID(c)
	in, err := h.store.CheckUserInChat(c.Request.Context(), chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	if !in {
		c.JSON(http.StatusForbidden, errs.ErrNotInChat)
		return
	}
	p, err := h.progress.ChatProgress(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	c.JSON(http.StatusOK, p)
}

// UserProgress GET /user_progress?chat_id= 自己的已读游标（-1 = 无）
func (h *Handler) UserProgress(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	userID := security.UserID(c)
	in, err := h.store.CheckUserInChat(c.Request.Context(), chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	if !in {
		c.JSON(http.StatusForbidden, errs.ErrNotInChat)
		return
	}
	v, found, err := h.store.UserReadProgress(c.Request.Context(), chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	if !found {
		v = fanout.NoProgress
	}
	c.JSON(http.StatusOK, v)
}

type createChatReq struct {
	Name string         `json:"name" binding:"required"`
	Type model.ChatType `json:"type" binding:"required"`
}

// Create POST /create 建会话并把创建者拉进去。
// new_user 只发 user 频道：会话刚建，没别人可通知。
func (h *Handler) Create(c *gin.Context) {
	var req createChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail(err.Error()))
		return
	}
	if req.Type != model.ChatTypeGroup && req.Type != model.ChatTypePrivate {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("type"))
		return
	}
	userID := security.UserID(c)
	ctx := c.Request.Context()

	chat, err := h.store.CreateChat(ctx, req.Name, req.Type)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	hello, err := h.store.AddUserToChat(ctx, chat.ID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	h.publish(ctx, fanout.CategoryUser, userID,
		fanout.NewUserJoined(chat.ID, userID, hello.ID, hello.Content))
	c.JSON(http.StatusOK, chat)
}

// Invite POST /invite?chat_id=&user_id= 拉人进会话
func (h *Handler) Invite(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	invitedID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || invitedID <= 0 {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("user_id"))
		return
	}
	userID := security.UserID(c)
	ctx := c.Request.Context()

	if _, found, err := h.store.GetChat(ctx, chatID); err != nil || !found {
		if err != nil {
			c.JSON(http.StatusInternalServerError, errs.ErrInternal)
			return
		}
		c.JSON(http.StatusNotFound, errs.ErrChatNotFound)
		return
	}
	if _, found, err := h.store.UserByID(ctx, invitedID); err != nil || !found {
		if err != nil {
			c.JSON(http.StatusInternalServerError, errs.ErrInternal)
			return
		}
		c.JSON(http.StatusNotFound, errs.ErrUserNotFound)
		return
	}
	authorIn, err := h.store.CheckUserInChat(ctx, chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	if !authorIn {
		c.JSON(http.StatusForbidden, errs.ErrNotInChat)
		return
	}
	invitedIn, err := h.store.CheckUserInChat(ctx, chatID, invitedID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	if invitedIn {
		c.JSON(http.StatusConflict, errs.ErrAlreadyInChat)
		return
	}

	h.addAndAnnounce(ctx, c, chatID, invitedID)
}

// Join POST /join?chat_id= 自己加入会话
func (h *Handler) Join(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	userID := security.UserID(c)
	ctx := c.Request.Context()

	if _, found, err := h.store.GetChat(ctx, chatID); err != nil || !found {
		if err != nil {
			c.JSON(http.StatusInternalServerError, errs.ErrInternal)
			return
		}
		c.JSON(http.StatusNotFound, errs.ErrChatNotFound)
		return
	}
	in, err := h.store.CheckUserInChat(ctx, chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	if in {
		c.JSON(http.StatusConflict, errs.ErrAlreadyInChat)
		return
	}

	h.addAndAnnounce(ctx, c, chatID, userID)
}

// addAndAnnounce 入会的共同收尾：落库 + new_user 两路发布。
// user 频道先发，远端先建立本地关系、再广播给会话其他人。
func (h *Handler) addAndAnnounce(ctx context.Context, c *gin.Context, chatID, userID int64) {
	hello, err := h.store.AddUserToChat(ctx, chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	env := fanout.NewUserJoined(chatID, userID, hello.ID, hello.Content)
	h.publish(ctx, fanout.CategoryUser, userID, env)
	h.publish(ctx, fanout.CategoryChat, chatID, env)
	c.Status(http.StatusOK)
}

// Leave POST /leave?chat_id= 退出会话。离开者的游标行被删掉，
// 剩下的人的最小进度可能因此前进；前进了就广播 chat_progress。
func (h *Handler) Leave(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
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

	before, err := h.progress.ChatProgress(ctx, chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	goodbye, err := h.store.RemoveUserFromChat(ctx, chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	env := fanout.NewUserDeparted(chatID, userID, goodbye.ID, goodbye.Content)
	h.publish(ctx, fanout.CategoryUser, userID, env)
	h.publish(ctx, fanout.CategoryChat, chatID, env)

	after, err := h.progress.ChatProgress(ctx, chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	if fanout.Advanced(before, after) {
		h.publish(ctx, fanout.CategoryChat, chatID, fanout.NewChatProgress(chatID, after))
	}
	c.Status(http.StatusOK)
}

func (h *Handler) UserChats(c *gin.Context) {
	chats, err := h.store.UserChats(c.Request.Context(), security.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	if chats == nil {
		chats = []model.Chat{}
	}
	c.JSON(http.StatusOK, chats)
}

func (h *Handler) ChatUsers(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	users, err := h.store.ChatUsers(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) All(c *gin.Context) {
	chats, err := h.store.AllChats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	if chats == nil {
		chats = []model.Chat{}
	}
	c.JSON(http.StatusOK, chats)
}

// publish REST 侧发布失败不回滚存储，也不报给客户端；
// 掉线的观察者靠重新拉取追平（至多一次投递）。
func (h *Handler) publish(ctx context.Context, cat fanout.Category, key int64, env *fanout.Envelope) {
	if err := h.pub.Publish(ctx, cat, key, env); err != nil {
		logger.Errorf("chat api: publish %s on %s/%d failed: %v", env.Type, cat, key, err)
	}
}

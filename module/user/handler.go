package user

import (
	"context"
	"net/http"
	"time"

	"PulseChat/middleware/security"
	"PulseChat/module/chat/model"
	"PulseChat/tools/errs"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// Store 账号存储面
type Store interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (model.User, error)
	UserByEmail(ctx context.Context, email string) (model.User, bool, error)
}

type Handler struct {
	store    Store
	secret   []byte
	tokenTTL time.Duration
}

func NewHandler(store Store, secret []byte, tokenTTL time.Duration) *Handler {
	return &Handler{store: store, secret: secret, tokenTTL: tokenTTL}
}

func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("/register", h.Register)
	g.POST("/login", h.Login)
}

type registerReq struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type tokenResp struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	User        model.User `json:"user"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail(err.Error()))
		return
	}
	ctx := c.Request.Context()

	if _, exists, err := h.store.UserByEmail(ctx, req.Email); err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	} else if exists {
		c.JSON(http.StatusConflict, errs.ErrArgs.WithDetail("email already registered"))
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	u, err := h.store.CreateUser(ctx, req.Name, req.Email, string(hash))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	h.respondWithToken(c, u)
}

type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail(err.Error()))
		return
	}
	u, found, err := h.store.UserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	if !found || bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, errs.ErrTokenExpired.WithDetail("bad credentials"))
		return
	}
	h.respondWithToken(c, u)
}

func (h *Handler) respondWithToken(c *gin.Context, u model.User) {
	token, err := security.IssueToken(h.secret, u.ID, h.tokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	c.JSON(http.StatusOK, tokenResp{AccessToken: token, TokenType: "bearer", User: u})
}

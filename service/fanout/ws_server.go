package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"PulseChat/logger"
	"PulseChat/middleware/security"
	"PulseChat/module/chat/model"
	"PulseChat/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeDeadline = 5 * time.Second

// wsConn gorilla 连接的 Conn 适配：串行化写、带写超时
type wsConn struct {
	id string
	mu sync.Mutex
	ws *websocket.Conn
}

func newWsConn(ws *websocket.Conn) *wsConn {
	return &wsConn{id: ids.GenerateString(), ws: ws}
}

func (c *wsConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Close() error { return c.ws.Close() }

// MembershipStore 握手后种子本地 chat 关系用
type MembershipStore interface {
	UserChats(ctx context.Context, userID int64) ([]model.Chat, error)
}

// WsServer WebSocket 入口：握手、登记连接、读循环分发客户端帧
type WsServer struct {
	reg      *Registry
	deps     *Deps
	members  MembershipStore
	secret   []byte
	handlers map[Type]ClientHandler
}

func NewWsServer(reg *Registry, deps *Deps, members MembershipStore, secret []byte) *WsServer {
	return &WsServer{
		reg:      reg,
		deps:     deps,
		members:  members,
		secret:   secret,
		handlers: ClientHandlers(),
	}
}

// HandleWS GET /ws?token=...（或 Authorization: Bearer）
func (s *WsServer) HandleWS(c *gin.Context) {
	userID, err := s.authenticate(c)
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed: %v", err)
		return
	}
	conn := newWsConn(ws)
	ctx := c.Request.Context()

	s.reg.Connect(ctx, userID, conn)
	defer s.reg.Disconnect(context.Background(), userID, conn)

	// 本地成员缓存从存储种子；之后靠信封副作用维护
	chats, err := s.members.UserChats(ctx, userID)
	if err != nil {
		logger.Errorf("[ws] seed chats for user %d failed: %v", userID, err)
		_ = conn.Close()
		return
	}
	for _, chat := range chats {
		s.reg.AddUserChatRelation(ctx, chat.ID, userID)
	}

	logger.Infof("[ws] user %d connected conn=%s", userID, conn.id)
	s.readLoop(userID, conn)
	logger.Infof("[ws] user %d disconnected conn=%s", userID, conn.id)
}

// readLoop 只读；坏帧记日志、连接保持打开。处理器的错误不回给客户端。
func (s *WsServer) readLoop(userID int64, conn *wsConn) {
	for {
		mt, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed conn=%s", conn.id)
			} else {
				logger.Infof("[ws] read err conn=%s: %v", conn.id, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warnf("[ws] bad frame conn=%s: %v", conn.id, err)
			continue
		}
		tag, _ := frame["type"].(string)
		h, ok := s.handlers[Type(tag)]
		if !ok {
			logger.Warnf("[ws] unknown client frame type %q conn=%s", tag, conn.id)
			continue
		}
		if err := h(context.Background(), s.deps, userID, frame); err != nil {
			logger.Errorf("[ws] handle %s from user %d failed: %v", tag, userID, err)
		}
	}
}

func (s *WsServer) authenticate(c *gin.Context) (int64, error) {
	token := c.Query("token")
	if token == "" {
		token = security.BearerToken(c.Request.Header.Get("Authorization"))
	}
	if token == "" {
		return 0, errors.New("no token")
	}
	return security.ParseToken(s.secret, token)
}

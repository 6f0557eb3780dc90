package main

import (
	"context"
	"fmt"
	"time"

	"PulseChat/global/config"
	"PulseChat/logger"
	"PulseChat/middleware/security"
	chatapi "PulseChat/module/chat"
	"PulseChat/module/chat/store"
	messageapi "PulseChat/module/message"
	userapi "PulseChat/module/user"
	"PulseChat/service/fanout"
	"PulseChat/service/pubsub"
	"PulseChat/tools/ids"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("load config: %v", err)
		return
	}
	logger.Setup(cfg.LogLevel)
	ids.SetNodeID(cfg.NodeID)

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Errorf("init storage: %v", err)
		return
	}
	defer st.Close()

	transport, err := newTransport(ctx, cfg)
	if err != nil {
		logger.Errorf("init %s transport: %v", cfg.Transport, err)
		return
	}
	defer func() { _ = transport.Close() }()

	// Registry <-> Bridge 互相持有，这里显式装配，不走全局查找
	registry := fanout.NewRegistry()
	bridge := fanout.NewBridge(transport)
	registry.SetBridge(bridge)
	bridge.SetRegistry(registry)

	progress := fanout.NewProgress(st)
	deps := &fanout.Deps{Store: st, Bridge: bridge, Progress: progress}
	wsServer := fanout.NewWsServer(registry, deps, st, cfg.JwtSecretBytes())

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws", wsServer.HandleWS)

	api := r.Group("/api/v1")
	userapi.NewHandler(st, cfg.JwtSecretBytes(),
		time.Duration(cfg.Auth.TokenTTLHours)*time.Hour).RegisterRoutes(api.Group("/auth"))

	authed := api.Group("", security.Middleware(cfg.JwtSecretBytes()))
	chatapi.NewHandler(st, bridge, progress).RegisterRoutes(authed.Group("/chat"))
	messageapi.NewHandler(st, progress).RegisterRoutes(authed.Group("/message"))

	// 接收循环挂了 = 本进程失去扇出能力，直接退出交给编排层拉起
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case err := <-bridge.Failed():
		logger.Errorf("pubsub receive loop failed: %v", err)
	case err := <-errCh:
		logger.Errorf("http server stopped: %v", err)
	}
}

func newTransport(ctx context.Context, cfg *config.AppConfig) (pubsub.Transport, error) {
	switch cfg.Transport {
	case config.TransportNats:
		return pubsub.NewNatsTransport(cfg.Nats)
	default:
		return pubsub.NewRedisTransport(ctx, cfg.Redis)
	}
}

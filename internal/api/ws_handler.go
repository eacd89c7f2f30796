package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"hireflow/internal/pipeline"
)

// WsHandler 将某个岗位的管道进度（Redis Pub/Sub）转发给 WebSocket 客户端。
type WsHandler struct {
	redisClient *redis.Client
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

// NewWsHandler 构造 WebSocket 处理器。
func NewWsHandler(redisClient *redis.Client, logger *slog.Logger) *WsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &WsHandler{
		redisClient: redisClient,
		logger:      logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
	return h
}

// HandleConnection 升级连接并转发进度消息，直到任一端关闭。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	jobID := c.Query("job_id")
	if jobID == "" {
		BadRequest(c, "job_id is required")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	log := h.logger.With(
		slog.String("job_id", jobID),
		slog.String("client_ip", c.ClientIP()),
	)

	pubsub := h.redisClient.Subscribe(ctx, pipeline.JobNotifyChannel(jobID))
	defer pubsub.Close()

	// 读循环只用于感知客户端断开。
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Info("websocket subscribed to job progress")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info("websocket connection closed")
			return
		case msg, ok := <-ch:
			if !ok {
				log.Info("pubsub channel closed")
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				log.Info("write progress message failed", slog.Any("error", err))
				return
			}
		}
	}
}

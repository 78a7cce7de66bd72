package handler

import (
	"Storefront/internal/api/dto"
	"Storefront/internal/model"
	"Storefront/internal/service"
	"context"
	log "log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WsHandler 将会话变更与连接状态推送给本地界面
type WsHandler struct {
	session *service.Session
}

func NewWsHandler(session *service.Session) *WsHandler {
	return &WsHandler{session: session}
}

type wsFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (s *WsHandler) Connect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WS 协议升级失败", "err", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	// 监听器在分发协程中同步执行，只投递到缓冲通道，满了就丢弃
	frames := make(chan wsFrame, 64)
	offer := func(f wsFrame) {
		select {
		case frames <- f:
		default:
			log.Warn("WS 推送队列已满，丢弃变更", "type", f.Type)
		}
	}

	im := s.session.IM()
	unsubChanges := im.Subscribe(func(_ context.Context, change model.ConversationChange) error {
		d := &dto.ConversationChangeDTO{
			ConversationID: change.ConversationID,
			Removed:        change.Removed,
			TotalUnread:    im.TotalUnread(),
		}
		if conv, ok := im.Conversation(change.ConversationID); ok && !change.Removed {
			conv.Messages = nil
			d.Conversation = &conv
		}
		offer(wsFrame{Type: "conversation", Data: d})
		return nil
	})
	defer unsubChanges()

	unsubState := s.session.OnStateChange(func(_ context.Context, change model.StateChange) error {
		offer(wsFrame{Type: "state", Data: gin.H{"from": change.From.String(), "to": change.To.String(), "attempt": change.Attempt}})
		return nil
	})
	defer unsubState()

	log.Info("本地 WS 连接已建立", "remote", c.Request.RemoteAddr)
	offer(wsFrame{Type: "state", Data: gin.H{"to": s.session.State().String()}})

	stopChan := make(chan struct{})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(stopChan)
				return
			}
		}
	}()

	for {
		select {
		case f := <-frames:
			data, err := json.Marshal(f)
			if err != nil {
				log.Error("WS 编码失败", "err", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error("WS 推送失败", "err", err)
				return
			}
		case <-stopChan:
			log.Info("本地 WS 连接已断开", "remote", c.Request.RemoteAddr)
			return
		}
	}
}

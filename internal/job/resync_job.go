package job

import (
	"Storefront/internal/pkg/consts"
	"Storefront/internal/pkg/logger"
	"Storefront/internal/service"
	"context"
	"errors"
	log "log/slog"
	"time"
)

// ConversationResyncJob 周期性拉取会话列表，弥补推送丢失
type ConversationResyncJob struct {
	im      service.IMService
	timeout time.Duration
}

func NewConversationResyncJob(im service.IMService, timeout time.Duration) *ConversationResyncJob {
	return &ConversationResyncJob{im: im, timeout: timeout}
}

func (s *ConversationResyncJob) Run() {
	ctx := logger.WithTrace(context.Background(), consts.TracePrefixResync)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.im.RefreshConversations(ctx); err != nil {
		if errors.Is(err, service.ErrRemoteUnavailable) {
			log.DebugContext(ctx, "resync skipped, rest not configured")
			return
		}
		log.ErrorContext(ctx, "resync conversations error", "err", err)
		return
	}
	log.InfoContext(ctx, "resync conversations success",
		"conversations", len(s.im.Conversations()),
		"total_unread", s.im.TotalUnread(),
		"latency", time.Since(start))
}

package wire

import (
	"Storefront/internal/api"
	"Storefront/internal/api/config"
	"Storefront/internal/api/handler"
	"Storefront/internal/job"
	"Storefront/internal/model"
	"Storefront/internal/pkg/cron"
	"Storefront/internal/pkg/dispatcher"
	"Storefront/internal/pkg/imapi"
	"Storefront/internal/pkg/realtime"
	"Storefront/internal/pkg/redis"
	"Storefront/internal/repository"
	"Storefront/internal/service"
	"context"
	log "log/slog"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router  *gin.Engine
	Session *service.Session
	CronMgr *cron.Manager
	Redis   *goredis.Client
}

func BuildApplication(ctx context.Context, cfg *config.Config) (*ApplicationContainer, error) {
	endpoint, err := realtime.ResolveEndpoint(cfg.Realtime.Endpoint, cfg.Realtime.BaseURL, cfg.Realtime.HubPath)
	if err != nil {
		return nil, err
	}

	conn := realtime.NewManager(realtime.Options{
		Endpoint:     endpoint,
		Dialer:       realtime.NewWSDialer(ms(cfg.Realtime.HandshakeTimeoutMs), cfg.Realtime.ReadLimit),
		Events:       dispatcher.New[model.Event]("channel-events"),
		WriteTimeout: ms(cfg.Realtime.WriteTimeoutMs),
	})

	var remote service.RemoteAPI
	client, err := imapi.New(cfg.Rest.BaseURL, ms(cfg.Rest.TimeoutMs), cfg.Rest.PageSize, conn.Credential)
	if err != nil {
		log.Warn("REST 未配置，发送与列表刷新不可用", "err", err)
	} else {
		log.Info("REST 客户端就绪", "base_url", cfg.Rest.BaseURL, "page_size", client.PageSize())
		remote = client
	}

	repo := repository.NewConversationRepo()
	changes := dispatcher.New[model.ConversationChange]("conversation-changes")
	reads := service.NewReadTracker(repo, conn, remote, changes, ms(cfg.Session.ReadDebounceMs))
	imService := service.NewIMService(repo, conn, remote, reads, changes, cfg.Rest.MaxPages)

	var cache service.SnapshotCache
	var rdb *goredis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.InitRedis(ctx, cfg.Redis)
		if err != nil {
			log.Warn("Redis 不可用，跳过快照缓存", "addr", cfg.Redis.Addr, "err", err)
		} else {
			cache = redis.NewSnapshotCache(rdb, time.Duration(cfg.Redis.TTLSec)*time.Second)
		}
	}

	session := service.NewSession(conn, imService, cache, cfg.Session.Credential)

	resyncJob := job.NewConversationResyncJob(imService, ms(cfg.Rest.TimeoutMs)*time.Duration(max(cfg.Rest.MaxPages, 1)))
	cronMgr := cron.NewCronManager(resyncJob, cfg.Resync.Spec)

	handlers := &api.HandlersGroup{
		IMHandler: handler.NewIMHandler(session),
		WsHandler: handler.NewWsHandler(session),
	}
	router := api.SetupRouter(handlers)

	return &ApplicationContainer{
		Router:  router,
		Session: session,
		CronMgr: cronMgr,
		Redis:   rdb,
	}, nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

package cron

import (
	"Storefront/internal/job"
	log "log/slog"

	"github.com/robfig/cron/v3"
)

type Manager struct {
	engine    *cron.Cron
	resyncJob *job.ConversationResyncJob
	spec      string
}

// NewCronManager spec 为空时不注册会话重同步
func NewCronManager(resyncJob *job.ConversationResyncJob, spec string) *Manager {
	return &Manager{
		engine:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		resyncJob: resyncJob,
		spec:      spec,
	}
}

// RegisterJobs 注册定时任务
func (s *Manager) RegisterJobs() error {
	if s.spec == "" {
		log.Info("会话重同步未配置，跳过")
		return nil
	}
	if _, err := s.engine.AddJob(s.spec, s.resyncJob); err != nil {
		return err
	}
	return nil
}

// Entries 已注册任务数
func (s *Manager) Entries() int {
	return len(s.engine.Entries())
}

func (s *Manager) Start() {
	log.Info("Cron 定时任务引擎启动")
	s.engine.Start()
}

// Stop 停止调度并等待执行中的任务结束
func (s *Manager) Stop() {
	log.Info("Cron 定时任务引擎停止")
	<-s.engine.Stop().Done()
}

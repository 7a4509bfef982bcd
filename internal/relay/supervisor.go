package relay

import (
	"context"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/metrics"

	"github.com/rs/zerolog"
)

const restartDelay = 200 * time.Millisecond

// ListenerFactory 每次冷启动时基于新核心构建监听器。
type ListenerFactory func(*Core) Listener

// Supervisor 负责监听器和事件流的自愈：监听器致命错误触发整体冷重启
// （重建注册表、重建监听器、重挂心跳），事件流断开只做重新订阅。
type Supervisor struct {
	cfg     config.Config
	store   Store
	feed    Feed
	factory ListenerFactory
	log     zerolog.Logger
}

func NewSupervisor(cfg config.Config, st Store, feed Feed, factory ListenerFactory, logger zerolog.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, store: st, feed: feed, factory: factory, log: logger}
}

// Run 循环执行 启动-监听-崩溃-重建，ctx 取消后优雅退出。
// 存储不可用时带退避重试，绝不会让监听器对着空注册表接收连接。
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		core := New(s.cfg, s.log)
		if err := core.Prime(ctx, s.store); err != nil {
			s.log.Error().Err(err).Dur("backoff", backoff).Msg("store unavailable, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second

		coreCtx, cancel := context.WithCancel(ctx)
		core.Start(coreCtx)
		go s.pumpFeed(coreCtx, core)

		lis := s.factory(core)
		stopWatch := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				sdCtx, sdCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer sdCancel()
				_ = lis.Shutdown(sdCtx)
			case <-stopWatch:
			}
		}()

		err := lis.Serve()
		close(stopWatch)
		// 重建前先停掉核心循环和心跳，避免对着过期注册表操作。
		cancel()
		<-core.Stopped()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.SupervisorRestartsTotal.Inc()
		s.log.Warn().Err(err).Msg("listener died, cold restart")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(restartDelay):
		}
	}
}

// pumpFeed 把事件流灌进核心，流关闭时重新订阅（断流期间最多丢失
// 一小段扇出，不影响监听器和注册表）。
func (s *Supervisor) pumpFeed(ctx context.Context, core *Core) {
	for {
		events, err := s.feed.Subscribe(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("feed subscribe failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.FeedPollPeriod):
			}
			continue
		}
		for ev := range events {
			core.Publish(ev)
		}
		if ctx.Err() != nil {
			return
		}
		s.log.Warn().Msg("feed disconnected, resubscribing")
	}
}

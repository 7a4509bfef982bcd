package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"chatrelay/internal/config"
	"chatrelay/internal/db"
	clog "chatrelay/internal/log"
	"chatrelay/internal/relay"
	"chatrelay/internal/server"
	"chatrelay/internal/store"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Supervisor。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	st := store.New(gdb)
	feed := store.NewPollFeed(gdb, cfg.FeedPollPeriod)
	factory := func(core *relay.Core) relay.Listener {
		return server.NewListener(cfg.Port, server.SetupRouter(cfg, gdb, core))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := relay.NewSupervisor(cfg, st, feed, factory, log.Logger)
	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("supervisor run")
	}
}

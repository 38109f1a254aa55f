package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/common/logger"
	commonredis "github.com/pr-poehali-dev/emergency-visit-tracker/common/redis"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/config"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/media"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/service"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/store"
)

const dispatcherQueueSize = 32

// app 一次命令执行所需的全部组件
type app struct {
	cfg        *config.ClientConfig
	log        *zap.Logger
	store      *store.LocalStore
	quota      *store.QuotaKV
	state      *service.AppState
	sync       *service.SyncClient
	coord      *service.SyncCoordinator
	dispatcher *service.Dispatcher
	pipeline   *media.Pipeline
	redis      *redis.Client
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "visit-tracker")
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	var kv store.KV
	var pending store.PendingQueue
	switch cfg.Store.Backend {
	case "redis":
		a.redis = commonredis.NewRedisClient(&cfg.Redis)
		if err := commonredis.Ping(ctx, a.redis); err != nil {
			_ = a.redis.Close()
			return nil, fmt.Errorf("redis unavailable at %s: %w", cfg.Redis.Addr, err)
		}
		kv = store.NewRedisKV(a.redis)
		pending = store.NewRedisPendingQueue(a.redis, store.PendingNamespace)
	case "file", "":
		fkv, err := store.NewFileKV(cfg.Store.DataDir)
		if err != nil {
			return nil, err
		}
		kv = fkv
		pending = store.NewKVPendingQueue(fkv, store.KeyPending)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	a.quota = store.NewQuotaKV(kv, store.KeyPrefix, int(cfg.Store.QuotaBytes))
	a.store = store.NewLocalStore(a.quota, pending, log)

	a.sync = service.NewSyncClient(service.SyncClientConfig{
		Endpoint:        cfg.Sync.Endpoint,
		Timeout:         cfg.Sync.Timeout,
		PaceDelay:       cfg.Sync.PaceDelay,
		CheckConnection: cfg.Sync.CheckConnection,
	}, a.store, log)
	a.dispatcher = service.NewDispatcher(dispatcherQueueSize, cfg.Sync.Timeout, log)
	a.state = service.NewAppState(service.AppDeps{
		Store:     a.store,
		Remote:    a.sync,
		Notifier:  service.NewSmsClient(cfg.Sync.SmsEndpoint, 0, log),
		Scheduler: a.dispatcher,
		Logger:    log,
	})
	if err := a.state.Load(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.coord = service.NewSyncCoordinator(a.state, a.sync, a.store, log)

	opts := media.DefaultOptions()
	opts.MaxDimension = cfg.Media.MaxDimension
	opts.Mode = media.RefMode(cfg.Media.Mode)
	var uploader media.Uploader
	if opts.Mode == media.ModeUpload {
		uploader = service.NewPhotoClient(cfg.Sync.PhotoEndpoint, cfg.Sync.Timeout, log)
	}
	a.pipeline = media.NewPipeline(opts, media.NewExecConverter(cfg.Media.HeicConverter), uploader, log)
	return a, nil
}

// Close 等待后台自动保存完成后释放资源
func (a *app) Close() {
	a.dispatcher.Wait()
	a.dispatcher.Close()
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.log.Sync()
}

// withApp 为每个子命令创建并释放 app
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

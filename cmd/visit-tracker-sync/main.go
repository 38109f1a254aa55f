package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/common/database"
	"github.com/pr-poehali-dev/emergency-visit-tracker/common/logger"
	commonmqtt "github.com/pr-poehali-dev/emergency-visit-tracker/common/mqtt"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/config"
	httpapi "github.com/pr-poehali-dev/emergency-visit-tracker/internal/http"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/repository"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/service"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "visit-tracker-sync")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	var db *sql.DB
	var repo repository.RosterRepository
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(&cfg.Database); err == nil {
			pg := repository.NewPostgresRosterRepo(d, log)
			if err := pg.EnsureSchema(context.Background()); err != nil {
				log.Warn("Schema bootstrap failed, falling back to memory", zap.Error(err))
				_ = d.Close()
			} else {
				db = d
				repo = pg
				log.Info("DB enabled for visit-tracker-sync")
			}
		} else {
			log.Warn("DB enabled but connection failed, falling back to memory", zap.Error(err))
		}
	}
	if repo == nil {
		// DB 未就绪：内存存储，进程重启后数据丢失
		repo = repository.NewMemoryRosterRepo()
	}

	photos, err := repository.NewPhotoStore(cfg.HTTP.MediaDir, strings.TrimRight(cfg.HTTP.PublicURL, "/")+"/media")
	if err != nil {
		log.Fatal("Failed to init photo store", zap.Error(err))
	}

	var sender service.SmsSender
	if cfg.TwilioEnabled() {
		sender = service.NewTwilioSender(cfg.SMS.TwilioAccountSID, cfg.SMS.TwilioAuthToken, cfg.SMS.TwilioFrom)
		log.Info("SMS via Twilio enabled")
	}

	var mq *commonmqtt.Client
	var events service.EventPublisher
	if cfg.MQTT.Enabled {
		if c, err := commonmqtt.NewClient(&cfg.MQTT, log); err == nil {
			mq = c
			events = c
		} else {
			log.Warn("MQTT enabled but connection failed, change events disabled", zap.Error(err))
		}
	}

	svc := service.NewSyncService(service.SyncServiceDeps{
		Repo:        repo,
		Photos:      photos,
		Sms:         service.NewSmsGateway(cfg.SMS.Org, sender, log),
		Events:      events,
		TopicPrefix: cfg.MQTT.Topic,
		Logger:      log,
	})
	handler := httpapi.NewSyncHandler(svc, cfg.HTTP.MaxBodyBytes, log)
	srv := service.NewServer(cfg.HTTP.Addr, httpapi.NewRouter(handler, cfg.HTTP.MediaDir, log), log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server stopped", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if mq != nil {
		mq.Disconnect()
	}
	if db != nil {
		_ = db.Close()
	}
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	commonmqtt "github.com/pr-poehali-dev/emergency-visit-tracker/common/mqtt"
)

// Subscriber MQTT 订阅端口（common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, handler commonmqtt.MessageHandler) error
}

// SyncAgent 后台同步代理：按 cron 表达式定时全量同步，
// 收到服务端的对象变更事件时触发一次下载
type SyncAgent struct {
	coord      *SyncCoordinator
	cron       *cron.Cron
	schedule   string
	subscriber Subscriber
	topic      string
	logger     *zap.Logger
}

func NewSyncAgent(coord *SyncCoordinator, schedule string, subscriber Subscriber, topic string, logger *zap.Logger) *SyncAgent {
	if schedule == "" {
		schedule = "@every 15m"
	}
	return &SyncAgent{
		coord:      coord,
		cron:       cron.New(),
		schedule:   schedule,
		subscriber: subscriber,
		topic:      topic,
		logger:     logger,
	}
}

func (a *SyncAgent) Start(ctx context.Context) error {
	_, err := a.cron.AddFunc(a.schedule, func() {
		a.runFullSync(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", a.schedule, err)
	}

	if a.subscriber != nil && a.topic != "" {
		if err := a.subscriber.Subscribe(a.topic, func(topic string, _ []byte) error {
			a.logger.Info("Objects changed on server, downloading", zap.String("topic", topic))
			res, err := a.coord.Download(ctx)
			if err != nil {
				return err
			}
			if !res.OK() {
				return errors.New(res.Message)
			}
			return nil
		}); err != nil {
			return err
		}
	}

	a.cron.Start()
	a.logger.Info("Sync agent started", zap.String("schedule", a.schedule), zap.String("topic", a.topic))
	return nil
}

// Stop 停止调度，等待正在执行的同步结束
func (a *SyncAgent) Stop() {
	<-a.cron.Stop().Done()
	a.logger.Info("Sync agent stopped")
}

func (a *SyncAgent) runFullSync(ctx context.Context) {
	res, err := a.coord.FullSync(ctx, nil)
	if err != nil {
		a.logger.Info("Scheduled sync skipped", zap.Error(err))
		return
	}
	if !res.OK() {
		a.logger.Warn("Scheduled sync did not complete",
			zap.String("status", string(res.Status)),
			zap.String("cause", string(res.Cause)),
			zap.String("message", res.Message),
		)
	}
}

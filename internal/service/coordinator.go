package service

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
)

// ErrSyncInProgress 已有同步在进行，重复触发被拒绝
var ErrSyncInProgress = errors.New("sync already in progress")

// Syncer 远程同步端口（SyncClient 实现）
type Syncer interface {
	Download(ctx context.Context) SyncResult
	Upload(ctx context.Context, objects []domain.SiteObject, progress ProgressFunc) SyncResult
	FullSync(ctx context.Context, objects []domain.SiteObject, progress ProgressFunc) SyncResult
}

// PendingClearer 同步成功后清空待同步队列
type PendingClearer interface {
	ClearAllPending(ctx context.Context) error
}

// SyncCoordinator 把同步结果应用回 AppState，用 busy 标志防止重复触发
type SyncCoordinator struct {
	state   *AppState
	syncer  Syncer
	pending PendingClearer
	logger  *zap.Logger
	busy    atomic.Bool
}

func NewSyncCoordinator(state *AppState, syncer Syncer, pending PendingClearer, logger *zap.Logger) *SyncCoordinator {
	return &SyncCoordinator{state: state, syncer: syncer, pending: pending, logger: logger}
}

// Busy 是否有同步正在进行
func (c *SyncCoordinator) Busy() bool { return c.busy.Load() }

func (c *SyncCoordinator) Download(ctx context.Context) (SyncResult, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return SyncResult{}, ErrSyncInProgress
	}
	defer c.busy.Store(false)

	res := c.syncer.Download(ctx)
	if res.OK() {
		c.state.ReplaceAll(res.Objects, res.Users)
	}
	return res, nil
}

func (c *SyncCoordinator) Upload(ctx context.Context, progress ProgressFunc) (SyncResult, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return SyncResult{}, ErrSyncInProgress
	}
	defer c.busy.Store(false)

	res := c.syncer.Upload(ctx, c.state.Objects(), progress)
	if res.OK() {
		c.clearPending(ctx)
	}
	return res, nil
}

// FullSync 上传本地变更后拉取服务端合并后的权威数据
func (c *SyncCoordinator) FullSync(ctx context.Context, progress ProgressFunc) (SyncResult, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return SyncResult{}, ErrSyncInProgress
	}
	defer c.busy.Store(false)

	res := c.syncer.FullSync(ctx, c.state.Objects(), progress)
	switch res.Status {
	case StatusSuccess:
		c.state.ReplaceAll(res.Objects, res.Users)
		c.clearPending(ctx)
	case StatusPartial:
		// 上传已被服务端确认，本地数据保持不变
		c.clearPending(ctx)
	}
	c.logger.Info("Full sync finished",
		zap.String("status", string(res.Status)),
		zap.String("message", res.Message),
	)
	return res, nil
}

func (c *SyncCoordinator) clearPending(ctx context.Context) {
	if c.pending == nil {
		return
	}
	if err := c.pending.ClearAllPending(ctx); err != nil {
		c.logger.Warn("Failed to clear pending queue", zap.Error(err))
	}
}

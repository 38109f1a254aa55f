package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
)

// blockingSyncer 在 release 关闭前阻塞，用于验证 busy 标志
type blockingSyncer struct {
	release chan struct{}
	result  SyncResult
}

func (b *blockingSyncer) Download(context.Context) SyncResult { <-b.release; return b.result }
func (b *blockingSyncer) Upload(context.Context, []domain.SiteObject, ProgressFunc) SyncResult {
	<-b.release
	return b.result
}
func (b *blockingSyncer) FullSync(context.Context, []domain.SiteObject, ProgressFunc) SyncResult {
	<-b.release
	return b.result
}

func TestCoordinator_RejectsDuplicateTrigger(t *testing.T) {
	app := newTestApp(t)
	syncer := &blockingSyncer{release: make(chan struct{}), result: SyncResult{Status: StatusSuccess}}
	coord := NewSyncCoordinator(app.state, syncer, app.store, zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = coord.FullSync(context.Background(), nil)
	}()
	require.Eventually(t, coord.Busy, time.Second, 5*time.Millisecond)

	_, err := coord.Download(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(syncer.release)
	<-done
	assert.False(t, coord.Busy())
}

func TestCoordinator_FullSyncReplacesStateAndClearsPending(t *testing.T) {
	_, srv := newFakeSyncServer(t)
	app := newTestApp(t)
	ctx := context.Background()
	app.login(t, "director")
	obj, err := app.state.AddObject(ctx, ObjectInput{Name: "Site", Address: "Addr"})
	require.NoError(t, err)

	ops, err := app.store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	coord := NewSyncCoordinator(app.state, newTestSyncClient(srv.URL, app.store), app.store, zap.NewNop())
	res, err := coord.FullSync(ctx, nil)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Message)

	ops, err = app.store.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)

	got, err := app.state.Object(obj.ID)
	require.NoError(t, err)
	assert.Equal(t, "Site", got.Name)
	// 服务端没有用户名单时保留本地名单
	assert.Len(t, app.state.Users(), 2)
}

func TestCoordinator_FailedUploadKeepsPending(t *testing.T) {
	fake, srv := newFakeSyncServer(t)
	fake.rejectName = "Site"
	app := newTestApp(t)
	ctx := context.Background()
	app.login(t, "director")
	_, err := app.state.AddObject(ctx, ObjectInput{Name: "Site", Address: "Addr"})
	require.NoError(t, err)

	coord := NewSyncCoordinator(app.state, newTestSyncClient(srv.URL, app.store), app.store, zap.NewNop())
	res, err := coord.FullSync(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, res.Status)

	ops, err := app.store.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestDispatcher_AtMostOnceAndLogged(t *testing.T) {
	d := NewDispatcher(4, time.Second, zap.NewNop())
	var calls atomic.Int32

	assert.True(t, d.Submit("fails", func(context.Context) error {
		calls.Add(1)
		return errors.New("boom")
	}))
	assert.True(t, d.Submit("ok", func(context.Context) error {
		calls.Add(1)
		return nil
	}))
	d.Wait()
	assert.Equal(t, int32(2), calls.Load(), "failed job is not retried")

	d.Close()
	assert.False(t, d.Submit("late", func(context.Context) error { return nil }))
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(1, time.Second, zap.NewNop())
	defer d.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, d.Submit("blocker", func(context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started
	require.True(t, d.Submit("queued", func(context.Context) error { return nil }))
	assert.False(t, d.Submit("dropped", func(context.Context) error { return nil }))
	close(block)
	d.Wait()
}

func TestDispatcher_RecoversPanic(t *testing.T) {
	d := NewDispatcher(2, time.Second, zap.NewNop())
	defer d.Close()
	d.Submit("panics", func(context.Context) error { panic("bad") })
	var ran atomic.Bool
	d.Submit("after", func(context.Context) error { ran.Store(true); return nil })
	d.Wait()
	assert.True(t, ran.Load())
}

package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/store"
)

func setupRedisStore(t *testing.T) (*miniredis.Miniredis, *store.LocalStore) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ls := store.NewLocalStore(store.NewRedisKV(client), store.NewRedisPendingQueue(client, store.PendingNamespace), zap.NewNop())
	return mr, ls
}

func TestLocalStore_RosterAndObjectsRoundTrip(t *testing.T) {
	_, ls := setupRedisStore(t)
	ctx := context.Background()

	users, err := ls.LoadRoster(ctx)
	require.NoError(t, err)
	assert.Nil(t, users)

	roster := domain.DefaultRoster(time.Now())
	require.NoError(t, ls.SaveRoster(ctx, roster))
	got, err := ls.LoadRoster(ctx)
	require.NoError(t, err)
	assert.Equal(t, roster, got)

	objects := []domain.SiteObject{{ID: "o1", Name: "Site A", Address: "1 Main St", ObjectType: domain.ObjectRegular, Visits: []domain.Visit{}}}
	require.NoError(t, ls.SaveObjects(ctx, objects))
	gotObjects, err := ls.LoadObjects(ctx)
	require.NoError(t, err)
	require.Len(t, gotObjects, 1)
	assert.Equal(t, "Site A", gotObjects[0].Name)
}

func TestLocalStore_WriteUpdatesLastSync(t *testing.T) {
	_, ls := setupRedisStore(t)
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ls.WithClock(func() time.Time { return fixed })

	last, err := ls.LastSync(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	require.NoError(t, ls.SaveObjects(ctx, nil))
	last, err = ls.LastSync(ctx)
	require.NoError(t, err)
	assert.True(t, fixed.Equal(last))
}

func TestLocalStore_Session(t *testing.T) {
	_, ls := setupRedisStore(t)
	ctx := context.Background()

	s, err := ls.LoadSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, ls.SaveSession(ctx, domain.Session{Role: domain.RoleTechnician, Name: "Ivan"}))
	s, err = ls.LoadSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "Ivan", s.Name)

	require.NoError(t, ls.ClearSession(ctx))
	s, err = ls.LoadSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestLocalStore_PendingQueueOrder(t *testing.T) {
	_, ls := setupRedisStore(t)
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ls.WithClock(func() time.Time { return fixed })

	a, err := ls.EnqueuePending(ctx, store.OpVisit, map[string]string{"n": "a"})
	require.NoError(t, err)
	b, err := ls.EnqueuePending(ctx, store.OpTask, map[string]string{"n": "b"})
	require.NoError(t, err)
	c, err := ls.EnqueuePending(ctx, store.OpObject, map[string]string{"n": "c"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a.ID, "pending_"))
	assert.Less(t, a.Timestamp, b.Timestamp, "same-millisecond ops still get increasing timestamps")

	ops, err := ls.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, []string{ops[0].ID, ops[1].ID, ops[2].ID})
	assert.Equal(t, store.OpTask, ops[1].Type)

	require.NoError(t, ls.ClearPending(ctx, b.ID))
	ops, err = ls.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 2)

	require.NoError(t, ls.ClearAllPending(ctx))
	ops, err = ls.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestLocalStore_QuotaExceededIsDistinguishable(t *testing.T) {
	ctx := context.Background()
	kv := store.NewQuotaKV(newFakeKVStore(), store.KeyPrefix, 1024)
	ls := store.NewLocalStore(kv, store.NewMemoryPendingQueue(), zap.NewNop())

	big := domain.SiteObject{ID: "o1", Name: "Site", Address: "Addr", ObjectPhoto: strings.Repeat("x", 2048)}
	err := ls.SaveObjects(ctx, []domain.SiteObject{big})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrQuotaExceeded))

	// 失败的写入不落盘
	objects, err := ls.LoadObjects(ctx)
	require.NoError(t, err)
	assert.Nil(t, objects)
}

func TestQuotaKV_CountsExistingValues(t *testing.T) {
	ctx := context.Background()
	backing := newFakeKVStore()
	backing.data[store.KeyUsers] = strings.Repeat("u", 600)
	kv := store.NewQuotaKV(backing, store.KeyPrefix, 1000)

	used, err := kv.Used(ctx)
	require.NoError(t, err)
	assert.Equal(t, 600, used)

	assert.ErrorIs(t, kv.Set(ctx, store.KeyObjects, strings.Repeat("o", 401), 0), store.ErrQuotaExceeded)
	require.NoError(t, kv.Set(ctx, store.KeyObjects, strings.Repeat("o", 400), 0))

	// 覆盖同一个 key 不重复计算旧值
	require.NoError(t, kv.Set(ctx, store.KeyUsers, strings.Repeat("u", 600), 0))
}

func TestFileKV_CompressedRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv, err := store.NewFileKV(t.TempDir())
	require.NoError(t, err)

	_, err = kv.Get(ctx, store.KeyObjects)
	assert.ErrorIs(t, err, store.ErrMiss)

	value := strings.Repeat(`{"id":"o1","name":"Site"}`, 100)
	require.NoError(t, kv.Set(ctx, store.KeyObjects, value, 0))
	require.NoError(t, kv.Set(ctx, store.KeyUsers, "[]", 0))

	got, err := kv.Get(ctx, store.KeyObjects)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	keys, err := kv.ScanKeys(ctx, store.KeyPrefix+"*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{store.KeyObjects, store.KeyUsers}, keys)

	require.NoError(t, kv.Delete(ctx, store.KeyUsers))
	_, err = kv.Get(ctx, store.KeyUsers)
	assert.ErrorIs(t, err, store.ErrMiss)
}

func TestMemoryPendingQueue(t *testing.T) {
	ctx := context.Background()
	ls := store.NewLocalStore(newFakeKVStore(), store.NewMemoryPendingQueue(), zap.NewNop())

	first, err := ls.EnqueuePending(ctx, store.OpVisit, "x")
	require.NoError(t, err)
	_, err = ls.EnqueuePending(ctx, store.OpVisit, "y")
	require.NoError(t, err)

	ops, err := ls.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, first.ID, ops[0].ID)
}

func TestKVPendingQueue_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	kv, err := store.NewFileKV(t.TempDir())
	require.NoError(t, err)

	ls := store.NewLocalStore(newFakeKVStore(), store.NewKVPendingQueue(kv, store.KeyPending), zap.NewNop())
	first, err := ls.EnqueuePending(ctx, store.OpObject, map[string]string{"objectId": "a"})
	require.NoError(t, err)
	second, err := ls.EnqueuePending(ctx, store.OpTask, map[string]string{"objectId": "b"})
	require.NoError(t, err)

	// 新进程重新打开同一个目录
	reopened := store.NewLocalStore(newFakeKVStore(), store.NewKVPendingQueue(kv, store.KeyPending), zap.NewNop())
	ops, err := reopened.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, first.ID, ops[0].ID)

	require.NoError(t, reopened.ClearPending(ctx, first.ID))
	ops, err = reopened.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, second.ID, ops[0].ID)

	require.NoError(t, reopened.ClearAllPending(ctx))
	ops, err = reopened.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

// 与 CLI 的 redis 后端相同的装配：配额包在 RedisKV 外面，队列和同步层共用一个 Redis
func newRedisBackedStore(client *redis.Client) (*store.LocalStore, *store.QuotaKV) {
	quota := store.NewQuotaKV(store.NewRedisKV(client), store.KeyPrefix, store.DefaultQuotaBytes)
	return store.NewLocalStore(quota, store.NewRedisPendingQueue(client, store.PendingNamespace), zap.NewNop()), quota
}

func TestLocalStore_RedisQuotaWithPendingAcrossRuns(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	objects := []domain.SiteObject{{ID: "o1", Name: "Site A", Address: "1 Main St", Visits: []domain.Visit{}}}
	first, _ := newRedisBackedStore(client)
	require.NoError(t, first.SaveObjects(ctx, objects))
	_, err := first.EnqueuePending(ctx, store.OpObject, objects[0])
	require.NoError(t, err)

	// 下一次命令：新的配额实例需要重新扫描已有 key
	second, quota := newRedisBackedStore(client)
	objects[0].Name = "Site B"
	require.NoError(t, second.SaveObjects(ctx, objects))
	require.NoError(t, second.SaveRoster(ctx, domain.DefaultRoster(time.Now())))
	require.NoError(t, second.SaveSession(ctx, domain.Session{Role: domain.RoleDirector, Name: "Boss"}))

	got, err := second.LoadObjects(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Site B", got[0].Name)

	ops, err := second.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 1)

	used, err := quota.Used(ctx)
	require.NoError(t, err)
	assert.Positive(t, used)
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, store.KeyPrefix) {
			assert.Equal(t, "string", mr.Type(k), k)
		}
	}
}

func TestLocalStore_FileQuotaExcludesPendingQueue(t *testing.T) {
	ctx := context.Background()
	fkv, err := store.NewFileKV(t.TempDir())
	require.NoError(t, err)
	quota := store.NewQuotaKV(fkv, store.KeyPrefix, 4096)
	ls := store.NewLocalStore(quota, store.NewKVPendingQueue(fkv, store.KeyPending), zap.NewNop())

	// 队列本身比配额还大也不影响同步层写入
	_, err = ls.EnqueuePending(ctx, store.OpVisit, strings.Repeat("p", 8192))
	require.NoError(t, err)
	require.NoError(t, ls.SaveSession(ctx, domain.Session{Role: domain.RoleTechnician, Name: "Ivan"}))

	reopened := store.NewQuotaKV(fkv, store.KeyPrefix, 4096)
	used, err := reopened.Used(ctx)
	require.NoError(t, err)
	assert.Less(t, used, 4096)

	ls2 := store.NewLocalStore(reopened, store.NewKVPendingQueue(fkv, store.KeyPending), zap.NewNop())
	require.NoError(t, ls2.SaveObjects(ctx, []domain.SiteObject{{ID: "o1", Name: "Site", Address: "Addr", Visits: []domain.Visit{}}}))
	ops, err := ls2.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

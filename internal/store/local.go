package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
)

// 同步存储层的 key（与原有客户端数据保持一致）
const (
	KeyPrefix   = "mchs_"
	KeySession  = KeyPrefix + "session"
	KeyUsers    = KeyPrefix + "users"
	KeyObjects  = KeyPrefix + "objects"
	KeyLastSync = KeyPrefix + "last_sync"
	// KeyPending 异步层队列；不带 KeyPrefix，不计入同步层配额
	KeyPending = "pending_ops"
	// PendingNamespace Redis 异步层 key 的前缀，必须在 KeyPrefix 之外：
	// 配额按 KeyPrefix 扫描并按字符串读取，hash / zset 会读失败
	PendingNamespace = "visit_tracker:"
)

// LocalStore 本地持久化适配器：内存状态树的非拥有镜像。
// 每次写都是整值覆盖；成功写入后更新 last sync 时间。
type LocalStore struct {
	kv      KV
	pending PendingQueue
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	lastTS int64
}

func NewLocalStore(kv KV, pending PendingQueue, logger *zap.Logger) *LocalStore {
	return &LocalStore{kv: kv, pending: pending, logger: logger, now: time.Now}
}

// WithClock 替换时钟（测试用）
func (s *LocalStore) WithClock(now func() time.Time) *LocalStore {
	s.now = now
	return s
}

func (s *LocalStore) SaveRoster(ctx context.Context, users []domain.User) error {
	if users == nil {
		users = []domain.User{}
	}
	return s.writeJSON(ctx, KeyUsers, users)
}

// LoadRoster 没有保存过时返回 nil
func (s *LocalStore) LoadRoster(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	if err := s.readJSON(ctx, KeyUsers, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *LocalStore) SaveObjects(ctx context.Context, objects []domain.SiteObject) error {
	if objects == nil {
		objects = []domain.SiteObject{}
	}
	return s.writeJSON(ctx, KeyObjects, objects)
}

func (s *LocalStore) LoadObjects(ctx context.Context) ([]domain.SiteObject, error) {
	var objects []domain.SiteObject
	if err := s.readJSON(ctx, KeyObjects, &objects); err != nil {
		return nil, err
	}
	return objects, nil
}

func (s *LocalStore) SaveSession(ctx context.Context, session domain.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, KeySession, string(raw), 0)
}

// LoadSession 未登录时返回 nil
func (s *LocalStore) LoadSession(ctx context.Context) (*domain.Session, error) {
	var session domain.Session
	raw, err := s.kv.Get(ctx, KeySession)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if !session.Role.Valid() {
		return nil, nil
	}
	return &session, nil
}

func (s *LocalStore) ClearSession(ctx context.Context) error {
	return s.kv.Delete(ctx, KeySession)
}

// LastSync 最近一次成功写入/同步的时间；从未写过返回零值
func (s *LocalStore) LastSync(ctx context.Context) (time.Time, error) {
	raw, err := s.kv.Get(ctx, KeyLastSync)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// MarkSynced 记录同步时间
func (s *LocalStore) MarkSynced(ctx context.Context, t time.Time) error {
	return s.kv.Set(ctx, KeyLastSync, t.UTC().Format(time.RFC3339Nano), 0)
}

// EnqueuePending 生成 id 和时间戳后放入异步队列。
// 同一毫秒内的多次入队时间戳递增，保证按时间戳排序即插入顺序。
func (s *LocalStore) EnqueuePending(ctx context.Context, typ OpType, data any) (PendingOp, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return PendingOp{}, fmt.Errorf("marshal pending data: %w", err)
	}

	s.mu.Lock()
	ts := s.now().UnixMilli()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	s.mu.Unlock()

	op := PendingOp{
		ID:        "pending_" + strconv.FormatInt(ts, 10) + "_" + uuid.NewString()[:8],
		Timestamp: ts,
		Type:      typ,
		Data:      raw,
	}
	if err := s.pending.Add(ctx, op); err != nil {
		return PendingOp{}, fmt.Errorf("enqueue pending op: %w", err)
	}
	return op, nil
}

func (s *LocalStore) ListPending(ctx context.Context) ([]PendingOp, error) {
	return s.pending.List(ctx)
}

func (s *LocalStore) ClearPending(ctx context.Context, id string) error {
	return s.pending.Remove(ctx, id)
}

func (s *LocalStore) ClearAllPending(ctx context.Context) error {
	return s.pending.Clear(ctx)
}

func (s *LocalStore) writeJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, string(raw), 0); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			s.logger.Warn("Local storage quota exceeded",
				zap.String("key", key),
				zap.Int("bytes", len(raw)),
			)
			return fmt.Errorf("save %s: %w", key, ErrQuotaExceeded)
		}
		return fmt.Errorf("save %s: %w", key, err)
	}
	if err := s.MarkSynced(ctx, s.now()); err != nil {
		s.logger.Warn("Failed to update last sync timestamp", zap.Error(err))
	}
	return nil
}

func (s *LocalStore) readJSON(ctx context.Context, key string, out any) error {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

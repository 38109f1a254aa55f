package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-redis/redis/v8"
)

// OpType 待同步操作类型
type OpType string

const (
	OpVisit  OpType = "visit"
	OpObject OpType = "object"
	OpTask   OpType = "task"
)

// PendingOp 尚未被服务端确认的本地变更
type PendingOp struct {
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // 创建时间（毫秒）
	Type      OpType          `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// PendingQueue 异步存储层：按创建时间顺序取出
type PendingQueue interface {
	Add(ctx context.Context, op PendingOp) error
	List(ctx context.Context) ([]PendingOp, error)
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// RedisPendingQueue 操作体放在 hash 里，sorted set 以 timestamp 为分值做二级索引
type RedisPendingQueue struct {
	c        *redis.Client
	itemsKey string
	indexKey string
}

func NewRedisPendingQueue(c *redis.Client, prefix string) *RedisPendingQueue {
	return &RedisPendingQueue{
		c:        c,
		itemsKey: prefix + "pending:items",
		indexKey: prefix + "pending:by_timestamp",
	}
}

func (q *RedisPendingQueue) Add(ctx context.Context, op PendingOp) error {
	raw, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal pending op: %w", err)
	}
	_, err = q.c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.itemsKey, op.ID, raw)
		p.ZAdd(ctx, q.indexKey, &redis.Z{Score: float64(op.Timestamp), Member: op.ID})
		return nil
	})
	return err
}

func (q *RedisPendingQueue) List(ctx context.Context) ([]PendingOp, error) {
	ids, err := q.c.ZRange(ctx, q.indexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []PendingOp{}, nil
	}
	vals, err := q.c.HMGet(ctx, q.itemsKey, ids...).Result()
	if err != nil {
		return nil, err
	}
	ops := make([]PendingOp, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// 索引残留（操作体已删除），跳过
			continue
		}
		var op PendingOp
		if err := json.Unmarshal([]byte(s), &op); err != nil {
			return nil, fmt.Errorf("decode pending op %s: %w", ids[i], err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (q *RedisPendingQueue) Remove(ctx context.Context, id string) error {
	_, err := q.c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, q.itemsKey, id)
		p.ZRem(ctx, q.indexKey, id)
		return nil
	})
	return err
}

func (q *RedisPendingQueue) Clear(ctx context.Context) error {
	return q.c.Del(ctx, q.itemsKey, q.indexKey).Err()
}

// MemoryPendingQueue 无 Redis 时使用（进程内，不持久）
type MemoryPendingQueue struct {
	mu  sync.Mutex
	ops []PendingOp
}

func NewMemoryPendingQueue() *MemoryPendingQueue {
	return &MemoryPendingQueue{}
}

func (q *MemoryPendingQueue) Add(_ context.Context, op PendingOp) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, op)
	return nil
}

func (q *MemoryPendingQueue) List(_ context.Context) ([]PendingOp, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := append([]PendingOp{}, q.ops...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (q *MemoryPendingQueue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			break
		}
	}
	return nil
}

func (q *MemoryPendingQueue) Clear(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = nil
	return nil
}

// KVPendingQueue 整个队列作为一个 JSON 数组存放在 KV 的单个键下（FileKV 后端使用）
type KVPendingQueue struct {
	mu  sync.Mutex
	kv  KV
	key string
}

func NewKVPendingQueue(kv KV, key string) *KVPendingQueue {
	return &KVPendingQueue{kv: kv, key: key}
}

func (q *KVPendingQueue) load(ctx context.Context) ([]PendingOp, error) {
	raw, err := q.kv.Get(ctx, q.key)
	if errors.Is(err, ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ops []PendingOp
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		return nil, fmt.Errorf("corrupt pending queue: %w", err)
	}
	return ops, nil
}

func (q *KVPendingQueue) save(ctx context.Context, ops []PendingOp) error {
	if len(ops) == 0 {
		return q.kv.Delete(ctx, q.key)
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("marshal pending queue: %w", err)
	}
	return q.kv.Set(ctx, q.key, string(raw), 0)
}

func (q *KVPendingQueue) Add(ctx context.Context, op PendingOp) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops, err := q.load(ctx)
	if err != nil {
		return err
	}
	return q.save(ctx, append(ops, op))
}

func (q *KVPendingQueue) List(ctx context.Context) ([]PendingOp, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	out := append([]PendingOp{}, ops...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (q *KVPendingQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops, err := q.load(ctx)
	if err != nil {
		return err
	}
	for i, op := range ops {
		if op.ID == id {
			return q.save(ctx, append(ops[:i], ops[i+1:]...))
		}
	}
	return nil
}

func (q *KVPendingQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.kv.Delete(ctx, q.key)
}

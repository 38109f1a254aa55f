package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultQuotaBytes 与浏览器 localStorage 常见上限一致
const DefaultQuotaBytes = 5 * 1024 * 1024

// QuotaKV 给同步存储层加总容量上限。超限时返回 ErrQuotaExceeded 且不写入。
// 统计的是未压缩的值长度（key 前缀 prefix 下的所有值）。
type QuotaKV struct {
	next   KV
	limit  int
	prefix string

	mu     sync.Mutex
	sizes  map[string]int
	loaded bool
}

func NewQuotaKV(next KV, prefix string, limit int) *QuotaKV {
	if limit <= 0 {
		limit = DefaultQuotaBytes
	}
	return &QuotaKV{next: next, limit: limit, prefix: prefix, sizes: map[string]int{}}
}

func (q *QuotaKV) Get(ctx context.Context, key string) (string, error) {
	return q.next.Get(ctx, key)
}

func (q *QuotaKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.load(ctx); err != nil {
		return err
	}
	total := len(value)
	for k, n := range q.sizes {
		if k != key {
			total += n
		}
	}
	if total > q.limit {
		return ErrQuotaExceeded
	}
	if err := q.next.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	q.sizes[key] = len(value)
	return nil
}

func (q *QuotaKV) Delete(ctx context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.next.Delete(ctx, key); err != nil {
		return err
	}
	delete(q.sizes, key)
	return nil
}

func (q *QuotaKV) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	return q.next.ScanKeys(ctx, pattern)
}

// Used 当前已占用字节数
func (q *QuotaKV) Used(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.load(ctx); err != nil {
		return 0, err
	}
	total := 0
	for _, n := range q.sizes {
		total += n
	}
	return total, nil
}

// load 首次使用时扫描已有的值，之后只做增量维护
func (q *QuotaKV) load(ctx context.Context) error {
	if q.loaded {
		return nil
	}
	keys, err := q.next.ScanKeys(ctx, q.prefix+"*")
	if err != nil {
		return err
	}
	for _, k := range keys {
		v, err := q.next.Get(ctx, k)
		if err != nil {
			if errors.Is(err, ErrMiss) {
				continue
			}
			return err
		}
		q.sizes[k] = len(v)
	}
	q.loaded = true
	return nil
}

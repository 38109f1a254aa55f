package store_test

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/store"
)

// fakeKVStore 仅用于单元测试（内存 KV，可注入写入失败）
type fakeKVStore struct {
	mu     sync.Mutex
	data   map[string]string
	setErr error
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{data: make(map[string]string)}
}

func (f *fakeKVStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", store.ErrMiss
	}
	return v, nil
}

func (f *fakeKVStore) Set(_ context.Context, key string, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.data[key] = value
	return nil
}

func (f *fakeKVStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeKVStore) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.data {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

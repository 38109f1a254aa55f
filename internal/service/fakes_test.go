package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/store"
)

// memKV 仅用于单元测试（内存 KV，可注入写入失败）
type memKV struct {
	mu     sync.Mutex
	data   map[string]string
	setErr error
}

func newMemKV() *memKV { return &memKV{data: map[string]string{}} }

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", store.ErrMiss
	}
	return v, nil
}

func (m *memKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func newTestStore(kv store.KV) *store.LocalStore {
	return store.NewLocalStore(kv, store.NewMemoryPendingQueue(), zap.NewNop())
}

// fakeSyncServer 最小化的同步端点：对象按 id 覆盖，用户非空时整体替换
type fakeSyncServer struct {
	mu      sync.Mutex
	objects map[string]domain.SiteObject
	order   []string
	users   []domain.User
	posts   []string
	// rejectName 遇到该名称的对象返回 500
	rejectName string
	getStatus  int
	rawGet     string
	photos     int

	// optionsStatus 连接检查的响应码，0 表示 200
	optionsStatus int
}

func newFakeSyncServer(t *testing.T) (*fakeSyncServer, *httptest.Server) {
	f := &fakeSyncServer{objects: map[string]domain.SiteObject{}}
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeSyncServer) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodOptions:
		if f.optionsStatus != 0 {
			w.WriteHeader(f.optionsStatus)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		if f.getStatus != 0 {
			w.WriteHeader(f.getStatus)
			return
		}
		if f.rawGet != "" {
			_, _ = w.Write([]byte(f.rawGet))
			return
		}
		objects := make([]domain.SiteObject, 0, len(f.order))
		for _, id := range f.order {
			objects = append(objects, f.objects[id])
		}
		_ = json.NewEncoder(w).Encode(SyncResponse{Status: "success", Data: &SyncData{Objects: objects, Users: f.users}})
	case http.MethodPost:
		var env SyncEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for _, o := range env.Objects {
			f.posts = append(f.posts, o.Name)
			if o.Name == f.rejectName {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			if _, ok := f.objects[o.ID]; !ok {
				f.order = append(f.order, o.ID)
			}
			f.objects[o.ID] = o
		}
		if len(env.Users) > 0 {
			f.users = env.Users
		}
		_ = json.NewEncoder(w).Encode(SyncResponse{Status: "success", UploadedPhotos: f.photos})
	}
}

// inlineScheduler 同步执行后台任务，便于断言
type inlineScheduler struct {
	mu    sync.Mutex
	names []string
}

func (s *inlineScheduler) Submit(name string, fn func(ctx context.Context) error) bool {
	s.mu.Lock()
	s.names = append(s.names, name)
	s.mu.Unlock()
	_ = fn(context.Background())
	return true
}

type fakeNotifier struct {
	phones []string
	err    error
}

func (n *fakeNotifier) Notify(_ context.Context, phones []string, _, _ string) ([]domain.SmsNotification, error) {
	n.phones = phones
	if n.err != nil {
		return nil, n.err
	}
	out := make([]domain.SmsNotification, len(phones))
	for i, p := range phones {
		out[i] = domain.SmsNotification{Phone: p, Status: domain.SmsQueued}
	}
	return out, nil
}

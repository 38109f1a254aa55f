package repository

import (
	"context"
	"sync"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
)

// RosterRepository 服务端保存的对象与用户名单
type RosterRepository interface {
	// Snapshot 返回全部对象和用户
	Snapshot(ctx context.Context) ([]domain.SiteObject, []domain.User, error)
	// Merge 合并上传的对象；users 非空时整体替换用户名单。返回合并后的对象列表。
	Merge(ctx context.Context, objects []domain.SiteObject, users []domain.User) ([]domain.SiteObject, error)
}

// MemoryRosterRepo DB 未就绪时使用（进程内）
type MemoryRosterRepo struct {
	mu      sync.RWMutex
	objects []domain.SiteObject
	users   []domain.User
}

func NewMemoryRosterRepo() *MemoryRosterRepo {
	return &MemoryRosterRepo{objects: []domain.SiteObject{}, users: []domain.User{}}
}

func (r *MemoryRosterRepo) Snapshot(_ context.Context) ([]domain.SiteObject, []domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	objects := make([]domain.SiteObject, len(r.objects))
	for i, o := range r.objects {
		objects[i] = o.Clone()
	}
	return objects, append([]domain.User{}, r.users...), nil
}

func (r *MemoryRosterRepo) Merge(_ context.Context, objects []domain.SiteObject, users []domain.User) ([]domain.SiteObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects = MergeObjects(r.objects, objects)
	if len(users) > 0 {
		r.users = append([]domain.User(nil), users...)
	}
	out := make([]domain.SiteObject, len(r.objects))
	for i, o := range r.objects {
		out[i] = o.Clone()
	}
	return out, nil
}

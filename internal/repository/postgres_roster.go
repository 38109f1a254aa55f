package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/domain"
)

const rosterSchema = `
CREATE TABLE IF NOT EXISTS site_objects (
	id         TEXT PRIMARY KEY,
	position   INTEGER NOT NULL,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS app_users (
	id         TEXT PRIMARY KEY,
	position   INTEGER NOT NULL,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// PostgresRosterRepo 对象和用户以 JSONB 整行保存，position 保持客户端看到的顺序
type PostgresRosterRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

// 确保实现了接口
var _ RosterRepository = (*PostgresRosterRepo)(nil)

func NewPostgresRosterRepo(db *sql.DB, logger *zap.Logger) *PostgresRosterRepo {
	return &PostgresRosterRepo{db: db, logger: logger}
}

// EnsureSchema 建表（幂等）
func (r *PostgresRosterRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, rosterSchema); err != nil {
		return fmt.Errorf("failed to create roster schema: %w", err)
	}
	return nil
}

func (r *PostgresRosterRepo) Snapshot(ctx context.Context) ([]domain.SiteObject, []domain.User, error) {
	objects, err := queryPayloads[domain.SiteObject](ctx, r.db, `SELECT payload FROM site_objects ORDER BY position`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list objects: %w", err)
	}
	users, err := queryPayloads[domain.User](ctx, r.db, `SELECT payload FROM app_users ORDER BY position`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list users: %w", err)
	}
	return objects, users, nil
}

// Merge 在一个事务里锁住对象表，合并后只回写本次上传涉及的对象
func (r *PostgresRosterRepo) Merge(ctx context.Context, incoming []domain.SiteObject, users []domain.User) ([]domain.SiteObject, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := queryPayloads[domain.SiteObject](ctx, tx, `SELECT payload FROM site_objects ORDER BY position FOR UPDATE`)
	if err != nil {
		return nil, fmt.Errorf("failed to lock objects: %w", err)
	}
	merged := MergeObjects(current, incoming)

	touched := make(map[string]bool, len(incoming))
	for _, o := range incoming {
		touched[o.ID] = true
	}
	for pos, o := range merged {
		if !touched[o.ID] {
			continue
		}
		var payload []byte
		payload, err = json.Marshal(o)
		if err != nil {
			return nil, fmt.Errorf("failed to encode object %s: %w", o.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO site_objects (id, position, payload, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
			o.ID, pos, string(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to upsert object %s: %w", o.ID, err)
		}
	}

	if len(users) > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM app_users`); err != nil {
			return nil, fmt.Errorf("failed to reset users: %w", err)
		}
		for pos, u := range users {
			var payload []byte
			payload, err = json.Marshal(u)
			if err != nil {
				return nil, fmt.Errorf("failed to encode user %s: %w", u.ID, err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO app_users (id, position, payload, updated_at) VALUES ($1, $2, $3, now())`,
				u.ID, pos, string(payload))
			if err != nil {
				return nil, fmt.Errorf("failed to insert user %s: %w", u.ID, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit merge: %w", err)
	}
	r.logger.Debug("roster merged",
		zap.Int("incoming", len(incoming)),
		zap.Int("total", len(merged)),
		zap.Int("users", len(users)),
	)
	return merged, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryPayloads[T any](ctx context.Context, q queryer, query string) ([]T, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("corrupt payload: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

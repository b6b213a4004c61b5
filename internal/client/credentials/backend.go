package credentials

import (
	"context"
	"database/sql"
	"sync"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
)

// Backend is the storage medium under a Store. Save and Remove must be
// atomic with respect to Load.
type Backend interface {
	Load(ctx context.Context, keys ...string) (map[string][]byte, error)
	Save(ctx context.Context, values map[string][]byte) error
	Remove(ctx context.Context, keys ...string) error
}

// SQLBackend keeps values in the sqlite metadata table.
type SQLBackend struct {
	db *sql.DB
}

func NewSQLBackend(db *sql.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

func (b *SQLBackend) Load(ctx context.Context, keys ...string) (map[string][]byte, error) {
	return dbx.WithTxValue(ctx, b.db, nil, func(ctx context.Context, tx dbx.DBTX) (map[string][]byte, error) {
		repo := metadata.NewSQLiteRepository(tx)
		out := make(map[string][]byte, len(keys))
		for _, k := range keys {
			v, err := repo.Get(ctx, k)
			if err != nil {
				return nil, err
			}
			if v != nil {
				out[k] = v
			}
		}
		return out, nil
	})
}

func (b *SQLBackend) Save(ctx context.Context, values map[string][]byte) error {
	return dbx.WithTx(ctx, b.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)
		for k, v := range values {
			if err := repo.Set(ctx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *SQLBackend) Remove(ctx context.Context, keys ...string) error {
	return metadata.NewSQLiteRepository(b.db).Delete(ctx, keys...)
}

// MemoryBackend keeps values in process memory.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string][]byte)}
}

func (b *MemoryBackend) Load(_ context.Context, keys ...string) (map[string][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := b.values[k]; ok {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

func (b *MemoryBackend) Save(_ context.Context, values map[string][]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for k, v := range values {
		b.values[k] = append([]byte(nil), v...)
	}
	return nil
}

func (b *MemoryBackend) Remove(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, k := range keys {
		delete(b.values, k)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Backend persists opaque named buckets, grouped by namespace (one
// namespace per user).
type Backend interface {
	// Get returns the bucket content and whether the bucket exists.
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	// Keys lists the bucket keys of a namespace in lexical order.
	Keys(ctx context.Context, namespace string) ([]string, error)
	// Namespaces lists every namespace holding at least one bucket.
	Namespaces(ctx context.Context) ([]string, error)
}

// SQLiteBackend stores buckets in the buckets table.
type SQLiteBackend struct {
	DB *sql.DB
}

// NewSQLiteBackend wraps an open database whose schema is in place.
func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{DB: db}
}

// Get returns a bucket.
func (b *SQLiteBackend) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var value []byte
	err := b.DB.QueryRowContext(ctx,
		`SELECT value FROM buckets WHERE namespace = ? AND key = ?`, namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting bucket %s: %w", key, err)
	}
	return value, true, nil
}

// Put replaces a bucket.
func (b *SQLiteBackend) Put(ctx context.Context, namespace, key string, value []byte) error {
	_, err := b.DB.ExecContext(ctx,
		`INSERT INTO buckets (namespace, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		namespace, key, value,
	)
	if err != nil {
		return fmt.Errorf("putting bucket %s: %w", key, err)
	}
	return nil
}

// Delete removes a bucket. Deleting a missing bucket is not an error.
func (b *SQLiteBackend) Delete(ctx context.Context, namespace, key string) error {
	_, err := b.DB.ExecContext(ctx,
		`DELETE FROM buckets WHERE namespace = ? AND key = ?`, namespace, key,
	)
	if err != nil {
		return fmt.Errorf("deleting bucket %s: %w", key, err)
	}
	return nil
}

// Keys lists bucket keys of a namespace.
func (b *SQLiteBackend) Keys(ctx context.Context, namespace string) ([]string, error) {
	return b.strings(ctx, `SELECT key FROM buckets WHERE namespace = ? ORDER BY key`, namespace)
}

// Namespaces lists namespaces with stored buckets.
func (b *SQLiteBackend) Namespaces(ctx context.Context) ([]string, error) {
	return b.strings(ctx, `SELECT DISTINCT namespace FROM buckets ORDER BY namespace`)
}

func (b *SQLiteBackend) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := b.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing buckets: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning bucket: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MemoryBackend keeps buckets in memory. It is used by tests and by the
// maintenance CLI dry runs.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]map[string][]byte)}
}

// Get returns a copy of a bucket.
func (m *MemoryBackend) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[namespace][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Put replaces a bucket.
func (m *MemoryBackend) Put(_ context.Context, namespace, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[namespace] == nil {
		m.data[namespace] = make(map[string][]byte)
	}
	m.data[namespace][key] = append([]byte(nil), value...)
	return nil
}

// Delete removes a bucket.
func (m *MemoryBackend) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[namespace], key)
	if len(m.data[namespace]) == 0 {
		delete(m.data, namespace)
	}
	return nil
}

// Keys lists bucket keys of a namespace.
func (m *MemoryBackend) Keys(_ context.Context, namespace string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data[namespace]))
	for k := range m.data[namespace] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Namespaces lists namespaces with stored buckets.
func (m *MemoryBackend) Namespaces(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.data))
	for ns := range m.data {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

// Raw stores a bucket verbatim. Tests use it to plant malformed data.
func (m *MemoryBackend) Raw(namespace, key, value string) {
	m.Put(context.Background(), namespace, key, []byte(value))
}

func hasPrefix(key string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	serializer "github.com/always-cache/offline-shell/pkg/response-serializer"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// SQLiteStorage stores caches in a SQLite database.
// Entries are kept as HTTP/1.1 wire bytes.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStorage creates a storage with the given filename as the db.
// If file name is empty, a new in-memory db is opened. Every in-memory
// storage gets its own db, shared only by the connections of its pool.
func NewSQLiteStorage(filename string) (*SQLiteStorage, error) {
	if filename == "" {
		filename = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS caches (
			name TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			cache TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (cache, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite cache: %w", err)
		}
	}
	return &SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteStorage) Open(ctx context.Context, name string) (Handle, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO caches (name) VALUES (?)", name); err != nil {
		return nil, err
	}
	return sqliteHandle{s: s, name: name}, nil
}

func (s *SQLiteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM caches ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	result, err := tx.ExecContext(ctx, "DELETE FROM caches WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE cache = ?", name); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type sqliteHandle struct {
	s    *SQLiteStorage
	name string
}

func (h sqliteHandle) Name() string {
	return h.name
}

func (h sqliteHandle) Put(ctx context.Context, key string, res Response) error {
	bts, err := serializer.StoredResponseToBytes(serializer.TimedResponse{
		Response: res.HTTPResponse(nil),
		StoredAt: res.StoredAt,
	})
	if err != nil {
		return fmt.Errorf("serialize response: %w", err)
	}
	h.s.writeMutex.Lock()
	defer h.s.writeMutex.Unlock()
	// only write into caches that still exist
	result, err := h.s.db.ExecContext(ctx, `INSERT OR REPLACE INTO entries (cache, key, stored_at, bytes)
		SELECT name, ?, ?, ? FROM caches WHERE name = ?`,
		key, res.StoredAt.UnixNano(), bts, h.name)
	if err != nil {
		return err
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrCacheDeleted
	}
	return nil
}

func (h sqliteHandle) Match(ctx context.Context, key string) (Response, bool, error) {
	var bts []byte
	err := h.s.db.QueryRowContext(ctx,
		"SELECT bytes FROM entries WHERE cache = ? AND key = ?", h.name, key,
	).Scan(&bts)
	if errors.Is(err, sql.ErrNoRows) {
		return Response{}, false, nil
	}
	if err != nil {
		return Response{}, false, err
	}
	sRes, err := serializer.BytesToStoredResponse(bts)
	if err != nil {
		return Response{}, false, fmt.Errorf("deserialize %s: %w", key, err)
	}
	defer sRes.Response.Body.Close()
	body, err := readBody(sRes.Response)
	if err != nil {
		return Response{}, false, err
	}
	res := Snapshot(sRes.Response, body)
	res.StoredAt = sRes.StoredAt
	return res, true, nil
}

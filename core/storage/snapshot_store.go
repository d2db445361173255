package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	_ "modernc.org/sqlite"
)

// =============================================================================
// Snapshot Store
// =============================================================================
//
// SnapshotStore is the durable write target for finalized document snapshots.
// Writes are upserts keyed by document id; a monotonic revision id guard keeps
// an out-of-order late write from clobbering a newer snapshot. Reads go through
// a Ristretto cache in front of SQLite, since the registry re-reads snapshots
// every time a cold document handle is rebuilt.

var (
	// ErrSnapshotNotFound indicates no snapshot exists for the document.
	ErrSnapshotNotFound = errors.New("document snapshot not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("snapshot store is closed")
)

const (
	DefaultSnapshotDBPath = ".scribe/documents.db"
	DefaultStoreMaxConns  = 1

	defaultCacheNumCounters = 1e5
	defaultCacheMaxCost     = 1 << 26 // 64MB of cached snapshots
	defaultCacheBufferItems = 64
)

// StoreConfig configures a SnapshotStore.
type StoreConfig struct {
	// DBPath is the path to the SQLite database.
	DBPath string

	// CacheMaxCost is the snapshot cache budget in bytes.
	CacheMaxCost int64
}

// DefaultStoreConfig returns a StoreConfig with sensible defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		DBPath:       filepath.Join(os.Getenv("HOME"), DefaultSnapshotDBPath),
		CacheMaxCost: defaultCacheMaxCost,
	}
}

// Snapshot is a persisted point-in-time capture of a document.
type Snapshot struct {
	DocumentID string
	Content    string
	RevisionID int64
	UpdatedAt  time.Time
}

func (s *Snapshot) cost() int64 {
	return int64(len(s.DocumentID) + len(s.Content) + 64)
}

// SnapshotStore persists document snapshots to SQLite with a read cache.
type SnapshotStore struct {
	db    *sql.DB
	cache *ristretto.Cache

	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if needed) a snapshot store at the configured path.
func Open(cfg StoreConfig) (*SnapshotStore, error) {
	cfg = normalizeStoreConfig(cfg)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(DefaultStoreMaxConns)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: defaultCacheNumCounters,
		MaxCost:     cfg.CacheMaxCost,
		BufferItems: defaultCacheBufferItems,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}

	return &SnapshotStore{db: db, cache: cache}, nil
}

func normalizeStoreConfig(cfg StoreConfig) StoreConfig {
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultStoreConfig().DBPath
	}
	if cfg.CacheMaxCost <= 0 {
		cfg.CacheMaxCost = defaultCacheMaxCost
	}
	return cfg
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		doc_id     TEXT PRIMARY KEY,
		content    TEXT NOT NULL,
		rev_id     INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SnapshotStore) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// UpsertSnapshot writes the latest snapshot for a document. A snapshot with a
// revision id at or below the stored one is ignored rather than errored, so a
// slow persistence task racing a newer commit cannot move the document
// backwards.
func (s *SnapshotStore) UpsertSnapshot(ctx context.Context, docID, content string, revID int64) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (doc_id, content, rev_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			content = excluded.content,
			rev_id = excluded.rev_id,
			updated_at = excluded.updated_at
		WHERE excluded.rev_id > documents.rev_id
	`, docID, content, revID, now)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot for %s: %w", docID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count rows affected: %w", err)
	}
	if rows == 0 {
		// A newer snapshot is already stored; leave the cache alone.
		return nil
	}

	snap := &Snapshot{DocumentID: docID, Content: content, RevisionID: revID, UpdatedAt: now}
	s.cache.Set(docID, snap, snap.cost())
	return nil
}

// LoadSnapshot returns the latest snapshot for a document, consulting the
// cache first. Returns ErrSnapshotNotFound for unknown documents.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, docID string) (Snapshot, error) {
	if err := s.checkClosed(); err != nil {
		return Snapshot{}, err
	}

	if v, ok := s.cache.Get(docID); ok {
		if snap, ok := v.(*Snapshot); ok {
			return *snap, nil
		}
	}

	var snap Snapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT doc_id, content, rev_id, updated_at FROM documents WHERE doc_id = ?
	`, docID).Scan(&snap.DocumentID, &snap.Content, &snap.RevisionID, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load snapshot for %s: %w", docID, err)
	}

	cached := snap
	s.cache.Set(docID, &cached, cached.cost())
	return snap, nil
}

// Close closes the store and its database connection.
func (s *SnapshotStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.closed = true
	s.mu.Unlock()

	s.cache.Close()
	return s.db.Close()
}

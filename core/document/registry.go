package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/scribe/core/storage"
)

// =============================================================================
// Document Revision Registry
// =============================================================================
//
// The Registry is the process-wide mapping from document id to its live
// Handle. Handles are created lazily on first reference: the document's
// current state is established from the snapshot store, or starts empty at
// revision zero when the document is being created for the first time.
//
// The map is LRU-bounded so memory does not grow with the number of distinct
// documents ever touched. An evicted handle is rebuilt from its snapshot on
// the next reference; since every commit triggers a persistence write, the
// window in which eviction can drop unpersisted state is the same best-effort
// window the persistence contract already accepts.

// DefaultMaxOpenDocuments bounds the number of live document handles.
const DefaultMaxOpenDocuments = 1024

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// MaxOpenDocuments is the live handle budget.
	MaxOpenDocuments int

	// HistoryWindow is how many committed revisions each handle retains.
	HistoryWindow int

	// Logger is shared by the registry and the handles it creates.
	Logger *slog.Logger
}

// Registry owns the document id to handle mapping.
type Registry struct {
	config RegistryConfig
	store  *storage.SnapshotStore

	handles *lru.Cache[string, *Handle]

	// createMu serializes handle construction only. Lookups on the hot path
	// go straight to the cache.
	createMu sync.Mutex
}

// NewRegistry creates a registry backed by the given snapshot store.
func NewRegistry(store *storage.SnapshotStore, cfg RegistryConfig) (*Registry, error) {
	if cfg.MaxOpenDocuments <= 0 {
		cfg.MaxOpenDocuments = DefaultMaxOpenDocuments
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Registry{config: cfg, store: store}
	handles, err := lru.NewWithEvict(cfg.MaxOpenDocuments, r.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create handle cache: %w", err)
	}
	r.handles = handles
	return r, nil
}

func (r *Registry) onEvict(docID string, h *Handle) {
	r.config.Logger.Debug("document handle evicted",
		"doc_id", docID, "rev_id", h.CurrentRevision(), "subscribers", h.SubscriberCount())
}

// Get returns the live handle for a document without creating one.
func (r *Registry) Get(docID string) (*Handle, bool) {
	return r.handles.Get(docID)
}

// GetOrCreate returns the live handle for a document, constructing it from
// durable state on first reference. Concurrent first references converge on
// the same handle.
func (r *Registry) GetOrCreate(ctx context.Context, docID string) (*Handle, error) {
	if h, ok := r.handles.Get(docID); ok {
		return h, nil
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	// Re-check: another first reference may have won the race.
	if h, ok := r.handles.Get(docID); ok {
		return h, nil
	}

	var h *Handle
	snap, err := r.store.LoadSnapshot(ctx, docID)
	switch {
	case err == nil:
		h = newHandle(docID, snap.Content, snap.RevisionID, r.config.HistoryWindow, r.config.Logger)
	case errors.Is(err, storage.ErrSnapshotNotFound):
		h = newHandle(docID, "", 0, r.config.HistoryWindow, r.config.Logger)
	default:
		return nil, fmt.Errorf("failed to establish state for document %s: %w", docID, err)
	}

	r.handles.Add(docID, h)
	r.config.Logger.Debug("document handle created", "doc_id", docID, "rev_id", h.CurrentRevision())
	return h, nil
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	return r.handles.Len()
}

// DropSession removes a disconnected session from every live handle's
// broadcast set.
func (r *Registry) DropSession(sessionID string) {
	for _, docID := range r.handles.Keys() {
		if h, ok := r.handles.Peek(docID); ok {
			h.Unsubscribe(sessionID)
		}
	}
}

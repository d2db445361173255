package document

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/adalundhe/scribe/core/ot"
	"github.com/adalundhe/scribe/core/wire"
)

// =============================================================================
// Document Handle
// =============================================================================
//
// A Handle owns reconciliation and ordering for exactly one document. All
// revision applications for the document are serialized through a single
// mutex, the handle's serialization slot: revisions commit in the order they
// acquire it, and handles for different documents share nothing, so work on
// distinct documents proceeds fully in parallel.

var (
	// ErrRevisionTooStale indicates the revision's base predates the handle's
	// retained history, so it can no longer be transformed. The caller should
	// direct the client to pull a full resync.
	ErrRevisionTooStale = errors.New("revision base is older than retained history")

	// ErrRevisionFromFuture indicates the revision's base is ahead of the
	// document's canonical revision, which only happens when a client talks to
	// a server that lost state. The caller should direct the client to pull.
	ErrRevisionFromFuture = errors.New("revision base is ahead of canonical revision")

	// ErrInvalidDelta indicates the revision's delta could not be parsed or
	// does not span the document.
	ErrInvalidDelta = errors.New("revision delta is invalid")
)

// DefaultHistoryWindow is how many committed revisions a handle retains for
// transforming late arrivals and detecting redelivery.
const DefaultHistoryWindow = 256

type committedRevision struct {
	id          int64
	authorRevID int64 // the id the author submitted, before server assignment
	op          *ot.Operation
	userID      string
}

// Handle is the live, in-memory reconciliation state for one document.
type Handle struct {
	docID  string
	window int
	logger *slog.Logger

	// mu is the per-document serialization slot. At most one reconciliation
	// executes against the handle at any instant.
	mu      sync.Mutex
	content string
	revID   int64
	history []committedRevision

	subMu       sync.RWMutex
	subscribers map[string]Subscriber
}

func newHandle(docID, content string, revID int64, window int, logger *slog.Logger) *Handle {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &Handle{
		docID:       docID,
		window:      window,
		logger:      logger,
		content:     content,
		revID:       revID,
		subscribers: make(map[string]Subscriber),
	}
}

// DocumentID returns the id of the document this handle owns.
func (h *Handle) DocumentID() string { return h.docID }

// CurrentRevision returns the canonical revision id.
func (h *Handle) CurrentRevision() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revID
}

// Content returns the canonical document content.
func (h *Handle) Content() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.content
}

// Subscribe registers a session for push broadcasts. Subscribing twice with
// the same session id replaces the previous registration.
func (h *Handle) Subscribe(sub Subscriber) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	h.subscribers[sub.SessionID()] = sub
}

// Unsubscribe removes a session from the broadcast set.
func (h *Handle) Unsubscribe(sessionID string) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	delete(h.subscribers, sessionID)
}

// SubscriberCount returns the number of sessions subscribed to the document.
func (h *Handle) SubscriberCount() int {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	return len(h.subscribers)
}

// Apply reconciles one revision from one submitting session.
//
// On commit the submitter is sent an Ack and every other subscriber a Push,
// both out-of-band through Subscriber.Receive, and the returned response is
// the NewRevisionCommitted that triggers persistence. A redelivered,
// already-applied revision returns an Ack without touching canonical state.
func (h *Handle) Apply(sub Subscriber, rev Revision) (SyncResponse, error) {
	h.Subscribe(sub)

	h.mu.Lock()
	defer h.mu.Unlock()

	// Redelivery of a revision this author already committed inside the
	// retained window: re-ack without touching canonical state. The submitted
	// revision id alone is not enough, since two racing writers legitimately
	// propose the same id.
	if rev.RevisionID != 0 {
		for i := len(h.history) - 1; i >= 0; i-- {
			c := h.history[i]
			if c.userID == rev.UserID && c.authorRevID == rev.RevisionID {
				h.logger.Debug("revision redelivered, canonical state unchanged",
					"doc_id", h.docID, "rev_id", c.id, "user_id", rev.UserID)
				return Ack{DocumentID: h.docID, RevisionID: c.id}, nil
			}
		}
	}

	if rev.BaseRevisionID > h.revID {
		return nil, fmt.Errorf("%w: base %d, canonical %d",
			ErrRevisionFromFuture, rev.BaseRevisionID, h.revID)
	}
	if rev.BaseRevisionID < h.revID && !h.retains(rev.BaseRevisionID+1) {
		return nil, fmt.Errorf("%w: base %d, oldest retained %d",
			ErrRevisionTooStale, rev.BaseRevisionID, h.oldestRetained())
	}

	op, err := ot.Unmarshal(rev.Delta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDelta, err)
	}

	// Rebase the edit across everything committed since its declared base.
	// The committed side goes first into Transform so an already-canonical
	// insert keeps its position and the late writer is the one transformed.
	for _, c := range h.history {
		if c.id <= rev.BaseRevisionID {
			continue
		}
		if _, op, err = ot.Transform(c.op, op); err != nil {
			return nil, fmt.Errorf("%w: transform against revision %d: %v", ErrInvalidDelta, c.id, err)
		}
	}

	content, err := op.Apply(h.content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDelta, err)
	}

	h.revID++
	h.content = content
	h.history = append(h.history, committedRevision{
		id:          h.revID,
		authorRevID: rev.RevisionID,
		op:          op,
		userID:      rev.UserID,
	})
	if len(h.history) > h.window {
		h.history = h.history[len(h.history)-h.window:]
	}

	delta, err := ot.Marshal(op)
	if err != nil {
		// The operation round-tripped through Unmarshal already; treat this
		// as invalid input rather than corrupting broadcast state.
		return nil, fmt.Errorf("%w: %v", ErrInvalidDelta, err)
	}

	committed := Revision{
		DocumentID:     h.docID,
		RevisionID:     h.revID,
		BaseRevisionID: h.revID - 1,
		Delta:          delta,
		MD5:            wire.Checksum(delta),
		UserID:         rev.UserID,
	}

	h.broadcast(sub, committed)

	return NewRevisionCommitted{
		DocumentID: h.docID,
		RevisionID: h.revID,
		Content:    h.content,
	}, nil
}

// broadcast delivers Ack to the submitter and Push to every other subscriber.
// Called with h.mu held so subscribers observe commits in commit order.
func (h *Handle) broadcast(sub Subscriber, committed Revision) {
	sub.Receive(Ack{DocumentID: h.docID, RevisionID: committed.RevisionID})

	h.subMu.RLock()
	defer h.subMu.RUnlock()
	for id, other := range h.subscribers {
		if id == sub.SessionID() {
			continue
		}
		other.Receive(Push{Revision: committed})
	}
}

// retains reports whether every committed revision with an id >= revID is
// still in the history window.
func (h *Handle) retains(revID int64) bool {
	return revID > h.revID-int64(len(h.history))
}

func (h *Handle) oldestRetained() int64 {
	return h.revID - int64(len(h.history)) + 1
}

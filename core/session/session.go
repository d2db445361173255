package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/scribe/core/document"
	"github.com/adalundhe/scribe/core/storage"
	"github.com/adalundhe/scribe/core/wire"
)

// =============================================================================
// Session
// =============================================================================
//
// A Session represents one authenticated, connected client for the lifetime of
// its socket. It carries reconciliation results back out: Pull, Push and Ack
// responses are wire-encoded and handed to the socket's non-blocking send, and
// NewRevisionCommitted triggers a detached, best-effort persistence write.
//
// Delivery failures are session-local: they are logged and the session is
// presumed dead, but they never propagate back into the reconciliation core.

// Socket is the outbound half of a client connection. TrySend enqueues
// without blocking; failure means the session is unreachable.
type Socket interface {
	TrySend(data []byte) error
}

const persistTimeout = 10 * time.Second

// Session bridges one connected user to the reconciliation core.
type Session struct {
	id     string
	userID string
	socket Socket
	store  *storage.SnapshotStore
	logger *slog.Logger

	frameID atomic.Uint64
}

// New creates a session for one connection. The user id arrives resolved by
// the hosting service; sessions are never shared across connections.
func New(userID string, socket Socket, store *storage.SnapshotStore, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:     uuid.New().String(),
		userID: userID,
		socket: socket,
		store:  store,
		logger: logger,
	}
}

// SessionID returns the connection-unique session id.
func (s *Session) SessionID() string { return s.id }

// UserID returns the authenticated user id.
func (s *Session) UserID() string { return s.userID }

// Receive dispatches one reconciliation outcome.
func (s *Session) Receive(resp document.SyncResponse) {
	switch r := resp.(type) {
	case document.Pull:
		s.send(wire.KindPullRevision, r.DocumentID, wire.PullPayload{
			DocumentID:     r.DocumentID,
			FromRevisionID: r.FromRevisionID,
			ToRevisionID:   r.ToRevisionID,
		})
	case document.Push:
		s.send(wire.KindPushRevision, r.Revision.DocumentID, wire.RevisionPayload{
			DocumentID:     r.Revision.DocumentID,
			RevisionID:     r.Revision.RevisionID,
			BaseRevisionID: r.Revision.BaseRevisionID,
			Delta:          r.Revision.Delta,
			MD5:            r.Revision.MD5,
			UserID:         r.Revision.UserID,
		})
	case document.Ack:
		s.send(wire.KindAcknowledge, r.DocumentID, wire.AckPayload{
			DocumentID: r.DocumentID,
			RevisionID: r.RevisionID,
		})
	case document.NewRevisionCommitted:
		// Fire-and-forget: persistence is best-effort and never transactional
		// with reconciliation. A failure here can lose a committed revision;
		// that is the documented availability tradeoff.
		go s.persist(r)
	}
}

func (s *Session) send(kind wire.FrameKind, docID string, payload any) {
	data, err := wire.EncodePayload(payload)
	if err != nil {
		s.logger.Error("failed to encode outbound payload",
			"session_id", s.id, "doc_id", docID, "kind", kind.String(), "err", err)
		return
	}

	frame, err := wire.EncodeEnvelope(wire.Envelope{
		DocumentID: docID,
		FrameID:    s.frameID.Add(1),
		Kind:       kind,
		Payload:    data,
	})
	if err != nil {
		s.logger.Error("failed to encode outbound envelope",
			"session_id", s.id, "doc_id", docID, "kind", kind.String(), "err", err)
		return
	}

	if err := s.socket.TrySend(frame); err != nil {
		s.logger.Error("outbound delivery failed, session presumed unreachable",
			"session_id", s.id, "user_id", s.userID, "doc_id", docID, "kind", kind.String(), "err", err)
	}
}

func (s *Session) persist(r document.NewRevisionCommitted) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.store.UpsertSnapshot(ctx, r.DocumentID, r.Content, r.RevisionID); err != nil {
		s.logger.Error("best-effort snapshot persistence failed",
			"session_id", s.id, "doc_id", r.DocumentID, "rev_id", r.RevisionID, "err", err)
	}
}

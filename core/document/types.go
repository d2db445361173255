package document

// =============================================================================
// Revisions and Sync Responses
// =============================================================================

// Revision is one atomic, server-ordered edit to a document. RevisionID is
// assigned authoritatively by the owning handle; the value submitted by a
// client is only a hint used for duplicate detection. BaseRevisionID is the
// revision the client believed was current when it authored the edit.
type Revision struct {
	DocumentID     string
	RevisionID     int64
	BaseRevisionID int64
	Delta          []byte
	MD5            string
	UserID         string
}

// SyncResponse is the outcome of reconciling one revision. It is a closed set
// of variants; consumers dispatch with a type switch over the four concrete
// types below.
type SyncResponse interface {
	syncResponse()
}

// Pull tells a client it is behind and must fetch the missing revision range.
type Pull struct {
	DocumentID     string
	FromRevisionID int64
	ToRevisionID   int64
}

// Push broadcasts a transformed, committed revision to a subscriber that did
// not author it.
type Push struct {
	Revision Revision
}

// Ack confirms the submitting client's revision was accepted.
type Ack struct {
	DocumentID string
	RevisionID int64
}

// NewRevisionCommitted signals that a new canonical revision exists and should
// be durably persisted. It carries the full post-transform document snapshot.
type NewRevisionCommitted struct {
	DocumentID string
	RevisionID int64
	Content    string
}

func (Pull) syncResponse()                 {}
func (Push) syncResponse()                 {}
func (Ack) syncResponse()                  {}
func (NewRevisionCommitted) syncResponse() {}

// Subscriber is the server-side representative of one connected client as the
// reconciliation core sees it. Receive must not block: implementations enqueue
// to an outbound buffer or spawn detached work.
type Subscriber interface {
	SessionID() string
	UserID() string
	Receive(SyncResponse)
}

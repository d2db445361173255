package session

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/scribe/core/document"
	"github.com/adalundhe/scribe/core/storage"
	"github.com/adalundhe/scribe/core/wire"
)

// fakeSocket captures outbound frames. When failWith is set every TrySend
// reports that error instead.
type fakeSocket struct {
	mu       sync.Mutex
	frames   [][]byte
	failWith error
}

func (f *fakeSocket) TrySend(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSocket) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

func newTestSession(t *testing.T, socket Socket) (*Session, *storage.SnapshotStore) {
	t.Helper()
	store, err := storage.Open(storage.StoreConfig{
		DBPath: filepath.Join(t.TempDir(), "snapshots.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New("user-1", socket, store, nil), store
}

func TestReceiveAckEncodesFrame(t *testing.T) {
	socket := &fakeSocket{}
	sess, _ := newTestSession(t, socket)

	sess.Receive(document.Ack{DocumentID: "doc-1", RevisionID: 7})

	frames := socket.sent()
	require.Len(t, frames, 1)

	env, err := wire.DecodeEnvelope(frames[0])
	require.NoError(t, err)
	assert.Equal(t, wire.KindAcknowledge, env.Kind)
	assert.Equal(t, "doc-1", env.DocumentID)
	assert.Equal(t, uint64(1), env.FrameID)

	var ack wire.AckPayload
	require.NoError(t, json.Unmarshal(env.Payload, &ack))
	assert.Equal(t, int64(7), ack.RevisionID)
}

func TestReceivePushEncodesRevision(t *testing.T) {
	socket := &fakeSocket{}
	sess, _ := newTestSession(t, socket)

	delta := []byte(`[5,"x"]`)
	sess.Receive(document.Push{Revision: document.Revision{
		DocumentID:     "doc-1",
		RevisionID:     4,
		BaseRevisionID: 3,
		Delta:          delta,
		MD5:            wire.Checksum(delta),
		UserID:         "user-2",
	}})

	frames := socket.sent()
	require.Len(t, frames, 1)

	env, err := wire.DecodeEnvelope(frames[0])
	require.NoError(t, err)
	assert.Equal(t, wire.KindPushRevision, env.Kind)

	payload, err := wire.DecodeRevisionPayload(env.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(4), payload.RevisionID)
	assert.Equal(t, int64(3), payload.BaseRevisionID)
	assert.Equal(t, delta, payload.Delta)
	assert.Equal(t, "user-2", payload.UserID)
	assert.True(t, wire.VerifyChecksum(payload.Delta, payload.MD5))
}

func TestReceivePullEncodesRange(t *testing.T) {
	socket := &fakeSocket{}
	sess, _ := newTestSession(t, socket)

	sess.Receive(document.Pull{DocumentID: "doc-1", FromRevisionID: 2, ToRevisionID: 9})

	frames := socket.sent()
	require.Len(t, frames, 1)

	env, err := wire.DecodeEnvelope(frames[0])
	require.NoError(t, err)
	assert.Equal(t, wire.KindPullRevision, env.Kind)

	var pull wire.PullPayload
	require.NoError(t, json.Unmarshal(env.Payload, &pull))
	assert.Equal(t, int64(2), pull.FromRevisionID)
	assert.Equal(t, int64(9), pull.ToRevisionID)
}

func TestFrameIDsAreMonotonic(t *testing.T) {
	socket := &fakeSocket{}
	sess, _ := newTestSession(t, socket)

	for i := 0; i < 3; i++ {
		sess.Receive(document.Ack{DocumentID: "doc-1", RevisionID: int64(i)})
	}

	frames := socket.sent()
	require.Len(t, frames, 3)
	for i, frame := range frames {
		env, err := wire.DecodeEnvelope(frame)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), env.FrameID)
	}
}

func TestSendFailureDoesNotPanic(t *testing.T) {
	socket := &fakeSocket{failWith: errors.New("connection reset")}
	sess, _ := newTestSession(t, socket)

	// Delivery failure is logged and swallowed; the session stays usable.
	sess.Receive(document.Ack{DocumentID: "doc-1", RevisionID: 1})
	sess.Receive(document.Push{Revision: document.Revision{DocumentID: "doc-1", RevisionID: 2, BaseRevisionID: 1}})

	assert.Empty(t, socket.sent())
}

func TestNewRevisionCommittedPersistsSnapshot(t *testing.T) {
	socket := &fakeSocket{}
	sess, store := newTestSession(t, socket)

	sess.Receive(document.NewRevisionCommitted{
		DocumentID: "doc-1",
		RevisionID: 3,
		Content:    "hello world",
	})

	// Persistence runs detached from Receive.
	require.Eventually(t, func() bool {
		snap, err := store.LoadSnapshot(context.Background(), "doc-1")
		return err == nil && snap.RevisionID == 3 && snap.Content == "hello world"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, socket.sent(), "persistence must not produce outbound frames")
}

func TestSessionIDsAreUnique(t *testing.T) {
	s1, _ := newTestSession(t, &fakeSocket{})
	s2, _ := newTestSession(t, &fakeSocket{})

	assert.NotEmpty(t, s1.SessionID())
	assert.NotEqual(t, s1.SessionID(), s2.SessionID())
	assert.Equal(t, "user-1", s1.UserID())
}

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/scribe/core/dispatch"
	"github.com/adalundhe/scribe/core/document"
	"github.com/adalundhe/scribe/core/ot"
	"github.com/adalundhe/scribe/core/storage"
	"github.com/adalundhe/scribe/core/wire"
)

func newTestServer(t *testing.T) (*httptest.Server, *document.Registry) {
	t.Helper()

	store, err := storage.Open(storage.StoreConfig{
		DBPath: filepath.Join(t.TempDir(), "snapshots.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry, err := document.NewRegistry(store, document.RegistryConfig{})
	require.NoError(t, err)

	actor := dispatch.NewActor(registry, dispatch.ActorConfig{})
	go actor.Run(context.Background())
	t.Cleanup(actor.Stop)

	server := httptest.NewServer(NewHandler(actor, registry, store, nil))
	t.Cleanup(server.Close)
	return server, registry
}

func dialTestServer(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{}
	if userID != "" {
		header.Set("X-User-ID", userID)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func pushFrame(t *testing.T, docID string, revID, baseID int64, op *ot.Operation) []byte {
	t.Helper()

	delta, err := ot.Marshal(op)
	require.NoError(t, err)
	payload, err := wire.EncodePayload(wire.RevisionPayload{
		DocumentID:     docID,
		RevisionID:     revID,
		BaseRevisionID: baseID,
		Delta:          delta,
		MD5:            wire.Checksum(delta),
	})
	require.NoError(t, err)
	frame, err := wire.EncodeEnvelope(wire.Envelope{
		DocumentID: docID, FrameID: 1, Kind: wire.KindPushRevision, Payload: payload,
	})
	require.NoError(t, err)
	return frame
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wire.Envelope {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)

	env, err := wire.DecodeEnvelope(data)
	require.NoError(t, err)
	return env
}

func TestPushOverWebSocketIsAcked(t *testing.T) {
	server, registry := newTestServer(t)
	conn := dialTestServer(t, server, "user-1")

	frame := pushFrame(t, "doc-1", 1, 0, ot.New().Insert("hello"))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))

	env := readEnvelope(t, conn)
	assert.Equal(t, wire.KindAcknowledge, env.Kind)
	assert.Equal(t, "doc-1", env.DocumentID)

	handle, ok := registry.Get("doc-1")
	require.True(t, ok)
	assert.Equal(t, "hello", handle.Content())
}

func TestCommitIsPushedToOtherConnections(t *testing.T) {
	server, _ := newTestServer(t)

	writer := dialTestServer(t, server, "user-1")
	watcher := dialTestServer(t, server, "user-2")

	// The watcher subscribes by submitting its own first revision.
	require.NoError(t, watcher.WriteMessage(websocket.BinaryMessage,
		pushFrame(t, "doc-1", 1, 0, ot.New().Insert("a"))))
	require.Equal(t, wire.KindAcknowledge, readEnvelope(t, watcher).Kind)

	require.NoError(t, writer.WriteMessage(websocket.BinaryMessage,
		pushFrame(t, "doc-1", 1, 1, ot.New().Retain(1).Insert("b"))))
	require.Equal(t, wire.KindAcknowledge, readEnvelope(t, writer).Kind)

	env := readEnvelope(t, watcher)
	require.Equal(t, wire.KindPushRevision, env.Kind)

	payload, err := wire.DecodeRevisionPayload(env.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(2), payload.RevisionID)
	assert.True(t, wire.VerifyChecksum(payload.Delta, payload.MD5))
}

func TestMalformedFrameDoesNotDropConnection(t *testing.T) {
	server, _ := newTestServer(t)
	conn := dialTestServer(t, server, "user-1")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("garbage")))

	// The bad frame was rejected server-side; the connection still works.
	frame := pushFrame(t, "doc-1", 1, 0, ot.New().Insert("still here"))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))

	env := readEnvelope(t, conn)
	assert.Equal(t, wire.KindAcknowledge, env.Kind)
}

func TestDisconnectDropsSubscription(t *testing.T) {
	server, registry := newTestServer(t)
	conn := dialTestServer(t, server, "user-1")

	frame := pushFrame(t, "doc-1", 1, 0, ot.New().Insert("x"))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))
	readEnvelope(t, conn)

	handle, ok := registry.Get("doc-1")
	require.True(t, ok)
	require.Equal(t, 1, handle.SubscriberCount())

	conn.Close()

	require.Eventually(t, func() bool {
		return handle.SubscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResolveUserID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("X-User-ID", "header-user")
	assert.Equal(t, "header-user", resolveUserID(r))

	r = httptest.NewRequest(http.MethodGet, "/ws?user_id=query-user", nil)
	assert.Equal(t, "query-user", resolveUserID(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	anon := resolveUserID(r)
	assert.True(t, strings.HasPrefix(anon, "anon-"))
	assert.NotEqual(t, anon, resolveUserID(r), "anonymous ids are per-call unique")
}

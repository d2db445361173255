package transport

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/adalundhe/scribe/core/dispatch"
	"github.com/adalundhe/scribe/core/document"
	"github.com/adalundhe/scribe/core/session"
	"github.com/adalundhe/scribe/core/storage"
)

// Handler upgrades HTTP requests to websocket sessions and feeds their frames
// to the dispatch actor. Identity is resolved upstream; the handler only
// reads the already-authenticated user id from the request.
type Handler struct {
	actor    *dispatch.Actor
	registry *document.Registry
	store    *storage.SnapshotStore
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket endpoint for the sync core.
func NewHandler(actor *dispatch.Actor, registry *document.Registry, store *storage.SnapshotStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		actor:    actor,
		registry: registry,
		store:    store,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// resolveUserID reads the identity the outer service attached to the request.
// Connections without one get an anonymous id for the lifetime of the socket.
func resolveUserID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	if id := r.URL.Query().Get("user_id"); id != "" {
		return id
	}
	return "anon-" + uuid.New().String()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := resolveUserID(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	ws := NewWSConn(conn, h.logger)
	sess := session.New(userID, ws, h.store, h.logger)
	h.logger.Info("session connected", "session_id", sess.SessionID(), "user_id", userID)

	defer func() {
		h.registry.DropSession(sess.SessionID())
		ws.Close()
		h.logger.Info("session disconnected", "session_id", sess.SessionID(), "user_id", userID)
	}()

	ws.ReadLoop(func(data []byte) error {
		return h.actor.Submit(r.Context(), dispatch.ClientData{Session: sess, Data: data})
	})
}

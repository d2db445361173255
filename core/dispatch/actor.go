package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/adalundhe/scribe/core/document"
	"github.com/adalundhe/scribe/core/session"
	"github.com/adalundhe/scribe/core/wire"
)

// =============================================================================
// Dispatch Actor
// =============================================================================
//
// The Actor is the single logical consumer of the inbound frame queue. Every
// submitted frame carries a completion signal answered exactly once, with
// success or a structured error. A frame that fails to decode or reconcile is
// logged and reported to its caller; it never crashes the actor or disturbs
// an unrelated request.
//
// Frame parsing is offloaded to a bounded worker pool, and each request is
// handled on its own goroutine, so one request awaiting reconciliation never
// keeps a queued request from beginning its decode step. Per-document
// ordering comes from the document handle's serialization slot, not from the
// actor loop.

var (
	// ErrActorStopped indicates the actor's mailbox is no longer accepting
	// frames.
	ErrActorStopped = errors.New("dispatch actor is stopped")
)

const (
	DefaultMailboxCapacity = 256
	DefaultDecodeWorkers   = 4
)

// ClientData is one inbound frame from one connected session.
type ClientData struct {
	Session *session.Session
	Data    []byte
}

type request struct {
	data ClientData
	ret  chan error
}

// ActorConfig configures an Actor.
type ActorConfig struct {
	// MailboxCapacity is the inbound queue depth.
	MailboxCapacity int

	// DecodeWorkers bounds the parsing worker pool.
	DecodeWorkers int

	// EnforceChecksum is consulted per frame; nil disables enforcement.
	// Deviating clients are rejected before reconciliation when it reports
	// true.
	EnforceChecksum func() bool

	// Logger receives one record per processed frame and per failure.
	Logger *slog.Logger
}

// Actor decodes and routes inbound client frames.
type Actor struct {
	config   ActorConfig
	registry *document.Registry

	mailbox chan request
	pool    *decodePool

	stopped atomic.Bool
	quit    chan struct{}
	done    chan struct{}
}

// NewActor creates a dispatch actor routing into the given registry. Call Run
// to start consuming.
func NewActor(registry *document.Registry, cfg ActorConfig) *Actor {
	if cfg.MailboxCapacity <= 0 {
		cfg.MailboxCapacity = DefaultMailboxCapacity
	}
	if cfg.DecodeWorkers <= 0 {
		cfg.DecodeWorkers = DefaultDecodeWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Actor{
		config:   cfg,
		registry: registry,
		mailbox:  make(chan request, cfg.MailboxCapacity),
		pool:     newDecodePool(cfg.DecodeWorkers, cfg.MailboxCapacity),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run consumes the mailbox until the context is cancelled or Stop is called.
// Once Run returns the actor is terminal; it cannot be restarted.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.done)
	defer a.pool.close()

	for {
		select {
		case <-ctx.Done():
			a.stopped.Store(true)
			a.drain()
			return
		case <-a.quit:
			a.drain()
			return
		case req := <-a.mailbox:
			go a.process(ctx, req)
		}
	}
}

// drain answers any requests that were queued when the actor stopped.
func (a *Actor) drain() {
	for {
		select {
		case req := <-a.mailbox:
			req.ret <- ErrActorStopped
		default:
			return
		}
	}
}

// Stop makes the actor terminal. In-flight requests finish; queued and new
// submissions fail with ErrActorStopped.
func (a *Actor) Stop() {
	if a.stopped.CompareAndSwap(false, true) {
		close(a.quit)
	}
	<-a.done
}

// Submit enqueues one frame and blocks until the actor answers its completion
// signal.
func (a *Actor) Submit(ctx context.Context, data ClientData) error {
	if a.stopped.Load() {
		return ErrActorStopped
	}

	req := request{data: data, ret: make(chan error, 1)}
	select {
	case a.mailbox <- req:
	case <-a.quit:
		return ErrActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.ret:
		return err
	case <-ctx.Done():
		// Reconciliation already underway is not rolled back; the caller just
		// stops waiting for its completion signal.
		return ctx.Err()
	}
}

// process handles one request and answers its completion signal exactly once.
func (a *Actor) process(ctx context.Context, req request) {
	err := a.handleClientData(ctx, req.data)
	if err != nil {
		a.config.Logger.Error("failed to process client frame",
			"session_id", req.data.Session.SessionID(), "err", err)
	}
	req.ret <- err
}

func (a *Actor) handleClientData(ctx context.Context, data ClientData) error {
	frame, err := a.decode(ctx, data)
	if err != nil {
		return err
	}

	env := frame.envelope
	a.config.Logger.Debug("client frame received",
		"doc_id", env.DocumentID, "frame_id", env.FrameID, "kind", env.Kind.String(),
		"session_id", data.Session.SessionID())

	switch env.Kind {
	case wire.KindAcknowledge, wire.KindPullRevision:
		// Acknowledgment bookkeeping and backfill delivery are handled by the
		// client-side protocol; accepted as no-ops here.
		return nil
	case wire.KindPushRevision, wire.KindUserConnect:
		return a.handleRevision(ctx, data.Session, *frame.revision)
	default:
		return fmt.Errorf("%w: kind %d", wire.ErrMalformedEnvelope, env.Kind)
	}
}

// decode runs frame parsing on the worker pool and waits for the result.
func (a *Actor) decode(ctx context.Context, data ClientData) (*decodedFrame, error) {
	enforce := a.config.EnforceChecksum != nil && a.config.EnforceChecksum()

	type result struct {
		frame *decodedFrame
		err   error
	}
	ch := make(chan result, 1)

	ok := a.pool.submit(func() {
		frame, err := decodeClientFrame(data.Data, data.Session.UserID(), enforce)
		ch <- result{frame: frame, err: err}
	})
	if !ok {
		return nil, ErrActorStopped
	}

	select {
	case r := <-ch:
		return r.frame, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Actor) handleRevision(ctx context.Context, sess *session.Session, rev document.Revision) error {
	handle, err := a.registry.GetOrCreate(ctx, rev.DocumentID)
	if err != nil {
		return err
	}

	resp, err := handle.Apply(sess, rev)
	if err != nil {
		if errors.Is(err, document.ErrRevisionTooStale) || errors.Is(err, document.ErrRevisionFromFuture) {
			// The client cannot be transformed from where it is; direct it to
			// resync before surfacing the failure to the submit caller.
			sess.Receive(document.Pull{
				DocumentID:     rev.DocumentID,
				FromRevisionID: rev.BaseRevisionID,
				ToRevisionID:   handle.CurrentRevision(),
			})
		}
		return err
	}

	sess.Receive(resp)
	return nil
}

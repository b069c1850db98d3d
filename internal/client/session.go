package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayonsaha2011/ipchat/internal/bus"
	"github.com/ayonsaha2011/ipchat/internal/config"
	"github.com/ayonsaha2011/ipchat/internal/conversation"
	"github.com/ayonsaha2011/ipchat/internal/ingest"
	"github.com/ayonsaha2011/ipchat/internal/store"
	"github.com/ayonsaha2011/ipchat/internal/transfer"
)

// Transport is the slice of the network client the session drives.
type Transport interface {
	SendMessage(ctx context.Context, m *store.Message) error
	SendReadReceipt(ctx context.Context, peerID string) error
	Pull(ctx context.Context, peerID string) (*store.Snapshot, error)
	SendFileData(ctx context.Context, t *store.FileTransfer, progress func(sent int64) error) error
}

// Directory is the live peer list the session reads from.
type Directory interface {
	Snapshot() []store.Peer
	Resolve(peerID string) (string, error)
}

// Session is the client-facing surface of a running chat node. It owns
// the ingest engine, the poll loop and the sender side of file
// streaming; UIs talk to the Session and subscribe to the bus for
// change notifications.
type Session struct {
	cfg        *config.Config
	db         *store.DB
	bus        *bus.Bus
	engine     *ingest.Engine
	controller *transfer.Controller
	transport  Transport
	directory  Directory
	localID    string
	log        *zap.Logger

	mu          sync.Mutex
	initialized bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsub       func()
	started     []string
	streaming   map[string]bool
}

func NewSession(
	cfg *config.Config,
	db *store.DB,
	b *bus.Bus,
	engine *ingest.Engine,
	controller *transfer.Controller,
	transport Transport,
	directory Directory,
	localID string,
	log *zap.Logger,
) *Session {
	return &Session{
		cfg:        cfg,
		db:         db,
		bus:        b,
		engine:     engine,
		controller: controller,
		transport:  transport,
		directory:  directory,
		localID:    localID,
		log:        log.Named("session"),
		streaming:  make(map[string]bool),
	}
}

// Initialize brings the session up: the ingest engine and transfer
// watcher start first so nothing off the wire is missed, then one
// bounded initial poll primes the log before the caller proceeds. A
// slow network degrades to starting empty; the background poll loop
// merges the history as soon as peers answer.
//
// Initialize is idempotent: a second call returns nil immediately.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	s.mu.Unlock()

	s.engine.Start()
	events, unsub := s.bus.Subscribe("transfer.updated", 64)
	s.unsub = unsub

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.watchTransfers(loopCtx, events)

	// Initial poll, bounded. Whatever it gathers past the deadline
	// still arrives through the bus.
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.pollOnce(loopCtx)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.InitTimeout()):
		s.log.Warn("initial poll timed out, starting with empty state")
	case <-ctx.Done():
		s.log.Warn("initialization interrupted", zap.Error(ctx.Err()))
	}

	s.wg.Add(1)
	go s.pollLoop(loopCtx)

	s.log.Info("session ready", zap.String("user", s.localID))
	return nil
}

// Close tears the session down. Safe to call before Initialize and
// safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.initialized = false
	cancel, unsub := s.cancel, s.unsub
	s.cancel, s.unsub = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
	s.wg.Wait()
	s.engine.Stop()
	return nil
}

func (s *Session) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce pulls every live peer's shared history. Each response goes
// through the bus so the ingest engine applies it in order with
// everything else.
func (s *Session) pollOnce(ctx context.Context) {
	for _, p := range s.directory.Snapshot() {
		pullCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		snap, err := s.transport.Pull(pullCtx, p.ID)
		cancel()
		if err != nil {
			s.log.Debug("poll failed", zap.String("peer", p.ID), zap.Error(err))
			continue
		}
		s.bus.Emit("net.poll_batch", snap)
	}
}

// SendMessage delivers a message to a peer and records it. Delivery
// comes first: if the peer is unreachable, nothing is recorded and the
// transport error is returned.
func (s *Session) SendMessage(ctx context.Context, peerID, content string) (*store.Message, error) {
	m := &store.Message{
		ID:          uuid.NewString(),
		SenderID:    s.localID,
		RecipientID: peerID,
		Content:     content,
		Timestamp:   time.Now().UnixMilli(),
	}
	if err := s.transport.SendMessage(ctx, m); err != nil {
		return nil, err
	}
	s.bus.Emit("net.message", m)
	return m, nil
}

// SendFile offers a local file to a peer.
func (s *Session) SendFile(ctx context.Context, peerID, path string) (*store.FileTransfer, error) {
	return s.controller.Initiate(ctx, peerID, path)
}

// AcceptTransfer accepts an incoming offer, saving to savePath.
func (s *Session) AcceptTransfer(ctx context.Context, id, savePath string) error {
	return s.controller.Accept(ctx, id, savePath)
}

// RejectTransfer declines an incoming offer.
func (s *Session) RejectTransfer(ctx context.Context, id string) error {
	return s.controller.Reject(ctx, id)
}

// CancelTransfer aborts a transfer from either side.
func (s *Session) CancelTransfer(ctx context.Context, id string) error {
	return s.controller.Cancel(ctx, id)
}

// MarkRead flags everything a peer sent us as read and tells them so.
// The receipt is best-effort; the local flags are what count.
func (s *Session) MarkRead(ctx context.Context, peerID string) error {
	n, err := s.db.MarkRead(peerID, s.localID)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	s.bus.Emit("chat.messages_read", peerID)
	if err := s.transport.SendReadReceipt(ctx, peerID); err != nil {
		s.log.Debug("read receipt not delivered", zap.String("peer", peerID), zap.Error(err))
	}
	return nil
}

// StartChat opens an empty conversation with a peer before any
// messages exist, so the UI has somewhere to type.
func (s *Session) StartChat(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.started {
		if id == peerID {
			return
		}
	}
	s.started = append(s.started, peerID)
	s.bus.Emit("chat.started", peerID)
}

// Conversations projects the current log into the per-peer view.
func (s *Session) Conversations() ([]conversation.Conversation, error) {
	snap, err := s.db.Snapshot()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	started := make([]string, len(s.started))
	copy(started, s.started)
	s.mu.Unlock()

	return conversation.Project(snap.Messages, snap.Transfers, s.directory.Snapshot(), s.localID, started), nil
}

// Peers returns the live peer list.
func (s *Session) Peers() []store.Peer {
	return s.directory.Snapshot()
}

// LocalID returns this node's user id.
func (s *Session) LocalID() string {
	return s.localID
}

// watchTransfers reacts to transfer state changes on the sender side:
// when one of our outgoing transfers is accepted, start streaming the
// file.
func (s *Session) watchTransfers(ctx context.Context, events <-chan bus.Event) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			t, ok := evt.Payload.(*store.FileTransfer)
			if !ok {
				continue
			}
			if t.SenderID != s.localID || t.Status != store.StatusInProgress || t.SourcePath == "" {
				continue
			}
			s.mu.Lock()
			if s.streaming[t.ID] {
				s.mu.Unlock()
				continue
			}
			s.streaming[t.ID] = true
			s.mu.Unlock()

			s.wg.Add(1)
			go func(t *store.FileTransfer) {
				defer s.wg.Done()
				s.stream(ctx, t)
			}(t)
		}
	}
}

// stream pushes a transfer's file to its recipient, reporting progress
// into the log. A transfer that goes terminal mid-stream (cancelled
// from either side) aborts quietly.
func (s *Session) stream(ctx context.Context, t *store.FileTransfer) {
	defer func() {
		s.mu.Lock()
		delete(s.streaming, t.ID)
		s.mu.Unlock()
	}()

	err := s.transport.SendFileData(ctx, t, func(sent int64) error {
		cur, err := s.db.GetTransfer(t.ID)
		if err != nil {
			return err
		}
		if cur == nil || cur.Status.Terminal() {
			return context.Canceled
		}
		return s.controller.Progress(t.ID, sent)
	})
	if err != nil {
		// Terminal mid-stream is the cancel path, not a failure.
		cur, getErr := s.db.GetTransfer(t.ID)
		if getErr == nil && cur != nil && cur.Status.Terminal() {
			return
		}
		s.log.Warn("file stream failed", zap.String("transfer", t.ID), zap.Error(err))
		if failErr := s.controller.Fail(ctx, t.ID, err.Error()); failErr != nil {
			s.log.Error("record stream failure", zap.String("transfer", t.ID), zap.Error(failErr))
		}
		return
	}
	if err := s.controller.Complete(ctx, t.ID); err != nil {
		s.log.Error("record stream completion", zap.String("transfer", t.ID), zap.Error(err))
	}
}

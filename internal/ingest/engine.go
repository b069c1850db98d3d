package ingest

import (
	"go.uber.org/zap"

	"github.com/ayonsaha2011/ipchat/internal/bus"
	"github.com/ayonsaha2011/ipchat/internal/store"
)

// Engine folds network events into the canonical log. It is the only
// writer driven by the wire: everything arriving under the "net."
// namespace funnels through one goroutine, so concurrent pushes and
// poll responses are applied in a single serial order.
//
// Every apply is an idempotent merge keyed by record id. Replays,
// overlapping poll responses and push/poll races all collapse into the
// same final state.
type Engine struct {
	db      *store.DB
	bus     *bus.Bus
	localID string
	log     *zap.Logger

	events <-chan bus.Event
	unsub  func()
	done   chan struct{}
}

func NewEngine(db *store.DB, b *bus.Bus, localID string, log *zap.Logger) *Engine {
	return &Engine{
		db:      db,
		bus:     b,
		localID: localID,
		log:     log.Named("ingest"),
	}
}

// Start subscribes to network events and begins applying them.
// Calling Start on a running engine is a no-op.
func (e *Engine) Start() {
	if e.done != nil {
		return
	}
	e.events, e.unsub = e.bus.Subscribe("net.", 256)
	e.done = make(chan struct{})
	go e.run(e.done)
}

// Stop unsubscribes and waits for the apply loop to drain.
func (e *Engine) Stop() {
	if e.done == nil {
		return
	}
	e.unsub()
	// Closing the subscription does not close the channel; signal the
	// loop directly.
	close(e.done)
	e.done = nil
}

func (e *Engine) run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case evt := <-e.events:
			e.apply(evt)
		}
	}
}

// apply dispatches one network event. A malformed event is logged and
// dropped; the loop itself never stops on bad input.
func (e *Engine) apply(evt bus.Event) {
	switch evt.Kind {
	case "net.message":
		m, ok := evt.Payload.(*store.Message)
		if !ok {
			e.drop(evt)
			return
		}
		if err := e.db.UpsertMessage(m); err != nil {
			e.log.Error("apply message", zap.String("id", m.ID), zap.Error(err))
			return
		}
		e.bus.Emit("chat.message", m)

	case "net.transfer":
		t, ok := evt.Payload.(*store.FileTransfer)
		if !ok {
			e.drop(evt)
			return
		}
		e.applyTransfer(t)

	case "net.transfer_batch":
		ts, ok := evt.Payload.([]*store.FileTransfer)
		if !ok {
			e.drop(evt)
			return
		}
		for _, t := range ts {
			e.applyTransfer(t)
		}

	case "net.transfer_progress":
		p, ok := evt.Payload.(*store.ProgressUpdate)
		if !ok {
			e.drop(evt)
			return
		}
		known, err := e.db.UpdateTransferProgress(p.TransferID, p.Bytes)
		if err != nil {
			e.log.Error("apply progress", zap.String("id", p.TransferID), zap.Error(err))
			return
		}
		if !known {
			e.log.Debug("progress for unknown transfer", zap.String("id", p.TransferID))
			return
		}
		if t, err := e.db.GetTransfer(p.TransferID); err == nil && t != nil {
			e.bus.Emit("transfer.progress", t)
		}

	case "net.read_receipt":
		peerID, ok := evt.Payload.(string)
		if !ok {
			e.drop(evt)
			return
		}
		n, err := e.db.MarkRead(e.localID, peerID)
		if err != nil {
			e.log.Error("apply read receipt", zap.String("peer", peerID), zap.Error(err))
			return
		}
		if n > 0 {
			e.bus.Emit("chat.messages_read", peerID)
		}

	case "net.poll_batch":
		snap, ok := evt.Payload.(*store.Snapshot)
		if !ok {
			e.drop(evt)
			return
		}
		if err := e.applySnapshot(snap); err != nil {
			e.log.Error("apply poll batch", zap.Error(err))
			return
		}
		e.bus.Emit("sync.poll_applied", snap)
	}
}

func (e *Engine) applyTransfer(t *store.FileTransfer) {
	if err := e.db.UpsertTransfer(t); err != nil {
		e.log.Error("apply transfer", zap.String("id", t.ID), zap.Error(err))
		return
	}
	// Re-read so subscribers see the merged record, not the raw input:
	// a terminal local status wins over whatever just arrived.
	merged, err := e.db.GetTransfer(t.ID)
	if err != nil || merged == nil {
		return
	}
	e.bus.Emit("transfer.updated", merged)
}

// applySnapshot merges a full poll response in one transaction. Records
// already known keep their merged state; records missing from the
// response are never removed, since a peer's snapshot only speaks for
// what that peer has seen.
func (e *Engine) applySnapshot(snap *store.Snapshot) error {
	tx, err := e.db.Begin()
	if err != nil {
		return err
	}
	for _, m := range snap.Messages {
		if err := e.db.UpsertMessageIn(tx, m); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	for _, t := range snap.Transfers {
		if err := e.db.UpsertTransferIn(tx, t); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (e *Engine) drop(evt bus.Event) {
	e.log.Warn("dropping malformed event",
		zap.String("kind", evt.Kind),
		zap.Any("payload", evt.Payload))
}

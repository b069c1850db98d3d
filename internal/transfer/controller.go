package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayonsaha2011/ipchat/internal/bus"
	"github.com/ayonsaha2011/ipchat/internal/store"
)

// Transport is the slice of the network layer the controller needs:
// offering a new transfer to its recipient and notifying the other
// party of a status change.
type Transport interface {
	SendOffer(ctx context.Context, t *store.FileTransfer) error
	SendStatus(ctx context.Context, t *store.FileTransfer) error
}

// validTransitions maps each non-terminal status to the statuses it may
// move to. Terminal statuses have no entry: nothing leaves them.
var validTransitions = map[store.TransferStatus][]store.TransferStatus{
	store.StatusPending: {
		store.StatusInProgress,
		store.StatusRejected,
		store.StatusCancelled,
		store.StatusFailed,
	},
	store.StatusInProgress: {
		store.StatusCompleted,
		store.StatusCancelled,
		store.StatusFailed,
	},
}

func canTransition(from, to store.TransferStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Controller drives the file transfer lifecycle. All state lives in the
// canonical log; the controller validates transitions, records them and
// notifies the remote party.
type Controller struct {
	db        *store.DB
	bus       *bus.Bus
	transport Transport
	localID   string
	log       *zap.Logger
}

func NewController(db *store.DB, b *bus.Bus, transport Transport, localID string, log *zap.Logger) *Controller {
	return &Controller{
		db:        db,
		bus:       b,
		transport: transport,
		localID:   localID,
		log:       log.Named("transfer"),
	}
}

// Initiate offers a local file to a peer. The offer goes out before
// anything is recorded: if the recipient is unreachable, the log is
// left untouched and the transport error is returned as-is.
func (c *Controller) Initiate(ctx context.Context, recipientID, path string) (*store.FileTransfer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	t := &store.FileTransfer{
		ID:          uuid.NewString(),
		SenderID:    c.localID,
		RecipientID: recipientID,
		FileName:    filepath.Base(path),
		FileSize:    info.Size(),
		SourcePath:  path,
		Status:      store.StatusPending,
		Timestamp:   time.Now().UnixMilli(),
	}

	if err := c.transport.SendOffer(ctx, t); err != nil {
		return nil, err
	}
	if err := c.db.UpsertTransfer(t); err != nil {
		return nil, err
	}
	c.log.Info("transfer offered",
		zap.String("id", t.ID),
		zap.String("recipient", recipientID),
		zap.String("file", t.FileName),
		zap.Int64("size", t.FileSize))
	c.bus.Emit("transfer.updated", t)
	return t, nil
}

// Accept moves an incoming offer to in_progress and tells the sender to
// start streaming. Only the recipient may accept. Accepting an already
// accepted transfer is a no-op.
func (c *Controller) Accept(ctx context.Context, id, savePath string) error {
	t, err := c.load(id)
	if err != nil {
		return err
	}
	if t.RecipientID != c.localID {
		return &InvalidTransitionError{ID: id, From: t.Status, To: store.StatusInProgress,
			Reason: "only the recipient may accept"}
	}
	if t.Status == store.StatusInProgress {
		return nil
	}
	if !canTransition(t.Status, store.StatusInProgress) {
		return &InvalidTransitionError{ID: id, From: t.Status, To: store.StatusInProgress}
	}

	t.Status = store.StatusInProgress
	t.DestPath = savePath
	return c.commit(ctx, t)
}

// Reject declines an incoming offer. Only the recipient may reject, and
// only while the offer is still pending. Rejecting twice is a no-op.
func (c *Controller) Reject(ctx context.Context, id string) error {
	t, err := c.load(id)
	if err != nil {
		return err
	}
	if t.Status == store.StatusRejected {
		return nil
	}
	if t.RecipientID != c.localID {
		return &InvalidTransitionError{ID: id, From: t.Status, To: store.StatusRejected,
			Reason: "only the recipient may reject"}
	}
	if !canTransition(t.Status, store.StatusRejected) {
		return &InvalidTransitionError{ID: id, From: t.Status, To: store.StatusRejected}
	}

	t.Status = store.StatusRejected
	return c.commit(ctx, t)
}

// Cancel aborts a transfer from either side. Cancelling a transfer that
// already reached a terminal state is a no-op, so racing cancellations
// and cancel-after-complete resolve quietly.
func (c *Controller) Cancel(ctx context.Context, id string) error {
	t, err := c.load(id)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return nil
	}

	t.Status = store.StatusCancelled
	return c.commit(ctx, t)
}

// Progress records an observed byte count for an active transfer.
// Counts never regress and terminal records are left alone.
func (c *Controller) Progress(id string, bytes int64) error {
	ok, err := c.db.UpdateTransferProgress(id, bytes)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{ID: id}
	}
	t, err := c.load(id)
	if err != nil {
		return err
	}
	c.bus.Emit("transfer.progress", t)
	return nil
}

// Complete marks a transfer finished with all bytes accounted for.
// No-op if the transfer already reached a terminal state.
func (c *Controller) Complete(ctx context.Context, id string) error {
	t, err := c.load(id)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return nil
	}

	t.Status = store.StatusCompleted
	t.BytesTransferred = t.FileSize
	return c.commit(ctx, t)
}

// Fail marks a transfer failed with a reason. No-op once terminal.
func (c *Controller) Fail(ctx context.Context, id, reason string) error {
	t, err := c.load(id)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return nil
	}

	t.Status = store.StatusFailed
	t.Error = reason
	return c.commit(ctx, t)
}

func (c *Controller) load(id string) (*store.FileTransfer, error) {
	t, err := c.db.GetTransfer(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &NotFoundError{ID: id}
	}
	return t, nil
}

// commit records a state change and notifies the other party. The local
// record is authoritative; a failed notification is only logged, the
// peer catches up on its next poll.
func (c *Controller) commit(ctx context.Context, t *store.FileTransfer) error {
	if err := c.db.UpsertTransfer(t); err != nil {
		return err
	}
	c.log.Info("transfer status changed",
		zap.String("id", t.ID),
		zap.String("status", string(t.Status)))
	c.bus.Emit("transfer.updated", t)

	if err := c.transport.SendStatus(ctx, t); err != nil {
		c.log.Warn("status notification failed",
			zap.String("id", t.ID),
			zap.String("status", string(t.Status)),
			zap.Error(err))
	}
	return nil
}

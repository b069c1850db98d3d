package transfer

import (
	"fmt"

	"github.com/ayonsaha2011/ipchat/internal/store"
)

// NotFoundError is returned when an operation references an unknown
// transfer id. Benign: the record may simply no longer be relevant.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("transfer %q not found", e.ID)
}

// InvalidTransitionError is returned when a lifecycle operation is
// attempted from the wrong state or by the wrong party.
type InvalidTransitionError struct {
	ID     string
	From   store.TransferStatus
	To     store.TransferStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transfer %s: cannot go from %s to %s: %s", e.ID, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("transfer %s: invalid transition from %s to %s", e.ID, e.From, e.To)
}

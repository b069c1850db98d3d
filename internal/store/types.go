package store

// TransferStatus is the lifecycle state of a file transfer.
type TransferStatus string

const (
	StatusPending    TransferStatus = "pending"
	StatusInProgress TransferStatus = "in_progress"
	StatusCompleted  TransferStatus = "completed"
	StatusRejected   TransferStatus = "rejected"
	StatusCancelled  TransferStatus = "cancelled"
	StatusFailed     TransferStatus = "failed"
)

// Terminal reports whether the status is final. Terminal states are sticky:
// once a transfer reaches one, no later update may replace it.
func (s TransferStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Peer is a discovered participant on the local network. Peers are
// ephemeral: the directory owns their lifecycle, they are never persisted.
type Peer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	LastSeen int64  `json:"lastSeen"`
}

// Message is a chat message in the canonical log. Immutable except the
// read flag, which only ever transitions false to true.
type Message struct {
	Seq         int64  `json:"-"`
	ID          string `json:"id"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"`
	Read        bool   `json:"read"`
}

// FileTransfer is a file transfer record in the canonical log.
// SourcePath and DestPath are local-only and stripped before any record
// crosses the wire.
type FileTransfer struct {
	Seq              int64          `json:"-"`
	ID               string         `json:"id"`
	SenderID         string         `json:"senderId"`
	RecipientID      string         `json:"recipientId"`
	FileName         string         `json:"fileName"`
	FileSize         int64          `json:"fileSize"`
	SourcePath       string         `json:"sourcePath,omitempty"`
	DestPath         string         `json:"destPath,omitempty"`
	Status           TransferStatus `json:"status"`
	BytesTransferred int64          `json:"bytesTransferred"`
	Timestamp        int64          `json:"timestamp"`
	Error            string         `json:"error,omitempty"`
}

// Snapshot is a full-state view of the canonical log, used both for
// poll responses on the wire and for projection input.
type Snapshot struct {
	Messages  []*Message      `json:"messages"`
	Transfers []*FileTransfer `json:"transfers"`
}

// ProgressUpdate carries a bytes-transferred observation for one transfer.
type ProgressUpdate struct {
	TransferID string `json:"transferId"`
	Bytes      int64  `json:"bytes"`
}

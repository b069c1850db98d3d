package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayonsaha2011/ipchat/internal/store"
)

const (
	// DefaultChatPort is the TCP port peers listen on.
	DefaultChatPort = 8765
	// MaxFrameSize is the maximum accepted frame size (10 MB).
	MaxFrameSize = 10 * 1024 * 1024
	// ChunkSize is the file data chunk size (64 KiB).
	ChunkSize = 64 * 1024
	// DefaultDialTimeout bounds TCP dial duration.
	DefaultDialTimeout = 5 * time.Second
)

// Frame kinds carried on a chat connection. Frames are JSON objects
// delimited by newlines; one connection carries one or more frames.
const (
	KindMessage      = "message"
	KindTransferOff  = "transfer_offer"
	KindTransferStat = "transfer_status"
	KindTransferData = "transfer_data"
	KindReadReceipt  = "read_receipt"
	KindPullRequest  = "pull_request"
	KindPullResponse = "pull_response"
)

var (
	// ErrFrameTooLarge indicates a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("transport: frame exceeds max size")
	// ErrInvalidFrame indicates a frame that is not valid JSON or has no kind.
	ErrInvalidFrame = errors.New("transport: invalid frame")
)

// Frame is the wire envelope. From carries the sender's user id so the
// receiving side can attribute the payload without a handshake.
type Frame struct {
	Kind    string          `json:"kind"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TransferData is one chunk of file content, base64-encoded by
// encoding/json. Done marks the final chunk.
type TransferData struct {
	TransferID string `json:"transferId"`
	Data       []byte `json:"data"`
	Done       bool   `json:"done"`
}

// ReadReceipt tells a peer that everything they sent us has been read.
type ReadReceipt struct {
	PeerID string `json:"peerId"`
}

// Error wraps a network failure with the operation and peer it hit.
type Error struct {
	Op   string
	Peer string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s to %s: %v", e.Op, e.Peer, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// encodeFrame builds a newline-terminated frame with the given payload.
func encodeFrame(kind, from string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	buf, err := json.Marshal(Frame{Kind: kind, From: from, Payload: raw})
	if err != nil {
		return nil, err
	}
	if len(buf) >= MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return append(buf, '\n'), nil
}

// decodeFrame parses one line into a frame.
func decodeFrame(line []byte) (*Frame, error) {
	if len(line) >= MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if f.Kind == "" {
		return nil, ErrInvalidFrame
	}
	return &f, nil
}

// scrubTransfer strips local filesystem paths before a transfer record
// crosses the wire.
func scrubTransfer(t *store.FileTransfer) *store.FileTransfer {
	c := *t
	c.SourcePath = ""
	c.DestPath = ""
	return &c
}

// scrubSnapshot strips local paths from every transfer in a snapshot.
func scrubSnapshot(s *store.Snapshot) *store.Snapshot {
	out := &store.Snapshot{Messages: s.Messages}
	for _, t := range s.Transfers {
		out.Transfers = append(out.Transfers, scrubTransfer(t))
	}
	return out
}

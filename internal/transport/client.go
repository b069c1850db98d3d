package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/ayonsaha2011/ipchat/internal/store"
)

// AddrResolver turns a peer id into a dialable host:port. The discovery
// directory implements it.
type AddrResolver interface {
	Resolve(peerID string) (string, error)
}

// Client dials peers and pushes frames to them. Connections are
// per-operation: dial, write, close. File streaming holds one
// connection for the duration of the transfer.
type Client struct {
	resolver AddrResolver
	localID  string
	log      *zap.Logger
}

func NewClient(resolver AddrResolver, localID string, log *zap.Logger) *Client {
	return &Client{
		resolver: resolver,
		localID:  localID,
		log:      log.Named("transport"),
	}
}

func (c *Client) dial(ctx context.Context, peerID string) (net.Conn, error) {
	addr, err := c.resolver.Resolve(peerID)
	if err != nil {
		return nil, &Error{Op: "resolve", Peer: peerID, Err: err}
	}
	d := net.Dialer{Timeout: DefaultDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &Error{Op: "dial", Peer: peerID, Err: err}
	}
	return conn, nil
}

// push opens a connection, writes one frame and closes.
func (c *Client) push(ctx context.Context, peerID, kind string, payload any) error {
	buf, err := encodeFrame(kind, c.localID, payload)
	if err != nil {
		return err
	}
	conn, err := c.dial(ctx, peerID)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(buf); err != nil {
		return &Error{Op: kind, Peer: peerID, Err: err}
	}
	return nil
}

// SendMessage pushes a chat message to its recipient.
func (c *Client) SendMessage(ctx context.Context, m *store.Message) error {
	return c.push(ctx, m.RecipientID, KindMessage, m)
}

// SendOffer pushes a transfer offer to its recipient. Local paths are
// stripped before the record leaves the machine.
func (c *Client) SendOffer(ctx context.Context, t *store.FileTransfer) error {
	return c.push(ctx, t.RecipientID, KindTransferOff, scrubTransfer(t))
}

// SendStatus pushes a transfer status change to the other party.
func (c *Client) SendStatus(ctx context.Context, t *store.FileTransfer) error {
	peer := t.RecipientID
	if peer == c.localID {
		peer = t.SenderID
	}
	return c.push(ctx, peer, KindTransferStat, scrubTransfer(t))
}

// SendReadReceipt tells a peer their messages to us have been read.
func (c *Client) SendReadReceipt(ctx context.Context, peerID string) error {
	return c.push(ctx, peerID, KindReadReceipt, ReadReceipt{PeerID: c.localID})
}

// Pull requests a peer's full snapshot of the history it shares with us.
func (c *Client) Pull(ctx context.Context, peerID string) (*store.Snapshot, error) {
	conn, err := c.dial(ctx, peerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	buf, err := encodeFrame(KindPullRequest, c.localID, nil)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(buf); err != nil {
		return nil, &Error{Op: "pull", Peer: peerID, Err: err}
	}

	r := bufio.NewReaderSize(io.LimitReader(conn, MaxFrameSize), 64*1024)
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, &Error{Op: "pull", Peer: peerID, Err: err}
	}
	f, err := decodeFrame(line)
	if err != nil {
		return nil, &Error{Op: "pull", Peer: peerID, Err: err}
	}
	if f.Kind != KindPullResponse {
		return nil, &Error{Op: "pull", Peer: peerID,
			Err: fmt.Errorf("unexpected frame kind %q", f.Kind)}
	}
	var snap store.Snapshot
	if err := json.Unmarshal(f.Payload, &snap); err != nil {
		return nil, &Error{Op: "pull", Peer: peerID, Err: err}
	}
	return &snap, nil
}

// SendFileData streams a transfer's source file to its recipient in
// ChunkSize pieces over a single connection. After each chunk, progress
// is called with the running byte total; returning an error aborts the
// stream (e.g. when the transfer was cancelled mid-flight).
func (c *Client) SendFileData(ctx context.Context, t *store.FileTransfer, progress func(sent int64) error) error {
	file, err := os.Open(t.SourcePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.SourcePath, err)
	}
	defer func() { _ = file.Close() }()

	conn, err := c.dial(ctx, t.RecipientID)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	var sent int64
	chunk := make([]byte, ChunkSize)
	for {
		n, readErr := file.Read(chunk)
		if n > 0 {
			sent += int64(n)
			done := sent >= t.FileSize
			buf, err := encodeFrame(KindTransferData, c.localID, TransferData{
				TransferID: t.ID,
				Data:       chunk[:n],
				Done:       done,
			})
			if err != nil {
				return err
			}
			if _, err := conn.Write(buf); err != nil {
				return &Error{Op: "file data", Peer: t.RecipientID, Err: err}
			}
			if err := progress(sent); err != nil {
				return err
			}
			if done {
				c.log.Info("file streamed",
					zap.String("transfer", t.ID),
					zap.Int64("bytes", sent))
				return nil
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read %s: %w", t.SourcePath, readErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

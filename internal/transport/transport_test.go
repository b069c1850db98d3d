package transport

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ayonsaha2011/ipchat/internal/bus"
	"github.com/ayonsaha2011/ipchat/internal/store"
)

const (
	localID  = "user-aaaaaaaa"
	remoteID = "user-bbbbbbbb"
)

func TestFrameRoundtrip(t *testing.T) {
	m := &store.Message{ID: "m1", SenderID: localID, RecipientID: remoteID, Content: "hello", Timestamp: 1000}
	buf, err := encodeFrame(KindMessage, localID, m)
	if err != nil {
		t.Fatal(err)
	}
	if buf[len(buf)-1] != '\n' {
		t.Error("frame not newline-terminated")
	}

	f, err := decodeFrame(bytes.TrimSuffix(buf, []byte("\n")))
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != KindMessage || f.From != localID {
		t.Errorf("frame = %+v", f)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := decodeFrame([]byte("not json")); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("err = %v, want ErrInvalidFrame", err)
	}
	if _, err := decodeFrame([]byte(`{"payload":{}}`)); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("missing kind: err = %v, want ErrInvalidFrame", err)
	}
}

func TestEncodeRejectsOversizedFrame(t *testing.T) {
	huge := TransferData{TransferID: "ft-1", Data: make([]byte, MaxFrameSize)}
	if _, err := encodeFrame(KindTransferData, localID, huge); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestScrubStripsLocalPaths(t *testing.T) {
	in := &store.FileTransfer{
		ID:         "ft-1",
		SourcePath: "/home/me/secret/report.pdf",
		DestPath:   "/home/me/downloads/report.pdf",
		Status:     store.StatusPending,
	}
	out := scrubTransfer(in)
	if out.SourcePath != "" || out.DestPath != "" {
		t.Errorf("paths survived scrubbing: %+v", out)
	}
	if in.SourcePath == "" {
		t.Error("scrubTransfer mutated its input")
	}
}

// staticResolver maps every peer id to one address.
type staticResolver struct{ addr string }

func (r staticResolver) Resolve(string) (string, error) { return r.addr, nil }

func testServer(t *testing.T) (*Server, *Client, *store.DB, *bus.Bus) {
	t.Helper()
	db, err := store.Open(store.FileDSN(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	srv := NewServer(db, b, remoteID, 0, zap.NewNop())
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Stop)

	client := NewClient(staticResolver{addr: srv.Addr()}, localID, zap.NewNop())
	return srv, client, db, b
}

func waitFor(t *testing.T, events <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-events:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("no %s event within deadline", kind)
		}
	}
}

func TestSendMessageReachesBus(t *testing.T) {
	_, client, _, b := testServer(t)
	events, unsub := b.Subscribe("net.", 16)
	defer unsub()

	m := &store.Message{ID: "m1", SenderID: localID, RecipientID: remoteID, Content: "hello", Timestamp: 1000}
	if err := client.SendMessage(context.Background(), m); err != nil {
		t.Fatal(err)
	}

	evt := waitFor(t, events, "net.message")
	got := evt.Payload.(*store.Message)
	if got.ID != "m1" || got.Content != "hello" {
		t.Errorf("message = %+v", got)
	}
}

func TestSendOfferScrubsPaths(t *testing.T) {
	_, client, _, b := testServer(t)
	events, unsub := b.Subscribe("net.", 16)
	defer unsub()

	err := client.SendOffer(context.Background(), &store.FileTransfer{
		ID: "ft-1", SenderID: localID, RecipientID: remoteID,
		FileName: "report.pdf", FileSize: 100,
		SourcePath: "/home/me/report.pdf",
		Status:     store.StatusPending, Timestamp: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}

	evt := waitFor(t, events, "net.transfer")
	got := evt.Payload.(*store.FileTransfer)
	if got.SourcePath != "" {
		t.Errorf("source path crossed the wire: %q", got.SourcePath)
	}
}

func TestPullRoundtrip(t *testing.T) {
	_, client, db, _ := testServer(t)

	// History the server shares with us, plus a conversation with a
	// third peer that must not leak into our snapshot.
	seedMsg := &store.Message{ID: "m1", SenderID: remoteID, RecipientID: localID, Content: "hi", Timestamp: 1000}
	otherMsg := &store.Message{ID: "m2", SenderID: remoteID, RecipientID: "user-cccccccc", Content: "psst", Timestamp: 2000}
	if err := db.UpsertMessage(seedMsg); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(otherMsg); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertTransfer(&store.FileTransfer{
		ID: "ft-1", SenderID: remoteID, RecipientID: localID,
		FileName: "a.txt", FileSize: 10, DestPath: "/srv/private/a.txt",
		Status: store.StatusCompleted, Timestamp: 1500,
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := client.Pull(ctx, remoteID)
	if err != nil {
		t.Fatal(err)
	}

	if len(snap.Messages) != 1 || snap.Messages[0].ID != "m1" {
		t.Errorf("messages = %+v, want only m1", snap.Messages)
	}
	if len(snap.Transfers) != 1 {
		t.Fatalf("transfers = %+v, want one", snap.Transfers)
	}
	if snap.Transfers[0].DestPath != "" {
		t.Errorf("peer's local path leaked: %q", snap.Transfers[0].DestPath)
	}
}

func TestFileStreamWritesDestination(t *testing.T) {
	_, client, db, b := testServer(t)

	content := bytes.Repeat([]byte("chunky"), 30000) // > one chunk
	src := filepath.Join(t.TempDir(), "src.bin")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(t.TempDir(), "dest.bin")

	ft := &store.FileTransfer{
		ID: "ft-1", SenderID: localID, RecipientID: remoteID,
		FileName: "src.bin", FileSize: int64(len(content)),
		SourcePath: src, DestPath: dest,
		Status: store.StatusInProgress, Timestamp: 1000,
	}
	if err := db.UpsertTransfer(ft); err != nil {
		t.Fatal(err)
	}

	events, unsub := b.Subscribe("net.", 64)
	defer unsub()

	var reported []int64
	err := client.SendFileData(context.Background(), ft, func(sent int64) error {
		reported = append(reported, sent)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(reported) < 2 {
		t.Errorf("progress called %d times, want at least 2", len(reported))
	}
	if reported[len(reported)-1] != int64(len(content)) {
		t.Errorf("final progress = %d, want %d", reported[len(reported)-1], len(content))
	}

	// The receiving side reports completion once the final chunk lands.
	for {
		evt := waitFor(t, events, "net.transfer")
		got := evt.Payload.(*store.FileTransfer)
		if got.Status == store.StatusCompleted {
			break
		}
	}

	written, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(written, content) {
		t.Errorf("destination file differs from source (%d vs %d bytes)", len(written), len(content))
	}
}

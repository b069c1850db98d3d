package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(FileDSN(path))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestOpenMemory(t *testing.T) {
	db, err := Open(MemoryDSN("store-test"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	if err := db.UpsertMessage(&Message{ID: "m1", SenderID: "a", RecipientID: "b", Content: "hi", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := &Message{ID: "m1", SenderID: "a", RecipientID: "b", Content: "hello", Timestamp: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
}

func TestMessageReadFlagMonotonic(t *testing.T) {
	db := testDB(t)

	m := &Message{ID: "m1", SenderID: "a", RecipientID: "b", Content: "hi", Timestamp: 1000, Read: true}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	// A replay with read=false must not clear the flag.
	stale := &Message{ID: "m1", SenderID: "a", RecipientID: "b", Content: "hi", Timestamp: 1000, Read: false}
	if err := db.UpsertMessage(stale); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages()
	if len(msgs) != 1 || !msgs[0].Read {
		t.Error("read flag regressed on stale replay")
	}
}

func TestMessageContentImmutable(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ID: "m1", SenderID: "a", RecipientID: "b", Content: "original", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ID: "m1", SenderID: "a", RecipientID: "b", Content: "tampered", Timestamp: 2000}); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages()
	if msgs[0].Content != "original" {
		t.Errorf("content = %q, want original", msgs[0].Content)
	}
	if msgs[0].Timestamp != 1000 {
		t.Errorf("timestamp = %d, want 1000", msgs[0].Timestamp)
	}
}

func TestMarkRead(t *testing.T) {
	db := testDB(t)

	for _, m := range []*Message{
		{ID: "m1", SenderID: "peer", RecipientID: "me", Content: "1", Timestamp: 1},
		{ID: "m2", SenderID: "peer", RecipientID: "me", Content: "2", Timestamp: 2},
		{ID: "m3", SenderID: "me", RecipientID: "peer", Content: "3", Timestamp: 3},
	} {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.MarkRead("peer", "me")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("marked %d messages, want 2", n)
	}

	msgs, _ := db.ListMessagesWith("peer")
	for _, m := range msgs {
		if m.SenderID == "peer" && !m.Read {
			t.Errorf("message %s still unread", m.ID)
		}
		if m.SenderID == "me" && m.Read {
			t.Errorf("own message %s marked read", m.ID)
		}
	}

	// Second call marks nothing new.
	n, err = db.MarkRead("peer", "me")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second MarkRead marked %d, want 0", n)
	}
}

func TestUpsertTransferTerminalSticky(t *testing.T) {
	db := testDB(t)

	base := &FileTransfer{
		ID: "t1", SenderID: "a", RecipientID: "b",
		FileName: "a.bin", FileSize: 1000, Status: StatusCancelled, Timestamp: 1000,
	}
	if err := db.UpsertTransfer(base); err != nil {
		t.Fatal(err)
	}

	// A late Completed update must not overwrite the terminal state.
	late := *base
	late.Status = StatusCompleted
	late.BytesTransferred = 1000
	if err := db.UpsertTransfer(&late); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetTransfer("t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled (terminal states are sticky)", got.Status)
	}
}

func TestUpsertTransferKeepsLocalPaths(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertTransfer(&FileTransfer{
		ID: "t1", SenderID: "me", RecipientID: "b", FileName: "a.bin",
		FileSize: 10, SourcePath: "/home/me/a.bin", Status: StatusPending, Timestamp: 1,
	}); err != nil {
		t.Fatal(err)
	}

	// Wire copies carry no paths; merging one must not erase ours.
	if err := db.UpsertTransfer(&FileTransfer{
		ID: "t1", SenderID: "me", RecipientID: "b", FileName: "a.bin",
		FileSize: 10, Status: StatusInProgress, Timestamp: 1,
	}); err != nil {
		t.Fatal(err)
	}

	got, _ := db.GetTransfer("t1")
	if got.SourcePath != "/home/me/a.bin" {
		t.Errorf("source path = %q, want /home/me/a.bin", got.SourcePath)
	}
	if got.Status != StatusInProgress {
		t.Errorf("status = %s, want in_progress", got.Status)
	}
}

func TestUpdateTransferProgressMonotonic(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertTransfer(&FileTransfer{
		ID: "t1", SenderID: "a", RecipientID: "b", FileName: "a.bin",
		FileSize: 1000, Status: StatusInProgress, Timestamp: 1,
	}); err != nil {
		t.Fatal(err)
	}

	for _, bytes := range []int64{100, 50, 300} {
		ok, err := db.UpdateTransferProgress("t1", bytes)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("transfer reported unknown")
		}
	}

	got, _ := db.GetTransfer("t1")
	if got.BytesTransferred != 300 {
		t.Errorf("bytes = %d, want 300 (out-of-order updates never regress)", got.BytesTransferred)
	}

	ok, err := db.UpdateTransferProgress("missing", 10)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("progress on unknown id reported known")
	}
}

func TestSnapshotFor(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ID: "m1", SenderID: "p1", RecipientID: "me", Content: "x", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ID: "m2", SenderID: "p2", RecipientID: "me", Content: "y", Timestamp: 2}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertTransfer(&FileTransfer{ID: "t1", SenderID: "me", RecipientID: "p1", FileName: "f", Status: StatusPending, Timestamp: 3}); err != nil {
		t.Fatal(err)
	}

	snap, err := db.SnapshotFor("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].ID != "m1" {
		t.Errorf("messages = %v, want just m1", snap.Messages)
	}
	if len(snap.Transfers) != 1 || snap.Transfers[0].ID != "t1" {
		t.Errorf("transfers = %v, want just t1", snap.Transfers)
	}

	full, err := db.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(full.Messages) != 2 || len(full.Transfers) != 1 {
		t.Errorf("full snapshot = %d+%d records, want 2+1", len(full.Messages), len(full.Transfers))
	}
}

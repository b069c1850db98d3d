package store

import "database/sql"

// terminalSet is reused in upsert SQL to keep terminal states sticky.
const terminalSet = `('completed', 'rejected', 'cancelled', 'failed')`

// UpsertTransfer merges a transfer record into the log, keyed by id.
//
// The merge encodes the lifecycle invariants so every writer (push, poll,
// controller) goes through the same rules: a terminal status is never
// replaced, bytes_transferred never regresses, and local-only paths are
// kept when the incoming record (typically off the wire) lacks them.
func (db *DB) UpsertTransfer(t *FileTransfer) error {
	return upsertTransfer(db, t)
}

// UpsertTransferIn is UpsertTransfer inside an existing transaction.
func (db *DB) UpsertTransferIn(tx *sql.Tx, t *FileTransfer) error {
	return upsertTransfer(tx, t)
}

func upsertTransfer(e execer, t *FileTransfer) error {
	_, err := e.Exec(`
		INSERT INTO transfers (id, sender_id, recipient_id, file_name, file_size,
			source_path, dest_path, status, bytes_transferred, timestamp, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = CASE WHEN transfers.status IN `+terminalSet+`
				THEN transfers.status ELSE excluded.status END,
			error = CASE WHEN transfers.status IN `+terminalSet+`
				THEN transfers.error ELSE excluded.error END,
			bytes_transferred = MAX(transfers.bytes_transferred, excluded.bytes_transferred),
			source_path = CASE WHEN excluded.source_path = ''
				THEN transfers.source_path ELSE excluded.source_path END,
			dest_path = CASE WHEN excluded.dest_path = ''
				THEN transfers.dest_path ELSE excluded.dest_path END`,
		t.ID, t.SenderID, t.RecipientID, t.FileName, t.FileSize,
		t.SourcePath, t.DestPath, string(t.Status), t.BytesTransferred, t.Timestamp, t.Error)
	return err
}

// UpdateTransferProgress merges an observed byte count, never regressing
// and never touching a terminal record. Returns false if the transfer is
// unknown.
func (db *DB) UpdateTransferProgress(id string, bytes int64) (bool, error) {
	res, err := db.Exec(`
		UPDATE transfers SET bytes_transferred = MAX(bytes_transferred, ?)
		WHERE id = ? AND status NOT IN `+terminalSet,
		bytes, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	// Distinguish "terminal, left alone" from "unknown id".
	t, err := db.GetTransfer(id)
	if err != nil {
		return false, err
	}
	return t != nil, nil
}

// GetTransfer returns a single transfer by id, or nil if absent.
func (db *DB) GetTransfer(id string) (*FileTransfer, error) {
	row := db.QueryRow(`
		SELECT seq, id, sender_id, recipient_id, file_name, file_size,
			source_path, dest_path, status, bytes_transferred, timestamp, error
		FROM transfers WHERE id = ?`, id)
	t, err := scanTransfer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTransfers returns the full transfer log in arrival order.
func (db *DB) ListTransfers() ([]*FileTransfer, error) {
	rows, err := db.Query(`
		SELECT seq, id, sender_id, recipient_id, file_name, file_size,
			source_path, dest_path, status, bytes_transferred, timestamp, error
		FROM transfers
		ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var transfers []*FileTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// ListTransfersWith returns transfers exchanged with one peer, arrival order.
func (db *DB) ListTransfersWith(peerID string) ([]*FileTransfer, error) {
	rows, err := db.Query(`
		SELECT seq, id, sender_id, recipient_id, file_name, file_size,
			source_path, dest_path, status, bytes_transferred, timestamp, error
		FROM transfers
		WHERE sender_id = ? OR recipient_id = ?
		ORDER BY seq ASC`, peerID, peerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var transfers []*FileTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*FileTransfer, error) {
	var t FileTransfer
	var status string
	err := row.Scan(&t.Seq, &t.ID, &t.SenderID, &t.RecipientID, &t.FileName, &t.FileSize,
		&t.SourcePath, &t.DestPath, &status, &t.BytesTransferred, &t.Timestamp, &t.Error)
	if err != nil {
		return nil, err
	}
	t.Status = TransferStatus(status)
	return &t, nil
}

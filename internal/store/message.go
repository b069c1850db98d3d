package store

import "database/sql"

// execer lets the merge primitives run against either the DB or a transaction,
// so push-single and poll-bulk updates share one code path.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// UpsertMessage merges a message into the log, keyed by id.
//
// Original fields (sender, recipient, content, timestamp) are written once
// and never changed by a replay; the read flag merges with MAX so the
// false->true transition is monotonic regardless of delivery order.
func (db *DB) UpsertMessage(m *Message) error {
	return upsertMessage(db, m)
}

// UpsertMessageIn is UpsertMessage inside an existing transaction.
func (db *DB) UpsertMessageIn(tx *sql.Tx, m *Message) error {
	return upsertMessage(tx, m)
}

func upsertMessage(e execer, m *Message) error {
	read := 0
	if m.Read {
		read = 1
	}
	_, err := e.Exec(`
		INSERT INTO messages (id, sender_id, recipient_id, content, timestamp, read)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			read = MAX(messages.read, excluded.read)`,
		m.ID, m.SenderID, m.RecipientID, m.Content, m.Timestamp, read)
	return err
}

// ListMessages returns the full message log in arrival order.
func (db *DB) ListMessages() ([]*Message, error) {
	rows, err := db.Query(`
		SELECT seq, id, sender_id, recipient_id, content, timestamp, read
		FROM messages
		ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// ListMessagesWith returns messages exchanged with one peer, arrival order.
func (db *DB) ListMessagesWith(peerID string) ([]*Message, error) {
	rows, err := db.Query(`
		SELECT seq, id, sender_id, recipient_id, content, timestamp, read
		FROM messages
		WHERE sender_id = ? OR recipient_id = ?
		ORDER BY seq ASC`, peerID, peerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Seq, &m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.Timestamp, &m.Read); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// MarkRead flips the read flag on all messages sent by senderID to
// recipientID. Returns the number of messages newly marked.
func (db *DB) MarkRead(senderID, recipientID string) (int64, error) {
	res, err := db.Exec(`
		UPDATE messages SET read = 1
		WHERE sender_id = ? AND recipient_id = ? AND read = 0`,
		senderID, recipientID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

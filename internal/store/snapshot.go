package store

// Snapshot returns the entire canonical log in arrival order.
func (db *DB) Snapshot() (*Snapshot, error) {
	msgs, err := db.ListMessages()
	if err != nil {
		return nil, err
	}
	transfers, err := db.ListTransfers()
	if err != nil {
		return nil, err
	}
	return &Snapshot{Messages: msgs, Transfers: transfers}, nil
}

// SnapshotFor returns the slice of the log involving one peer, used to
// answer that peer's full-state pull.
func (db *DB) SnapshotFor(peerID string) (*Snapshot, error) {
	msgs, err := db.ListMessagesWith(peerID)
	if err != nil {
		return nil, err
	}
	transfers, err := db.ListTransfersWith(peerID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Messages: msgs, Transfers: transfers}, nil
}

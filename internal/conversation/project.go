// Package conversation folds the canonical log into per-peer views.
//
// Project is a pure function: no I/O, no clock, and identical inputs always
// produce structurally identical output, so it can be re-run on every
// ingest without drift.
package conversation

import (
	"sort"

	"github.com/ayonsaha2011/ipchat/internal/store"
)

// UnknownPeerName labels peers referenced by the log but absent from the
// directory. The item is never dropped because of a stale peer set.
const UnknownPeerName = "Unknown User"

// ItemKind discriminates the source record of an Item.
type ItemKind string

const (
	KindMessage ItemKind = "message"
	KindFile    ItemKind = "file"
)

// Item is the unified projection of a Message or FileTransfer used for
// ordering and unread accounting. Read holds the read flag for messages
// and the Completed-analog for transfers.
type Item struct {
	ID          string
	Kind        ItemKind
	SenderID    string
	RecipientID string
	Timestamp   int64
	Read        bool

	Message  *store.Message
	Transfer *store.FileTransfer
}

// Conversation is the per-peer aggregate view.
type Conversation struct {
	Peer        store.Peer
	Items       []Item
	UnreadCount int
	LastItem    *Item
}

// Project buckets messages and transfers by their non-local party, orders
// each bucket by timestamp (ties keep arrival order) and orders the
// conversation list by most recent activity. started lists peers whose
// conversations exist by explicit user action even without items; they
// sort after every conversation that has items.
func Project(msgs []*store.Message, transfers []*store.FileTransfer, peers []store.Peer, localID string, started []string) []Conversation {
	directory := make(map[string]store.Peer, len(peers))
	for _, p := range peers {
		directory[p.ID] = p
	}

	buckets := make(map[string][]Item)
	var order []string
	bucket := func(peerID string) {
		if _, ok := buckets[peerID]; !ok {
			buckets[peerID] = nil
			order = append(order, peerID)
		}
	}
	add := func(it Item) {
		peerID := peerOf(it.SenderID, it.RecipientID, localID)
		bucket(peerID)
		buckets[peerID] = append(buckets[peerID], it)
	}

	// Messages then transfers, each in arrival order; the stable sort
	// below preserves this order among equal timestamps.
	for _, m := range msgs {
		add(Item{
			ID: m.ID, Kind: KindMessage,
			SenderID: m.SenderID, RecipientID: m.RecipientID,
			Timestamp: m.Timestamp, Read: m.Read,
			Message: m,
		})
	}
	for _, t := range transfers {
		add(Item{
			ID: t.ID, Kind: KindFile,
			SenderID: t.SenderID, RecipientID: t.RecipientID,
			Timestamp: t.Timestamp, Read: t.Status == store.StatusCompleted,
			Transfer: t,
		})
	}

	for _, peerID := range started {
		bucket(peerID)
	}

	convs := make([]Conversation, 0, len(order))
	for _, peerID := range order {
		items := buckets[peerID]
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Timestamp < items[j].Timestamp
		})

		conv := Conversation{Peer: resolvePeer(directory, peerID), Items: items}
		for i := range items {
			// Self-addressed items are always locally authored and never
			// count as unread.
			if items[i].SenderID != localID && !items[i].Read {
				conv.UnreadCount++
			}
		}
		if len(items) > 0 {
			conv.LastItem = &items[len(items)-1]
		}
		convs = append(convs, conv)
	}

	// Most recent activity first; item-less conversations last, keeping
	// their relative order.
	sort.SliceStable(convs, func(i, j int) bool {
		li, lj := convs[i].LastItem, convs[j].LastItem
		if li == nil || lj == nil {
			return li != nil && lj == nil
		}
		return li.Timestamp > lj.Timestamp
	})

	return convs
}

// peerOf returns the non-local party of an item. A self-addressed item
// (sender == recipient == local) buckets under the local id itself.
func peerOf(senderID, recipientID, localID string) string {
	if senderID == localID {
		return recipientID
	}
	return senderID
}

func resolvePeer(directory map[string]store.Peer, peerID string) store.Peer {
	if p, ok := directory[peerID]; ok {
		return p
	}
	return store.Peer{ID: peerID, Name: UnknownPeerName}
}

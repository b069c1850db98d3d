package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-namespaced: "net.*" carries decoded inbound transport
// frames, "chat.*" and "transfer.*" are post-ingest notifications for the
// presentation layer, "peer.*" tracks directory changes and "sync.*" marks
// reconciliation milestones.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

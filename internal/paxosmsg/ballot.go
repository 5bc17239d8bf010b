// Package paxosmsg defines the wire messages and ballot ordering used by the
// Paxos slot engine. Messages are JSON objects framed as the entire payload
// of one short-lived connection (see internal/transport).
package paxosmsg

import "fmt"

// Ballot is (seq, node_id, depth), totally ordered by depth primary, seq
// secondary, node_id tertiary. Encoding depth binds a ballot to one ledger
// position so a lagging node recognizes a stale PREPARE immediately.
type Ballot struct {
	Seq    int `json:"seq"`
	NodeID int `json:"node"`
	Depth  int `json:"depth"`
}

// Less reports whether b orders strictly before other.
func (b Ballot) Less(other Ballot) bool {
	if b.Depth != other.Depth {
		return b.Depth < other.Depth
	}
	if b.Seq != other.Seq {
		return b.Seq < other.Seq
	}
	return b.NodeID < other.NodeID
}

// Greater reports whether b orders strictly after other.
func (b Ballot) Greater(other Ballot) bool {
	return other.Less(b)
}

// IsZero reports whether b is the zero-value ballot, which orders before any
// ballot a node ever generates (sequence numbers start at 1).
func (b Ballot) IsZero() bool {
	return b == Ballot{}
}

func (b Ballot) String() string {
	return fmt.Sprintf("(seq=%d,node=%d,depth=%d)", b.Seq, b.NodeID, b.Depth)
}

// Package transport delivers framed JSON messages between peer nodes over a
// best-effort, addressed channel: a TCP implementation for real processes
// and an in-memory implementation for tests and the in-process demo.
package transport

import (
	"time"

	"github.com/quorumledger/paxosledger/internal/paxosmsg"
)

// NetDelay is the artificial latency applied before every outbound delivery.
// It is a design requirement, not incidental: it is what produces realistic
// concurrent-proposer races when driving the system interactively.
const NetDelay = 3 * time.Second

// timeoutError is the concrete type behind ErrTimeout.
type timeoutError struct{}

func (timeoutError) Error() string { return "transport: receive timed out" }

// ErrTimeout is the error value for a receive that times out without a
// message arriving. No function in this package returns it; receiving is
// done directly on the Inbox channel.
var ErrTimeout error = timeoutError{}

// Inbound is one decoded message pulled off the wire, tagged with its
// message type so the node controller can dispatch without a second type
// switch.
type Inbound struct {
	Type    paxosmsg.Type
	Message interface{}
}

// Transport is the contract the Node Controller and Paxos Slot Engine use to
// talk to peers. Send and Broadcast are non-blocking: they schedule
// delivery after NetDelay and drop silently if the destination (or this
// node) is in failed mode, or if no connection can be established. Each
// message is delivered independently (its own goroutine, and for TCP its own
// connection), so no order is guaranteed, not even within one
// (sender, receiver) pair.
type Transport interface {
	// Send delivers msg to target after NetDelay. Errors are only returned
	// for programmer mistakes (e.g. unknown peer id); network-level failure
	// is silent by design.
	Send(target int, typ paxosmsg.Type, msg interface{}) error
	// Broadcast sends to every peer other than self.
	Broadcast(typ paxosmsg.Type, msg interface{})
	// Inbox returns the channel inbound messages are pushed onto.
	Inbox() <-chan Inbound
	// SetFailed toggles FAILED mode: while true, all inbound and outbound
	// traffic for this node is dropped and in-flight deliveries are
	// cancelled where possible.
	SetFailed(failed bool)
	// Close releases any listening sockets and stops background delivery.
	Close() error
}

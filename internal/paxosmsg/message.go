package paxosmsg

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/quorumledger/paxosledger/internal/block"
)

// Type tags the kind of message carried in an Envelope.
type Type string

// The wire message types exchanged between peers.
const (
	TypePrepare         Type = "PREPARE"
	TypePromise         Type = "PROMISE"
	TypeAccept          Type = "ACCEPT"
	TypeAccepted        Type = "ACCEPTED"
	TypeDecide          Type = "DECIDE"
	TypeRequestLedger   Type = "REQUEST_LEDGER"
	TypeLedgerResponse  Type = "LEDGER_RESPONSE"
)

// Prepare is phase-1 of Paxos: "I want to propose with this ballot."
type Prepare struct {
	From   int    `json:"from"`
	Ballot Ballot `json:"ballot"`
}

// Promise is the acceptor's phase-1 reply: a promise not to accept anything
// below Ballot, plus whatever it previously accepted in this slot (if any).
type Promise struct {
	From             int          `json:"from"`
	Ballot           Ballot       `json:"ballot"`
	AcceptedBallot   *Ballot      `json:"accepted_ballot"`
	AcceptedValue    *block.Block `json:"accepted_value"`
}

// Accept is phase-2 of Paxos: "accept this value at this ballot."
type Accept struct {
	From   int         `json:"from"`
	Ballot Ballot      `json:"ballot"`
	Value  block.Block `json:"value"`
}

// Accepted is the acceptor's phase-2 reply.
type Accepted struct {
	From   int         `json:"from"`
	Ballot Ballot      `json:"ballot"`
	Value  block.Block `json:"value"`
}

// Decide announces the chosen value to all learners.
type Decide struct {
	From  int         `json:"from"`
	Value block.Block `json:"value"`
}

// RequestLedger is sent by a recovering node during catch-up.
type RequestLedger struct {
	From int `json:"from"`
}

// LedgerResponse is a peer's reply to RequestLedger: its current committed
// chain and derived balances.
type LedgerResponse struct {
	From     int            `json:"from"`
	Chain    []block.Block  `json:"chain"`
	Balances map[int]int    `json:"balances"`
}

// Envelope is the outer JSON shape every wire message is framed in: a type
// tag plus the type-specific payload, so the transport layer can decode a
// message without knowing its concrete Go type in advance.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps a typed message into an Envelope-shaped JSON byte slice.
func Encode(t Type, v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "paxosmsg: marshal payload")
	}
	return json.Marshal(Envelope{Type: t, Payload: payload})
}

// Decode parses a framed Envelope and returns the concrete message value
// behind an interface{}, switched on its Type tag.
func Decode(data []byte) (Type, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, errors.Wrap(err, "paxosmsg: unmarshal envelope")
	}
	var v interface{}
	switch env.Type {
	case TypePrepare:
		var m Prepare
		v = &m
	case TypePromise:
		var m Promise
		v = &m
	case TypeAccept:
		var m Accept
		v = &m
	case TypeAccepted:
		var m Accepted
		v = &m
	case TypeDecide:
		var m Decide
		v = &m
	case TypeRequestLedger:
		var m RequestLedger
		v = &m
	case TypeLedgerResponse:
		var m LedgerResponse
		v = &m
	default:
		return "", nil, errors.Errorf("paxosmsg: unknown message type %q", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return "", nil, errors.Wrapf(err, "paxosmsg: unmarshal %s payload", env.Type)
	}
	return env.Type, v, nil
}

// Package paxos runs one Paxos instance per ledger slot (depth), driving
// PREPARE/PROMISE/ACCEPT/ACCEPTED/DECIDE and bridging a chosen block back to
// the Ledger through a commit callback.
package paxos

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quorumledger/paxosledger/internal/block"
	"github.com/quorumledger/paxosledger/internal/paxosmsg"
	"github.com/quorumledger/paxosledger/internal/transport"
)

// Majority is the quorum size for N=5 peers: ceil((N+1)/2).
const Majority = 3

// ProposalTimeout bounds how long a proposer waits for its round to
// complete before retrying with a fresh, higher ballot.
const ProposalTimeout = 20 * time.Second

// LedgerView is the narrow slice of Ledger the engine needs: the current
// slot's depth (to drop stale/future messages) and tip hash (to apply the
// conservative accepted-value adoption rule when the depth moves mid-round).
type LedgerView interface {
	Depth() int
	TipHash() string
}

// CommitFunc is invoked exactly once per committed block. The Node
// Controller wires this to Ledger.Apply followed by Persistence.Save.
type CommitFunc func(block.Block)

// Engine is one node's Paxos Slot Engine: it plays proposer, acceptor, and
// learner for whichever depth is currently open.
type Engine struct {
	selfID    int
	transport transport.Transport
	ledger    LedgerView
	commit    CommitFunc
	log       *logrus.Entry

	mu sync.Mutex

	nextSeq int

	promisedBallot paxosmsg.Ballot
	acceptedBallot *paxosmsg.Ballot
	acceptedValue  *block.Block

	currentBallot paxosmsg.Ballot
	myProposal    *block.Block
	isLeader      bool
	promises      map[paxosmsg.Ballot][]paxosmsg.Promise
	acceptedFrom  map[paxosmsg.Ballot]map[int]struct{}
	chosenValue   *block.Block

	decidedHashes map[string]struct{}

	proposalTimeout time.Duration
	timer           *time.Timer
}

// New returns an Engine for selfID, wired to transport for message delivery,
// ledger for depth/tip checks, and commit for landing chosen blocks.
func New(selfID int, t transport.Transport, l LedgerView, commit CommitFunc, log *logrus.Entry) *Engine {
	return &Engine{
		selfID:          selfID,
		transport:       t,
		ledger:          l,
		commit:          commit,
		log:             log.WithField("component", "paxos"),
		promises:        make(map[paxosmsg.Ballot][]paxosmsg.Promise),
		acceptedFrom:    make(map[paxosmsg.Ballot]map[int]struct{}),
		decidedHashes:   make(map[string]struct{}),
		proposalTimeout: ProposalTimeout,
	}
}

// SetProposalTimeout overrides the retry timeout (default ProposalTimeout).
// Tests shrink this to exercise the dueling-proposer retry path without
// waiting on the production timeout.
func (e *Engine) SetProposalTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.proposalTimeout = d
}

// SetNextSeq restores next_seq after loading a persisted snapshot, so a
// restarted node resumes numbering its ballots where it left off.
func (e *Engine) SetNextSeq(seq int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSeq = seq
}

// NextSeq returns the current sequence counter, for persistence.
func (e *Engine) NextSeq() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextSeq
}

// MarkDecided seeds decided_hashes after a catch-up replace, so blocks
// learned by replaying a peer's chain are not re-broadcast as DECIDE.
func (e *Engine) MarkDecided(hashes []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range hashes {
		e.decidedHashes[h] = struct{}{}
	}
}

// Propose begins a proposer round for the current depth with blk as the
// candidate value.
func (e *Engine) Propose(blk block.Block) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.proposeLocked(blk)
}

func (e *Engine) proposeLocked(blk block.Block) {
	e.nextSeq++
	ballot := paxosmsg.Ballot{Seq: e.nextSeq, NodeID: e.selfID, Depth: e.ledger.Depth()}
	e.currentBallot = ballot
	b := blk
	e.myProposal = &b
	e.promises[ballot] = nil
	e.isLeader = false
	e.chosenValue = nil

	e.log.WithFields(logrus.Fields{"ballot": ballot.String()}).Debug("proposing")
	e.transport.Broadcast(paxosmsg.TypePrepare, paxosmsg.Prepare{From: e.selfID, Ballot: ballot})
	e.resetTimerLocked(ballot)

	// self-handle as acceptor, same as any other PREPARE recipient
	e.handlePrepareLocked(paxosmsg.Prepare{From: e.selfID, Ballot: ballot})
}

func (e *Engine) resetTimerLocked(ballot paxosmsg.Ballot) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.proposalTimeout, func() { e.onTimeout(ballot) })
}

func (e *Engine) cancelTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Engine) onTimeout(ballot paxosmsg.Ballot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ballot != e.currentBallot {
		return // stale timer: a newer round started, or this slot already decided
	}
	if e.ledger.Depth() != ballot.Depth {
		// the block this round was chasing is no longer applicable at the
		// now-current depth; abandon rather than risk a double commit.
		e.log.WithField("ballot", ballot.String()).Debug("timeout: depth advanced, abandoning")
		return
	}
	e.log.WithField("ballot", ballot.String()).Debug("proposal timeout, retrying")
	e.proposeLocked(*e.myProposal)
}

// OnMessage dispatches an inbound message to its role handler. typ comes
// from transport.Inbound.Type.
func (e *Engine) OnMessage(typ paxosmsg.Type, msg interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch typ {
	case paxosmsg.TypePrepare:
		e.handlePrepareLocked(derefPrepare(msg))
	case paxosmsg.TypePromise:
		e.handlePromiseLocked(derefPromise(msg))
	case paxosmsg.TypeAccept:
		e.handleAcceptLocked(derefAccept(msg))
	case paxosmsg.TypeAccepted:
		e.handleAcceptedLocked(derefAccepted(msg))
	case paxosmsg.TypeDecide:
		e.handleDecideLocked(derefDecide(msg))
	}
}

func derefPrepare(v interface{}) paxosmsg.Prepare {
	switch m := v.(type) {
	case paxosmsg.Prepare:
		return m
	case *paxosmsg.Prepare:
		return *m
	}
	return paxosmsg.Prepare{}
}

func derefPromise(v interface{}) paxosmsg.Promise {
	switch m := v.(type) {
	case paxosmsg.Promise:
		return m
	case *paxosmsg.Promise:
		return *m
	}
	return paxosmsg.Promise{}
}

func derefAccept(v interface{}) paxosmsg.Accept {
	switch m := v.(type) {
	case paxosmsg.Accept:
		return m
	case *paxosmsg.Accept:
		return *m
	}
	return paxosmsg.Accept{}
}

func derefAccepted(v interface{}) paxosmsg.Accepted {
	switch m := v.(type) {
	case paxosmsg.Accepted:
		return m
	case *paxosmsg.Accepted:
		return *m
	}
	return paxosmsg.Accepted{}
}

func derefDecide(v interface{}) paxosmsg.Decide {
	switch m := v.(type) {
	case paxosmsg.Decide:
		return m
	case *paxosmsg.Decide:
		return *m
	}
	return paxosmsg.Decide{}
}

// handlePrepareLocked is the acceptor role's PREPARE handler.
func (e *Engine) handlePrepareLocked(p paxosmsg.Prepare) {
	if p.Ballot.Depth != e.ledger.Depth() {
		return // stale or future slot
	}
	if !p.Ballot.Greater(e.promisedBallot) {
		return // silent drop: already promised something at least as high
	}
	e.promisedBallot = p.Ballot

	promise := paxosmsg.Promise{
		From:           e.selfID,
		Ballot:         p.Ballot,
		AcceptedBallot: cloneBallot(e.acceptedBallot),
		AcceptedValue:  cloneBlock(e.acceptedValue),
	}
	_ = e.transport.Send(p.From, paxosmsg.TypePromise, promise)
}

func cloneBallot(b *paxosmsg.Ballot) *paxosmsg.Ballot {
	if b == nil {
		return nil
	}
	cp := *b
	return &cp
}

func cloneBlock(b *block.Block) *block.Block {
	if b == nil {
		return nil
	}
	cp := *b
	return &cp
}

// handlePromiseLocked is the proposer role's PROMISE handler.
func (e *Engine) handlePromiseLocked(p paxosmsg.Promise) {
	if p.Ballot.Depth != e.ledger.Depth() {
		return
	}
	if p.Ballot != e.currentBallot {
		return // not my current round
	}
	if e.isLeader {
		return
	}
	e.promises[p.Ballot] = append(e.promises[p.Ballot], p)
	if len(e.promises[p.Ballot]) < Majority {
		return
	}
	e.isLeader = true

	chosen := *e.myProposal
	var highest *paxosmsg.Ballot
	for _, promise := range e.promises[p.Ballot] {
		if promise.AcceptedBallot == nil {
			continue
		}
		if highest == nil || promise.AcceptedBallot.Greater(*highest) {
			highest = promise.AcceptedBallot
			chosen = *promise.AcceptedValue
		}
	}

	if chosen.PrevHash != e.ledger.TipHash() {
		// The accepted value we'd adopt no longer chains onto the current
		// tip because the depth moved mid-round. Abandon rather than risk
		// proposing an inapplicable value.
		e.log.WithField("ballot", p.Ballot.String()).Debug("promise adoption stale, abandoning round")
		return
	}

	e.chosenValue = &chosen
	e.acceptedFrom[p.Ballot] = make(map[int]struct{})
	e.transport.Broadcast(paxosmsg.TypeAccept, paxosmsg.Accept{From: e.selfID, Ballot: p.Ballot, Value: chosen})
	e.handleAcceptLocked(paxosmsg.Accept{From: e.selfID, Ballot: p.Ballot, Value: chosen})
}

// handleAcceptLocked is the acceptor role's ACCEPT handler.
func (e *Engine) handleAcceptLocked(a paxosmsg.Accept) {
	if a.Ballot.Depth != e.ledger.Depth() {
		return
	}
	if a.Ballot.Less(e.promisedBallot) {
		return // silent drop
	}
	e.promisedBallot = a.Ballot
	e.acceptedBallot = cloneBallot(&a.Ballot)
	v := a.Value
	e.acceptedValue = &v

	_ = e.transport.Send(a.From, paxosmsg.TypeAccepted, paxosmsg.Accepted{From: e.selfID, Ballot: a.Ballot, Value: a.Value})
}

// handleAcceptedLocked is the proposer role's ACCEPTED handler.
func (e *Engine) handleAcceptedLocked(a paxosmsg.Accepted) {
	if a.Ballot.Depth != e.ledger.Depth() {
		return
	}
	if a.Ballot != e.currentBallot || !e.isLeader {
		return
	}
	if _, ok := e.acceptedFrom[a.Ballot]; !ok {
		e.acceptedFrom[a.Ballot] = make(map[int]struct{})
	}
	e.acceptedFrom[a.Ballot][a.From] = struct{}{}
	if len(e.acceptedFrom[a.Ballot]) < Majority {
		return
	}
	v := *e.chosenValue
	if _, already := e.decidedHashes[v.Hash]; !already {
		e.transport.Broadcast(paxosmsg.TypeDecide, paxosmsg.Decide{From: e.selfID, Value: v})
	}
	e.applyDecisionLocked(v)
}

// handleDecideLocked is the learner role's DECIDE handler.
func (e *Engine) handleDecideLocked(d paxosmsg.Decide) {
	e.applyDecisionLocked(d.Value)
}

// applyDecisionLocked is the single idempotency gate for landing a chosen
// value: skip entirely if already decided, otherwise commit and reset the
// slot for the next depth. decided_hashes and next_seq are never reset
// here, they are the state that must survive across slots.
func (e *Engine) applyDecisionLocked(v block.Block) {
	if _, already := e.decidedHashes[v.Hash]; already {
		return
	}
	e.decidedHashes[v.Hash] = struct{}{}
	e.cancelTimerLocked()
	e.commit(v)

	e.promisedBallot = paxosmsg.Ballot{}
	e.acceptedBallot = nil
	e.acceptedValue = nil
	e.currentBallot = paxosmsg.Ballot{}
	e.myProposal = nil
	e.isLeader = false
	e.chosenValue = nil
	e.promises = make(map[paxosmsg.Ballot][]paxosmsg.Promise)
	e.acceptedFrom = make(map[paxosmsg.Ballot]map[int]struct{})

	// The commit callback runs with e.mu released: the controller's callback
	// persists a snapshot that reads NextSeq, which takes e.mu itself. The
	// slot is already reset, so a retry timer firing meanwhile is stale.
	e.mu.Unlock()
	e.commit(v)
	e.mu.Lock()
}

// Cancel stops any in-flight proposal timer and abandons the current
// candidate without deciding anything, used when the node enters FAILED
// mode.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelTimerLocked()
	e.myProposal = nil
	e.isLeader = false
	e.promises = make(map[paxosmsg.Ballot][]paxosmsg.Promise)
	e.acceptedFrom = make(map[paxosmsg.Ballot]map[int]struct{})
	e.currentBallot = paxosmsg.Ballot{}
}

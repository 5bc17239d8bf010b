// Package node owns the run/fail lifecycle of one peer: it sequences
// console requests into Paxos proposals, dispatches inbound wire messages,
// and drives the catch-up sub-protocol a restarted node uses to rejoin the
// quorum.
package node

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/quorumledger/paxosledger/internal/block"
	"github.com/quorumledger/paxosledger/internal/ledger"
	"github.com/quorumledger/paxosledger/internal/paxos"
	"github.com/quorumledger/paxosledger/internal/paxosmsg"
	"github.com/quorumledger/paxosledger/internal/storage"
	"github.com/quorumledger/paxosledger/internal/transport"
)

// CatchupWindow is how long a recovering node waits for LEDGER_RESPONSE
// replies before picking a winner.
const CatchupWindow = 8 * time.Second

// Mode is the node's run/fail lifecycle state.
type Mode int32

const (
	Running Mode = iota
	Failed
)

func (m Mode) String() string {
	if m == Failed {
		return "FAILED"
	}
	return "RUNNING"
}

// ErrNodeFailed is returned by operations rejected because the node is
// currently in FAILED mode.
var ErrNodeFailed = errors.New("node: rejected, node is in FAILED mode")

// Controller is the sole mutator of its Ledger, Paxos slot state, and
// FAILED flag: every inbound message, console request, and catch-up timer
// funnels through one command loop, so those pieces of state are always a
// consistent snapshot to whichever handler runs next. The one exception is
// the Paxos engine's proposal-retry timer, which fires on its own goroutine
// and is serialized with the loop's engine calls by the engine's mutex.
type Controller struct {
	selfID int
	led    *ledger.Ledger
	store  storage.Store
	engine *paxos.Engine
	tr     transport.Transport
	log    *logrus.Entry

	cmdCh  chan func()
	doneCh chan struct{}
	wg     sync.WaitGroup

	mode atomic.Int32

	catchupCancel    context.CancelFunc
	catchupActive    bool
	catchupResponses []paxosmsg.LedgerResponse
	catchupWindow    time.Duration
}

// New wires a Controller for selfID around an already-constructed Ledger,
// Store, and Transport.
func New(selfID int, led *ledger.Ledger, store storage.Store, tr transport.Transport, log *logrus.Entry) *Controller {
	c := &Controller{
		selfID:        selfID,
		led:           led,
		store:         store,
		tr:            tr,
		log:           log.WithField("node", selfID),
		cmdCh:         make(chan func()),
		doneCh:        make(chan struct{}),
		catchupWindow: CatchupWindow,
	}
	c.engine = paxos.New(selfID, tr, led, c.onCommit, c.log)
	return c
}

// SetProposalTimeout overrides the Paxos engine's retry timeout (tests
// shrink this to exercise retry paths without the production timeout).
func (c *Controller) SetProposalTimeout(d time.Duration) {
	c.engine.SetProposalTimeout(d)
}

// SetCatchupWindow overrides how long Recover waits for LEDGER_RESPONSE
// replies (tests shrink this from the production CatchupWindow).
func (c *Controller) SetCatchupWindow(d time.Duration) {
	c.catchupWindow = d
}

// LoadSnapshot restores a previously persisted snapshot, if any: it replays
// the chain into the ledger and restores next_seq so a restarted node
// doesn't collide its next ballot with one it already used. Call before
// Start.
func (c *Controller) LoadSnapshot() error {
	snap, ok, err := c.store.Load()
	if err != nil {
		return errors.Wrap(err, "node: load snapshot")
	}
	if !ok {
		return nil
	}
	if err := ledger.ValidateChain(snap.Chain); err != nil {
		return errors.Wrap(err, "node: persisted snapshot failed validation")
	}
	c.led.Replace(snap.Chain)
	c.engine.SetNextSeq(snap.NextSeq)
	c.engine.MarkDecided(hashesOf(snap.Chain))
	return nil
}

// Start begins the single command-loop goroutine that serializes every
// mutation of ledger, slot, and FAILED state.
func (c *Controller) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop halts the command loop. The transport is the caller's to close.
func (c *Controller) Stop() {
	close(c.doneCh)
	c.wg.Wait()
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case in := <-c.tr.Inbox():
			c.handleInbound(in)
		case fn := <-c.cmdCh:
			fn()
		case <-c.doneCh:
			return
		}
	}
}

// submit enqueues fn on the command loop and blocks until it has run,
// giving external callers (the console) a synchronous request/response API
// over the single-goroutine critical section.
func (c *Controller) submit(fn func()) {
	done := make(chan struct{})
	c.cmdCh <- func() {
		fn()
		close(done)
	}
	<-done
}

// Mode reports the current lifecycle mode. It is a plain atomic load: mode
// is only ever written from inside the command loop, so a read observes
// either the value before or after a transition, never a torn state.
func (c *Controller) Mode() Mode {
	return Mode(c.mode.Load())
}

func (c *Controller) handleInbound(in transport.Inbound) {
	switch in.Type {
	case paxosmsg.TypePrepare, paxosmsg.TypePromise, paxosmsg.TypeAccept, paxosmsg.TypeAccepted, paxosmsg.TypeDecide:
		c.engine.OnMessage(in.Type, in.Message)
	case paxosmsg.TypeRequestLedger:
		c.handleRequestLedger(derefRequestLedger(in.Message))
	case paxosmsg.TypeLedgerResponse:
		c.handleLedgerResponse(derefLedgerResponse(in.Message))
	}
}

func derefRequestLedger(v interface{}) paxosmsg.RequestLedger {
	switch m := v.(type) {
	case paxosmsg.RequestLedger:
		return m
	case *paxosmsg.RequestLedger:
		return *m
	}
	return paxosmsg.RequestLedger{}
}

func derefLedgerResponse(v interface{}) paxosmsg.LedgerResponse {
	switch m := v.(type) {
	case paxosmsg.LedgerResponse:
		return m
	case *paxosmsg.LedgerResponse:
		return *m
	}
	return paxosmsg.LedgerResponse{}
}

// handleRequestLedger answers a peer's catch-up request with this node's
// current committed state. The transport itself drops the reply if this
// node is FAILED by the time the send fires, so no mode check is needed
// here.
func (c *Controller) handleRequestLedger(req paxosmsg.RequestLedger) {
	resp := paxosmsg.LedgerResponse{
		From:     c.selfID,
		Chain:    c.led.Chain(),
		Balances: c.led.Balances(),
	}
	_ = c.tr.Send(req.From, paxosmsg.TypeLedgerResponse, resp)
}

func (c *Controller) handleLedgerResponse(resp paxosmsg.LedgerResponse) {
	if !c.catchupActive {
		return
	}
	c.catchupResponses = append(c.catchupResponses, resp)
}

// SubmitTransfer is the console-facing entry point for moneyTransfer.
func (c *Controller) SubmitTransfer(dst, amount int) error {
	var err error
	c.submit(func() {
		err = c.submitTransferLocked(dst, amount)
	})
	return err
}

func (c *Controller) submitTransferLocked(dst, amount int) error {
	if c.Mode() == Failed {
		return ErrNodeFailed
	}
	blk, err := c.led.BuildCandidate(c.selfID, dst, amount)
	if err != nil {
		return err
	}
	c.engine.Propose(blk)
	return nil
}

// Fail is the console-facing entry point for failProcess: cancel the live
// proposal timer, discard in-flight ACCEPTED tallies and any catch-up
// window, and stop the transport from sending or delivering anything for
// this node.
func (c *Controller) Fail() {
	c.submit(c.failLocked)
}

func (c *Controller) failLocked() {
	if c.Mode() == Failed {
		return
	}
	c.mode.Store(int32(Failed))
	c.engine.Cancel()
	c.cancelCatchupLocked()
	c.tr.SetFailed(true)
	c.log.Info("node failed")
}

func (c *Controller) cancelCatchupLocked() {
	if c.catchupCancel != nil {
		c.catchupCancel()
		c.catchupCancel = nil
	}
	c.catchupActive = false
	c.catchupResponses = nil
}

// Recover is the console-facing entry point for fixProcess: re-enable
// traffic and start catch-up. It does not retry any proposal abandoned
// while FAILED.
func (c *Controller) Recover() {
	c.submit(c.recoverLocked)
}

func (c *Controller) recoverLocked() {
	if c.Mode() == Running {
		return
	}
	c.mode.Store(int32(Running))
	c.tr.SetFailed(false)
	c.startCatchupLocked()
	c.log.Info("node recovered, catch-up started")
}

func (c *Controller) startCatchupLocked() {
	c.cancelCatchupLocked()
	ctx, cancel := context.WithCancel(context.Background())
	c.catchupCancel = cancel
	c.catchupActive = true
	c.catchupResponses = nil

	c.tr.Broadcast(paxosmsg.TypeRequestLedger, paxosmsg.RequestLedger{From: c.selfID})

	go func() {
		timer := time.NewTimer(c.catchupWindow)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
		c.submit(c.finishCatchupLocked)
	}()
}

// finishCatchupLocked picks the longest validated response collected during
// the window, breaking ties in favor of the first one seen, and replaces
// the local ledger if it beats the local depth.
func (c *Controller) finishCatchupLocked() {
	if !c.catchupActive {
		return
	}
	responses := c.catchupResponses
	c.catchupActive = false
	c.catchupResponses = nil
	c.catchupCancel = nil

	var best *paxosmsg.LedgerResponse
	for i := range responses {
		resp := responses[i]
		if err := ledger.ValidateChain(resp.Chain); err != nil {
			c.log.WithField("from", resp.From).WithError(err).Debug("catch-up: rejecting invalid chain")
			continue
		}
		if best == nil || len(resp.Chain) > len(best.Chain) {
			best = &resp
		}
	}
	if best == nil || len(best.Chain) <= c.led.Depth() {
		return
	}

	c.led.Replace(best.Chain)
	c.engine.MarkDecided(hashesOf(best.Chain))
	c.persistLocked()
	c.log.WithFields(logrus.Fields{"depth": len(best.Chain), "from": best.From}).Info("catch-up: adopted longer chain")
}

func hashesOf(chain []block.Block) []string {
	hashes := make([]string, len(chain))
	for i, blk := range chain {
		hashes[i] = blk.Hash
	}
	return hashes
}

// onCommit is the Paxos engine's commit callback: apply to the ledger, then
// persist the new snapshot. It only ever runs from inside Engine.OnMessage
// or Engine.Propose, both of which this controller only calls from the
// command loop, so it shares that same serialization.
func (c *Controller) onCommit(blk block.Block) {
	if _, err := c.led.Apply(blk); err != nil {
		c.log.WithError(err).Warn("commit: block rejected by ledger")
		return
	}
	c.persistLocked()
}

func (c *Controller) persistLocked() {
	snap := storage.Snapshot{
		Chain:    c.led.Chain(),
		Balances: c.led.Balances(),
		NextSeq:  c.engine.NextSeq(),
	}
	if err := c.store.Save(snap); err != nil {
		c.log.WithError(err).Error("persist: save snapshot failed")
	}
}

// ReadLedger is the console-facing entry point for printBlockchain. It is
// not funneled through the command loop: it mutates nothing, and Ledger
// guards its own state independently for reads.
func (c *Controller) ReadLedger() []block.Block {
	return c.led.Chain()
}

// ReadBalances is the console-facing entry point for printBalance.
func (c *Controller) ReadBalances() map[int]int {
	return c.led.Balances()
}

// SelfID returns this controller's node id.
func (c *Controller) SelfID() int {
	return c.selfID
}

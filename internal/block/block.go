// Package block defines the chained, proof-of-work-tagged transfer record
// that is the unit of agreement for one Paxos slot.
package block

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const hashHexLen = 64

// SentinelPrevHash is the prev_hash of the first block in a ledger: 64 zero
// characters.
var SentinelPrevHash = strings.Repeat("0", hashHexLen)

// NonceLength is the length, in characters, of a candidate block's nonce.
const NonceLength = 8

// powAcceptSet is the set of trailing hex digits that satisfy the PoW tag.
var powAcceptSet = map[byte]struct{}{'0': {}, '1': {}, '2': {}, '3': {}, '4': {}}

const nonceAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Block is an immutable record of a single transfer between two accounts.
//
// Timestamp is decorative: it is set once at candidate creation, carried in
// the block's JSON, and plays no part in Hash, PowTag, or any validation
// rule. The console's ledger table does not show it.
type Block struct {
	Sender    int    `json:"sender"`
	Receiver  int    `json:"receiver"`
	Amount    int    `json:"amount"`
	Nonce     string `json:"nonce"`
	PrevHash  string `json:"prev_hash"`
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
}

// ErrNoTaggedNonce is returned if a nonce search exceeds maxNonceAttempts
// without finding a tag-satisfying candidate. Given the ~5/16 acceptance
// probability this should essentially never happen.
var ErrNoTaggedNonce = errors.New("block: exhausted nonce search attempts")

// powPayload returns the canonical byte string hashed to check the PoW tag.
func powPayload(sender, receiver, amount int, nonce string) []byte {
	return []byte(fmt.Sprintf("%d|%d|%d|%s", sender, receiver, amount, nonce))
}

// hashPayload returns the canonical byte string hashed to produce Hash.
func hashPayload(sender, receiver, amount int, nonce, prevHash string) []byte {
	return []byte(fmt.Sprintf("%d|%d|%d|%s|%s", sender, receiver, amount, nonce, prevHash))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PowTagSatisfied reports whether sha256(sender|receiver|amount|nonce) in
// lowercase hex ends in one of {'0'..'4'}.
func PowTagSatisfied(sender, receiver, amount int, nonce string) bool {
	digest := sha256Hex(powPayload(sender, receiver, amount, nonce))
	_, ok := powAcceptSet[digest[len(digest)-1]]
	return ok
}

// ComputeHash returns the canonical hash of a block's fields.
func ComputeHash(sender, receiver, amount int, nonce, prevHash string) string {
	return sha256Hex(hashPayload(sender, receiver, amount, nonce, prevHash))
}

// randomNonce draws a random NonceLength-character alphanumeric token from
// crypto/rand, mapping each random byte onto the alphabet modulo its size
// (so the first few characters are slightly more likely than the rest).
func randomNonce() (string, error) {
	buf := make([]byte, NonceLength)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "block: read randomness")
	}
	out := make([]byte, NonceLength)
	for i, b := range buf {
		out[i] = nonceAlphabet[int(b)%len(nonceAlphabet)]
	}
	return string(out), nil
}

// maxNonceAttempts bounds the PoW search; acceptance probability is ~5/16 so
// this is many orders of magnitude more than will ever be needed.
const maxNonceAttempts = 1_000_000

// New builds a candidate block for (sender, receiver, amount) chained onto
// prevHash, searching for a nonce that satisfies the PoW tag. It performs no
// balance check and has no side effects beyond drawing randomness: callers
// (the Ledger) are responsible for solvency checks before accepting the
// result.
func New(sender, receiver, amount int, prevHash string) (Block, error) {
	for attempt := 0; attempt < maxNonceAttempts; attempt++ {
		nonce, err := randomNonce()
		if err != nil {
			return Block{}, err
		}
		if !PowTagSatisfied(sender, receiver, amount, nonce) {
			continue
		}
		return Block{
			Sender:    sender,
			Receiver:  receiver,
			Amount:    amount,
			Nonce:     nonce,
			PrevHash:  prevHash,
			Hash:      ComputeHash(sender, receiver, amount, nonce, prevHash),
			Timestamp: time.Now().UnixNano(),
		}, nil
	}
	return Block{}, ErrNoTaggedNonce
}

// Verify checks the block's self-consistency: PoW tag and recomputed hash.
// It does not check chain linkage or solvency. Those are ledger-level
// concerns that need the rest of the chain and balance table.
func (b Block) Verify() error {
	if !PowTagSatisfied(b.Sender, b.Receiver, b.Amount, b.Nonce) {
		return errors.New("block: proof-of-work tag not satisfied")
	}
	want := ComputeHash(b.Sender, b.Receiver, b.Amount, b.Nonce, b.PrevHash)
	if want != b.Hash {
		return errors.Errorf("block: hash mismatch: stored %s computed %s", b.Hash, want)
	}
	return nil
}

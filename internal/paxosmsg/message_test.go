package paxosmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumledger/paxosledger/internal/block"
)

func TestBallotOrdering(t *testing.T) {
	a := Ballot{Seq: 1, NodeID: 1, Depth: 0}
	b := Ballot{Seq: 1, NodeID: 2, Depth: 0}
	c := Ballot{Seq: 2, NodeID: 1, Depth: 0}
	d := Ballot{Seq: 1, NodeID: 1, Depth: 1}

	assert.True(t, a.Less(b))
	assert.True(t, a.Less(c))
	assert.True(t, c.Less(d))
	assert.True(t, Ballot{}.IsZero())
	assert.False(t, a.IsZero())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	prep := Prepare{From: 1, Ballot: Ballot{Seq: 1, NodeID: 1, Depth: 0}}
	data, err := Encode(TypePrepare, prep)
	require.NoError(t, err)

	typ, v, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypePrepare, typ)
	got, ok := v.(*Prepare)
	require.True(t, ok)
	assert.Equal(t, prep, *got)
}

func TestEncodeDecodeAcceptWithBlock(t *testing.T) {
	blk, err := block.New(1, 2, 30, block.SentinelPrevHash)
	require.NoError(t, err)
	accept := Accept{From: 2, Ballot: Ballot{Seq: 1, NodeID: 2, Depth: 0}, Value: blk}

	data, err := Encode(TypeAccept, accept)
	require.NoError(t, err)
	typ, v, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeAccept, typ)
	got := v.(*Accept)
	assert.Equal(t, blk.Hash, got.Value.Hash)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, _, err := Decode([]byte(`{"type":"BOGUS","payload":{}}`))
	assert.Error(t, err)
}

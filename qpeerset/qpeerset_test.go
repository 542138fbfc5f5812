package qpeerset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/minerva/peerset"
)

func TestQPeerSet(t *testing.T) {
	qp := NewQueryPeerset()

	seed := peerset.MustParse("10.0.0.1:4568")
	p2 := peerset.MustParse("10.0.0.2:4568")
	p3 := peerset.MustParse("10.0.0.3:4568")
	p4 := peerset.MustParse("[2001:db8::4]:4568")

	// 添加种子节点
	require.True(t, qp.TryAdd(seed, peerset.PeerAddress{}))
	require.False(t, qp.TryAdd(seed, peerset.PeerAddress{}))
	require.Equal(t, PeerHeard, qp.GetState(seed))
	require.Equal(t, 1, qp.NumHeard())

	qp.SetState(seed, PeerWaiting)
	require.Equal(t, 0, qp.NumHeard())
	require.Equal(t, 1, qp.NumWaiting())

	// 种子节点通告的节点
	require.True(t, qp.TryAdd(p2, seed))
	require.True(t, qp.TryAdd(p3, seed))
	require.True(t, qp.TryAdd(p4, p2))
	require.False(t, qp.TryAdd(p2, p3))
	require.Equal(t, seed, qp.GetReferrer(p2))
	require.Equal(t, p2, qp.GetReferrer(p4))
	require.False(t, qp.GetReferrer(seed).IsValid())

	qp.SetState(seed, PeerQueried)
	qp.SetState(p3, PeerUnreachable)

	require.Equal(t, []peerset.PeerAddress{p2, p4}, qp.GetInStates(PeerHeard))
	require.Equal(t, []peerset.PeerAddress{p2}, qp.GetFirstNInStates(1, PeerHeard))
	require.Equal(t, []peerset.PeerAddress{seed, p3}, qp.GetInStates(PeerQueried, PeerUnreachable))
	require.Equal(t, 1, qp.NumInState(PeerQueried))
	require.Equal(t, 1, qp.NumInState(PeerUnreachable))
	require.Equal(t, 4, qp.Len())
	require.Equal(t, "unreachable", PeerUnreachable.String())
}

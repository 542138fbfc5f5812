package peerset

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveLiteral(t *testing.T) {
	p, err := Resolve(context.Background(), "10.0.0.1:4568")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", p.Host())
	require.Equal(t, uint16(4568), p.Port())
	require.Equal(t, "10.0.0.1:4568", p.String())
}

func TestResolveUnmapsIPv4(t *testing.T) {
	a, err := Resolve(context.Background(), "[::ffff:10.0.0.1]:80")
	require.NoError(t, err)
	b := MustParse("10.0.0.1:80")
	require.Equal(t, a, b)
}

func TestResolveRejectsInvalid(t *testing.T) {
	for _, s := range []string{"", "nohost", "1.2.3.4", "1.2.3.4:0", "1.2.3.4:70000", ":80", "1.2.3.4:abc"} {
		_, err := Resolve(context.Background(), s)
		require.Error(t, err, s)
		require.True(t, errors.Is(err, ErrInvalidAddress), s)
	}
}

func TestResolveRejectsUnresolvable(t *testing.T) {
	_, err := Resolve(context.Background(), "host.invalid:4568")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnresolved))
}

func TestFromAddrPortRejectsZeroPort(t *testing.T) {
	_, err := FromAddrPort(netip.MustParseAddrPort("1.2.3.4:0"))
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestRegistryDedup(t *testing.T) {
	var added []PeerAddress
	r := NewRegistry(func(p PeerAddress) { added = append(added, p) })

	require.True(t, r.Add(MustParse("1.1.1.1:1")))
	require.False(t, r.Add(MustParse("1.1.1.1:1")))
	require.True(t, r.Add(MustParse("1.1.1.1:2")))
	require.False(t, r.Add(PeerAddress{}))

	n := r.AddAll([]PeerAddress{MustParse("2.2.2.2:1"), MustParse("1.1.1.1:1")})
	require.Equal(t, 1, n)

	require.Equal(t, 3, r.Len())
	require.Len(t, added, 3)
	require.Equal(t, []PeerAddress{
		MustParse("1.1.1.1:1"),
		MustParse("1.1.1.1:2"),
		MustParse("2.2.2.2:1"),
	}, r.Snapshot())
	require.True(t, r.Contains(MustParse("2.2.2.2:1")))
}

func TestRegistryAddStringRejectsUnresolved(t *testing.T) {
	r := NewRegistry(nil)
	ok, err := r.AddString(context.Background(), "host.invalid:1")
	require.Error(t, err)
	require.False(t, ok)
	require.Zero(t, r.Len())

	ok, err = r.AddString(context.Background(), "127.0.0.1:9")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	r := NewRegistry(nil)
	r.Add(MustParse("1.1.1.1:1"))
	snap := r.Snapshot()
	snap[0] = MustParse("9.9.9.9:9")
	require.Equal(t, MustParse("1.1.1.1:1"), r.Snapshot()[0])
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Add(PeerAddress{ap: netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, byte(i), byte(j)}), 4568)})
				_ = r.Snapshot()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1600, r.Len())
}

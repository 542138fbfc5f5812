package wire

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePeer 在回环地址上监听,并用 handle 处理每个连接
func fakePeer(t *testing.T, handle func(conn net.Conn)) netip.AddrPort {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()
	return netip.MustParseAddrPort(l.Addr().String())
}

func serveLines(reply string) func(conn net.Conn) {
	return func(conn net.Conn) {
		r := NewLineReader(conn)
		if line, err := ReadLine(r); err != nil || line != Handshake {
			return
		}
		_ = WriteLine(conn, Handshake)
		if _, err := ReadLine(r); err != nil {
			return
		}
		_ = WriteLine(conn, reply)
	}
}

func newTestMessenger(t *testing.T) *Messenger {
	m, err := NewMessenger(WithConnectTimeout(time.Second), WithReadTimeout(500*time.Millisecond))
	require.NoError(t, err)
	return m
}

func TestQueryPeerSuccess(t *testing.T) {
	gotQuery := make(chan string, 1)
	addr := fakePeer(t, func(conn net.Conn) {
		r := NewLineReader(conn)
		if line, _ := ReadLine(r); line != Handshake {
			return
		}
		_ = WriteLine(conn, Handshake)
		q, _ := ReadLine(r)
		gotQuery <- q
		_ = WriteLine(conn, `[{"title":"Blue","artist":"X","album":"A","torrentHash":"abc","listenPort":7001}]`)
	})

	res, err := newTestMessenger(t).QueryPeer(context.Background(), addr, "Blue")
	require.NoError(t, err)
	require.Equal(t, "blue.minerva", <-gotQuery)
	require.Len(t, res, 1)
	require.Equal(t, "Blue", res[0].Title)
	require.Equal(t, "127.0.0.1", res[0].PeerHost)
	require.Equal(t, 7001, *res[0].ListenPort)
}

func TestQueryPeerHandshakeMismatch(t *testing.T) {
	addr := fakePeer(t, func(conn net.Conn) {
		r := NewLineReader(conn)
		_, _ = ReadLine(r)
		_ = WriteLine(conn, "HTTP/1.1 400 Bad Request")
	})
	_, err := newTestMessenger(t).QueryPeer(context.Background(), addr, "blue")
	require.ErrorIs(t, err, ErrHandshakeMismatch)
}

func TestQueryPeerEmptyResponse(t *testing.T) {
	addr := fakePeer(t, func(conn net.Conn) {
		r := NewLineReader(conn)
		_, _ = ReadLine(r)
		_ = WriteLine(conn, Handshake)
		_, _ = ReadLine(r)
		// 不写响应直接关闭
	})
	res, err := newTestMessenger(t).QueryPeer(context.Background(), addr, "blue")
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Empty(t, res)
}

func TestQueryPeerMalformed(t *testing.T) {
	addr := fakePeer(t, serveLines("not json"))
	_, err := newTestMessenger(t).QueryPeer(context.Background(), addr, "blue")
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestQueryPeerReadTimeout(t *testing.T) {
	addr := fakePeer(t, func(conn net.Conn) {
		// 从不回应
		time.Sleep(3 * time.Second)
	})
	start := time.Now()
	_, err := newTestMessenger(t).QueryPeer(context.Background(), addr, "blue")
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestQueryPeerContextCancel(t *testing.T) {
	addr := fakePeer(t, func(conn net.Conn) {
		time.Sleep(3 * time.Second)
	})
	m, err := NewMessenger(WithReadTimeout(10 * time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = m.QueryPeer(ctx, addr, "blue")
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestQueryPeerUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := netip.MustParseAddrPort(l.Addr().String())
	require.NoError(t, l.Close())

	_, err = newTestMessenger(t).QueryPeer(context.Background(), addr, "blue")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrHandshakeMismatch))
}

func TestMessengerOptionValidation(t *testing.T) {
	_, err := NewMessenger(WithConnectTimeout(0))
	require.Error(t, err)
	_, err = NewMessenger(WithReadTimeout(-time.Second))
	require.Error(t, err)
}

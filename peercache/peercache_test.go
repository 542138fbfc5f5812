package peercache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/minerva/peerset"
)

func TestLoadMissingFile(t *testing.T) {
	peers := Load(context.Background(), filepath.Join(t.TempDir(), "nope.cache"))
	require.Empty(t, peers)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath)
	in := []peerset.PeerAddress{
		peerset.MustParse("10.0.0.1:4568"),
		peerset.MustParse("[2001:db8::1]:7001"),
	}
	require.NoError(t, Save(path, in))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:4568\n[2001:db8::1]:7001\n", string(raw))

	out := Load(context.Background(), path)
	require.Equal(t, in, out)
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath)
	data := "10.0.0.1:4568\n\ngarbage\n10.0.0.2:0\nhost.invalid:1\n10.0.0.3:4568\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	out := Load(context.Background(), path)
	require.Equal(t, []peerset.PeerAddress{
		peerset.MustParse("10.0.0.1:4568"),
		peerset.MustParse("10.0.0.3:4568"),
	}, out)
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath)
	require.NoError(t, Save(path, []peerset.PeerAddress{peerset.MustParse("10.0.0.1:1"), peerset.MustParse("10.0.0.2:2")}))
	require.NoError(t, Save(path, []peerset.PeerAddress{peerset.MustParse("10.0.0.9:9")}))
	require.Equal(t, []peerset.PeerAddress{peerset.MustParse("10.0.0.9:9")}, Load(context.Background(), path))
}

func TestSaveFailsOnMissingDir(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "missing", "x.cache"), nil)
	require.Error(t, err)
}

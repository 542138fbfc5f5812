package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestResultsRoundTrip(t *testing.T) {
	in := []SearchResult{
		{
			Title:       "Blue",
			Artist:      "X",
			Album:       "A",
			TorrentHash: "abc",
			Genre:       "jazz",
			Year:        intPtr(1999),
			ListenPort:  intPtr(7001),
			Peers:       []string{"10.0.0.1:4568", "[2001:db8::1]:4568"},
		},
		{Title: "Sky", Artist: "Y", Album: "B", TorrentHash: "def"},
	}
	b, err := EncodeResults(in)
	require.NoError(t, err)
	require.NotContains(t, string(b), "\n")

	out, err := DecodeResults(b)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestPeerHostNotSerialized(t *testing.T) {
	b, err := EncodeResults([]SearchResult{{Title: "Blue", PeerHost: "10.0.0.1"}})
	require.NoError(t, err)
	require.NotContains(t, string(b), "10.0.0.1")
	require.Contains(t, string(b), `"torrentHash":""`)
}

func TestEncodeNil(t *testing.T) {
	b, err := EncodeResults(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", string(b))
}

func TestDecodeEmptyAndMalformed(t *testing.T) {
	out, err := DecodeResults(nil)
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = DecodeResults([]byte("  "))
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Empty(t, out)

	out, err = DecodeResults([]byte("null"))
	require.NoError(t, err)
	require.Empty(t, out)

	_, err = DecodeResults([]byte(`{"title":"x"}`))
	require.True(t, errors.Is(err, ErrMalformedResponse))

	_, err = DecodeResults([]byte(`[{"title":`))
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestNormalizeKeyword(t *testing.T) {
	require.Equal(t, "blue.minerva", NormalizeKeyword("Blue"))
	require.Equal(t, "blue.minerva", NormalizeKeyword("  BLUE.minerva "))
	require.Equal(t, "blue sky.minerva", NormalizeKeyword("Blue Sky"))
}

func TestStripSuffix(t *testing.T) {
	kw, ok := StripSuffix("blue.minerva")
	require.True(t, ok)
	require.Equal(t, "blue", kw)

	kw, ok = StripSuffix("blue")
	require.False(t, ok)
	require.Equal(t, "blue", kw)

	kw, ok = StripSuffix("BLUE.MINERVA")
	require.True(t, ok)
	require.Equal(t, "BLUE", kw)

	kw, ok = StripSuffix(" Blue.Minerva ")
	require.True(t, ok)
	require.Equal(t, "Blue", kw)

	_, ok = StripSuffix("erva")
	require.False(t, ok)
}

func TestEndpoint(t *testing.T) {
	r := SearchResult{TorrentHash: "abc", ListenPort: intPtr(7001)}
	ep, ok := r.Endpoint("10.0.0.1")
	require.True(t, ok)
	require.Equal(t, "10.0.0.1:7001", ep)

	ep, ok = r.Endpoint("2001:db8::1")
	require.True(t, ok)
	require.Equal(t, "[2001:db8::1]:7001", ep)

	_, ok = (&SearchResult{TorrentHash: "abc"}).Endpoint("10.0.0.1")
	require.False(t, ok)
	_, ok = (&SearchResult{ListenPort: intPtr(1)}).Endpoint("10.0.0.1")
	require.False(t, ok)
}

func TestDedupKey(t *testing.T) {
	require.Equal(t, "abc|Blue", (&SearchResult{TorrentHash: "abc", Title: "Blue"}).DedupKey())
	require.Equal(t, "|", (&SearchResult{}).DedupKey())
}

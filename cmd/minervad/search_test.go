package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSearchPollsCrawlerOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode([]string{})
	}))
	defer srv.Close()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := l.Addr().String()
	require.NoError(t, l.Close())

	bootstrap := filepath.Join(t.TempDir(), "bootstrap.txt")
	require.NoError(t, os.WriteFile(bootstrap, []byte(dead+"\n"), 0o644))

	cache, file, crawler, timeout := flagCache, flagBootstrap, flagCrawlerURL, flagTimeout
	t.Cleanup(func() {
		flagCache, flagBootstrap, flagCrawlerURL, flagTimeout = cache, file, crawler, timeout
	})
	flagCache = ""
	flagBootstrap = bootstrap
	flagCrawlerURL = srv.URL
	flagTimeout = 500 * time.Millisecond

	results, err := search(context.Background(), "blue")
	require.NoError(t, err)
	require.Empty(t, results)
	require.Equal(t, int32(1), hits.Load())
}

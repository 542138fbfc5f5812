package minerva

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/minerva/swarm"
	"github.com/dep2p/minerva/wire"
)

func mkResult(hash, title string) wire.SearchResult {
	return wire.SearchResult{TorrentHash: hash, Title: title}
}

func titles(rs []wire.SearchResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Title
	}
	return out
}

func TestSplitKeywords(t *testing.T) {
	require.Equal(t, []string{"blue", "sky"}, SplitKeywords("  Blue\tSKY  "))
	require.Equal(t, []string{"blue", "blue", "blue"}, SplitKeywords("blue BLUE blue"))
	require.Empty(t, SplitKeywords("   "))
}

func TestQuorum(t *testing.T) {
	for k, want := range map[int]int{0: 1, 1: 1, 2: 1, 3: 1, 4: 2, 5: 2, 6: 3} {
		require.Equal(t, want, Quorum(k), "k=%d", k)
	}
}

func TestRankByQuorumTwoKeywords(t *testing.T) {
	blue := []wire.SearchResult{mkResult("h1", "Blue Sky"), mkResult("h2", "Blue Moon")}
	sky := []wire.SearchResult{mkResult("h3", "Sky High"), mkResult("h1", "Blue Sky")}

	ranked := RankByQuorum([][]wire.SearchResult{blue, sky})
	require.Equal(t, []string{"Blue Sky", "Blue Moon", "Sky High"}, titles(ranked))
}

func TestRankByQuorumThreshold(t *testing.T) {
	a := []wire.SearchResult{mkResult("h1", "One"), mkResult("h2", "Two")}
	b := []wire.SearchResult{mkResult("h1", "One"), mkResult("h3", "Three")}
	c := []wire.SearchResult{mkResult("h1", "One"), mkResult("h3", "Three")}
	d := []wire.SearchResult{mkResult("h4", "Four")}

	// k=4 时至少需要命中2个关键词
	ranked := RankByQuorum([][]wire.SearchResult{a, b, c, d})
	require.Equal(t, []string{"One", "Three"}, titles(ranked))
}

func TestRankByQuorumCountsOncePerKeyword(t *testing.T) {
	a := []wire.SearchResult{mkResult("h1", "One"), mkResult("h1", "One"), mkResult("h1", "One")}
	b := []wire.SearchResult{mkResult("h2", "Two")}
	c := []wire.SearchResult{mkResult("h2", "Two")}
	d := []wire.SearchResult{}

	ranked := RankByQuorum([][]wire.SearchResult{a, b, c, d})
	require.Equal(t, []string{"Two"}, titles(ranked))
}

// 重复的关键词计入 k: "a a a b" 的阈值是2,只命中 b 的结果被过滤
func TestRankByQuorumRepeatedKeywords(t *testing.T) {
	a := []wire.SearchResult{mkResult("h1", "Alpha")}
	b := []wire.SearchResult{mkResult("h2", "Beta")}

	ranked := RankByQuorum([][]wire.SearchResult{a, a, a, b})
	require.Equal(t, []string{"Alpha"}, titles(ranked))
}

func TestRankByQuorumSameHashDifferentTitle(t *testing.T) {
	a := []wire.SearchResult{mkResult("h1", "One"), mkResult("h1", "One (live)")}
	ranked := RankByQuorum([][]wire.SearchResult{a})
	require.Equal(t, []string{"One", "One (live)"}, titles(ranked))
}

func TestRankByQuorumEmpty(t *testing.T) {
	require.Empty(t, RankByQuorum(nil))
	require.Empty(t, RankByQuorum([][]wire.SearchResult{{}, {}}))
}

func TestSearchQuery(t *testing.T) {
	lib := swarm.NewMemoryLibrary(
		swarm.Track{Title: "Blue Sky", Artist: "X", Album: "A", TorrentHash: "h1"},
		swarm.Track{Title: "Blue Moon", Artist: "Y", Album: "B", TorrentHash: "h2"},
		swarm.Track{Title: "Sky High", Artist: "Z", Album: "C", TorrentHash: "h3"},
	)
	p2 := setupOverlay(t, "127.0.0.2", lib)
	p1 := setupOverlay(t, "127.0.0.1", nil)
	connect(t, p1, p2)

	ranked := p1.SearchQuery(context.Background(), "blue sky")
	require.Len(t, ranked, 3)
	require.Equal(t, "Blue Sky", ranked[0].Title)
	require.ElementsMatch(t, []string{"Blue Moon", "Sky High"}, titles(ranked[1:]))

	require.Empty(t, p1.SearchQuery(context.Background(), "   "))

	// k=4, 阈值2: 只命中一次 sky 的结果被过滤
	ranked = p1.SearchQuery(context.Background(), "blue blue blue sky")
	require.ElementsMatch(t, []string{"Blue Sky", "Blue Moon"}, titles(ranked))
	require.Equal(t, "Blue Sky", ranked[0].Title)
}

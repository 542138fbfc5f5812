package minerva

import (
	"context"
	"math/rand"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dep2p/minerva/internal"
	"github.com/dep2p/minerva/swarm"
	"github.com/dep2p/minerva/wire"
)

// handleSearch 在本地索引中搜索裸关键词,并把结果映射为携带本节点监听端口的 SearchResult
// 启用gossip时,第一条结果会附带一组已知节点
// 参数:
//   - ctx: context.Context 上下文
//   - keyword: string 已去除后缀的关键词
//
// 返回值:
//   - []wire.SearchResult 结果列表
func (o *KeywordOverlay) handleSearch(ctx context.Context, keyword string) []wire.SearchResult {
	if o.localIndex == nil || keyword == "" {
		return nil
	}
	_, span := internal.StartSpan(ctx, "handleSearch", trace.WithAttributes(attribute.String("keyword", keyword)))
	defer span.End()

	tracks := o.localIndex.SearchLocal(keyword)
	if len(tracks) == 0 {
		return nil
	}

	out := make([]wire.SearchResult, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, trackToResult(t, o.listenPort))
	}
	if sample := o.gossipSample(); len(sample) > 0 {
		out[0].Peers = sample
	}
	return out
}

// trackToResult 将本地内容映射为线路结果
func trackToResult(t swarm.Track, listenPort int) wire.SearchResult {
	port := listenPort
	r := wire.SearchResult{
		Title:       t.Title,
		Artist:      t.Artist,
		Album:       t.Album,
		TorrentHash: t.TorrentHash,
		Genre:       t.Genre,
		ListenPort:  &port,
	}
	if t.Year != 0 {
		year := t.Year
		r.Year = &year
	}
	return r
}

// gossipSample 从注册表中随机挑选至多 gossipSampleSize 个地址
// 返回值:
//   - []string "ip:port" 列表
func (o *KeywordOverlay) gossipSample() []string {
	if o.gossipSampleSize <= 0 {
		return nil
	}
	peers := o.registry.Snapshot()
	if len(peers) == 0 {
		return nil
	}
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	if len(peers) > o.gossipSampleSize {
		peers = peers[:o.gossipSampleSize]
	}
	out := make([]string, len(peers))
	for i, p := range peers {
		out[i] = p.String()
	}
	return out
}

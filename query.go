package minerva

import (
	"context"
	"time"

	"github.com/Jorropo/jsync"
	"github.com/google/uuid"
	"go.opencensus.io/stats"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dep2p/minerva/internal"
	overlaycfg "github.com/dep2p/minerva/internal/config"
	"github.com/dep2p/minerva/metrics"
	"github.com/dep2p/minerva/peerset"
	"github.com/dep2p/minerva/wire"
)

// peerResponse 是一个对等节点查询任务的结果
type peerResponse struct {
	peer    peerset.PeerAddress
	results []wire.SearchResult
	err     error
}

// pendingQuery 是一次 Search 调用的临时状态
type pendingQuery struct {
	id    uuid.UUID
	query string
	seen  map[string]struct{}
	out   []wire.SearchResult
}

// poolSize 返回查询并发池大小: max(4, n),设置了上限时不超过上限
// 参数:
//   - n: int 目标节点数
//   - limit: int 并发上限,0表示不设上限
//
// 返回值:
//   - int 池大小
func poolSize(n, limit int) int {
	size := n
	if size < overlaycfg.MinPoolSize {
		size = overlaycfg.MinPoolSize
	}
	if limit > 0 && size > limit {
		size = limit
	}
	return size
}

// Search 将关键词查询并发发往所有已知节点,在超时内汇总并去重结果
// 单个节点的失败不会导致整次搜索失败;调用方总是得到一个(可能为空的)列表
// 参数:
//   - ctx: context.Context 上下文
//   - keyword: string 用户关键词
//
// 返回值:
//   - []wire.SearchResult 按首次出现顺序排列的去重结果
func (o *KeywordOverlay) Search(ctx context.Context, keyword string) []wire.SearchResult {
	q := &pendingQuery{
		id:    uuid.New(),
		query: wire.NormalizeKeyword(keyword),
		seen:  make(map[string]struct{}),
		out:   []wire.SearchResult{},
	}

	ctx, span := internal.StartSpan(ctx, "Search", trace.WithAttributes(
		attribute.String("keyword", q.query),
		attribute.String("query_id", q.id.String()),
	))
	defer span.End()

	if o.ctx.Err() != nil {
		return q.out
	}

	targets := o.queryTargets(ctx)
	span.SetAttributes(attribute.Int("peers", len(targets)))
	if len(targets) == 0 {
		logger.Debugw("没有已知节点,跳过搜索", "keyword", q.query)
		PublishQueryEvent(ctx, &QueryEvent{ID: q.id, Keyword: q.query, Kind: QueryDone})
		return q.out
	}

	qctx, cancel := context.WithTimeout(ctx, o.queryTimeout)
	defer cancel()
	// 节点关闭时中止进行中的查询
	stop := context.AfterFunc(o.ctx, cancel)
	defer stop()

	// 带缓冲,超时后返回的任务不会阻塞
	responses := make(chan peerResponse, len(targets))
	allDone := make(chan struct{})
	sem := make(chan struct{}, poolSize(len(targets), o.queryConcurrency))

	fwg := jsync.NewFWaitGroup(func() {
		close(allDone)
	}, 1)
	for _, p := range targets {
		fwg.Add()
		go func(p peerset.PeerAddress) {
			defer fwg.Done()

			select {
			case sem <- struct{}{}:
			case <-qctx.Done():
				return
			}
			defer func() { <-sem }()

			PublishQueryEvent(qctx, &QueryEvent{ID: q.id, Keyword: q.query, Peer: p.String(), Kind: QueryRequest})
			results, err := o.msgr.QueryPeer(qctx, p.AddrPort(), q.query)
			responses <- peerResponse{peer: p, results: results, err: err}

			// gossip在结果送出之后解析,慢速的DNS不会拖住合并循环
			if err == nil && o.enableGossip {
				o.mergeGossip(qctx, gossipPeers(results))
			}
		}(p)
	}
	fwg.Done()

	start := time.Now()
	timedOut := false
MergeLoop:
	for {
		select {
		case r := <-responses:
			o.mergeResponse(qctx, q, r)
		case <-allDone:
			// 所有任务都已发送结果,取走缓冲中剩余的部分
			for {
				select {
				case r := <-responses:
					o.mergeResponse(qctx, q, r)
				default:
					break MergeLoop
				}
			}
		case <-qctx.Done():
			timedOut = true
			// 已经到达缓冲区的结果仍然计入
			for {
				select {
				case r := <-responses:
					o.mergeResponse(ctx, q, r)
				default:
					break MergeLoop
				}
			}
		}
	}

	if timedOut {
		// 超时后到达的结果被丢弃
		PublishQueryEvent(ctx, &QueryEvent{ID: q.id, Keyword: q.query, Kind: QueryTimedOut})
	}
	if c := baseLogger.Check(zap.DebugLevel, "搜索完成"); c != nil {
		c.Write(zap.String("keyword", q.query),
			zap.Int("peers", len(targets)),
			zap.Int("results", len(q.out)),
			zap.Bool("timedOut", timedOut),
			zap.Duration("time", time.Since(start)))
	}
	stats.Record(o.ctx, metrics.ResultsReturned.M(int64(len(q.out))))
	span.SetAttributes(attribute.Int("results", len(q.out)), attribute.Bool("timed_out", timedOut))
	PublishQueryEvent(ctx, &QueryEvent{ID: q.id, Keyword: q.query, Kind: QueryDone, Results: len(q.out)})
	return q.out
}

// queryTargets 返回本次搜索的目标节点: 注册表快照,并入传输层当前的节点
// 参数:
//   - ctx: context.Context 上下文
//
// 返回值:
//   - []peerset.PeerAddress 目标节点
func (o *KeywordOverlay) queryTargets(ctx context.Context) []peerset.PeerAddress {
	if o.peerSource != nil {
		if n := o.registry.AddAll(o.peerSource.DiscoveryPeers(ctx)); n > 0 {
			logger.Debugw("已从传输层添加节点", "count", n)
		}
	}
	return o.registry.Snapshot()
}

// mergeResponse 合并一个节点的响应: 按 哈希|标题 去重(先到者为准),
// 记录内容哈希与端点的对应关系
// 参数:
//   - ctx: context.Context 本次搜索的上下文
//   - q: *pendingQuery 搜索状态
//   - r: peerResponse 节点响应
func (o *KeywordOverlay) mergeResponse(ctx context.Context, q *pendingQuery, r peerResponse) {
	if r.err != nil {
		PublishQueryEvent(ctx, &QueryEvent{ID: q.id, Keyword: q.query, Peer: r.peer.String(), Kind: QueryFailure, Error: r.err.Error()})
		return
	}
	PublishQueryEvent(ctx, &QueryEvent{ID: q.id, Keyword: q.query, Peer: r.peer.String(), Kind: QueryResponse, Results: len(r.results)})

	host := r.peer.Host()
	for i := range r.results {
		res := r.results[i]
		res.PeerHost = host

		if endpoint, ok := res.Endpoint(host); ok {
			if err := o.index.AddEndpoint(o.ctx, res.TorrentHash, endpoint); err != nil {
				logger.Debugw("记录端点失败", "hash", internal.LoggableHash(res.TorrentHash), "endpoint", endpoint, "error", err)
			}
		}

		key := res.DedupKey()
		if _, ok := q.seen[key]; ok {
			continue
		}
		q.seen[key] = struct{}{}
		q.out = append(q.out, res)
	}
}

// gossipPeers 收集一组结果中携带的全部gossip条目
func gossipPeers(results []wire.SearchResult) []string {
	var peers []string
	for i := range results {
		peers = append(peers, results[i].Peers...)
	}
	return peers
}

// mergeGossip 把响应中的节点加入注册表,无法解析的条目被丢弃
func (o *KeywordOverlay) mergeGossip(ctx context.Context, peers []string) {
	if len(peers) == 0 {
		return
	}
	if n := o.mergeAddrs(ctx, peers); n > 0 {
		logger.Debugw("已从gossip添加节点", "count", n)
	}
}

package crawler

import (
	"context"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/dep2p/minerva/peerset"
	"github.com/dep2p/minerva/qpeerset"
	"github.com/dep2p/minerva/wire"
)

var (
	// 覆盖网络爬虫的日志记录器
	logger = logging.Logger("minerva-crawler")

	_ Crawler = (*DefaultCrawler)(nil)
)

type (
	// Crawler 从种子节点出发,沿响应中的gossip节点遍历覆盖网络
	Crawler interface {
		// Run 从startingPeers开始爬取覆盖网络,根据是否成功联系到对等节点调用handleSuccess或handleFail
		// 参数:
		//   - ctx: context.Context 上下文
		//   - startingPeers: []peerset.PeerAddress 起始对等节点列表
		//   - handleSuccess: HandleQueryResult 查询成功的回调函数
		//   - handleFail: HandleQueryFail 查询失败的回调函数
		Run(ctx context.Context, startingPeers []peerset.PeerAddress, handleSuccess HandleQueryResult, handleFail HandleQueryFail)
	}

	// DefaultCrawler 提供Crawler接口的默认实现
	DefaultCrawler struct {
		parallelism   int             // 并行度
		queryTimeout  time.Duration   // 单个节点的查询超时时间
		probeKeywords []string        // 探测关键词
		msgr          *wire.Messenger // 线路协议客户端
	}
)

// NewDefaultCrawler 创建一个新的DefaultCrawler
// 参数:
//   - opts: ...Option 配置选项
//
// 返回值:
//   - *DefaultCrawler 爬虫实例
//   - error 错误信息
func NewDefaultCrawler(opts ...Option) (*DefaultCrawler, error) {
	o := new(options)
	if err := defaults(o); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	msgr, err := wire.NewMessenger(
		wire.WithConnectTimeout(o.connectTimeout),
		wire.WithReadTimeout(o.perMsgTimeout),
	)
	if err != nil {
		return nil, err
	}

	return &DefaultCrawler{
		parallelism:   o.parallelism,
		queryTimeout:  o.connectTimeout + time.Duration(len(o.probeKeywords))*o.perMsgTimeout,
		probeKeywords: o.probeKeywords,
		msgr:          msgr,
	}, nil
}

// HandleQueryResult 查询对等节点成功时的回调函数类型
// gossiped 是该节点在响应中通告的节点
type HandleQueryResult func(p peerset.PeerAddress, gossiped []peerset.PeerAddress)

// HandleQueryFail 查询对等节点失败时的回调函数类型
type HandleQueryFail func(p peerset.PeerAddress, err error)

// Run 从初始种子startingPeers开始广度优先地爬取覆盖网络节点
// 每个地址最多被查询一次
// 参数:
//   - ctx: context.Context 上下文
//   - startingPeers: []peerset.PeerAddress 起始对等节点列表
//   - handleSuccess: HandleQueryResult 查询成功的回调函数
//   - handleFail: HandleQueryFail 查询失败的回调函数
func (c *DefaultCrawler) Run(ctx context.Context, startingPeers []peerset.PeerAddress, handleSuccess HandleQueryResult, handleFail HandleQueryFail) {
	jobs := make(chan peerset.PeerAddress, 1)
	results := make(chan *queryResult, 1)

	// 启动工作协程
	var wg sync.WaitGroup
	wg.Add(c.parallelism)
	for i := 0; i < c.parallelism; i++ {
		go func() {
			defer wg.Done()
			for p := range jobs {
				qctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
				res := c.queryPeer(qctx, p)
				cancel() // 不要延迟,每个任务后清理
				results <- res
			}
		}()
	}

	defer wg.Wait()
	defer close(jobs)

	var toDial []peerset.PeerAddress
	qps := qpeerset.NewQueryPeerset()
	defer func() {
		logger.Debugw("爬取结束",
			"known", qps.Len(),
			"queried", qps.NumInState(qpeerset.PeerQueried),
			"unreachable", qps.NumInState(qpeerset.PeerUnreachable),
			"unvisited", qps.NumHeard())
	}()

	numSkipped := 0
	for _, p := range startingPeers {
		if !p.IsValid() {
			numSkipped++
			continue
		}
		if qps.TryAdd(p, peerset.PeerAddress{}) {
			toDial = append(toDial, p)
		}
	}

	if numSkipped > 0 {
		logger.Infof("跳过了%d个无效的起始节点。开始爬取%d个节点", numSkipped, len(toDial))
	}

	numQueried := 0
	outstanding := 0

	for len(toDial) > 0 || outstanding > 0 {
		if ctx.Err() != nil && outstanding == 0 {
			logger.Debugf("爬取被取消,剩余%d个节点未查询", len(toDial))
			return
		}

		var jobCh chan peerset.PeerAddress
		var nextPeer peerset.PeerAddress
		if len(toDial) > 0 && ctx.Err() == nil {
			jobCh = jobs
			nextPeer = toDial[0]
		}

		select {
		case res := <-results:
			if res.err == nil {
				qps.SetState(res.peer, qpeerset.PeerQueried)
				logger.Debugf("节点%v通告了%d个节点", res.peer, len(res.gossiped))
				for _, p := range res.gossiped {
					if qps.TryAdd(p, res.peer) {
						toDial = append(toDial, p)
					}
				}
				if handleSuccess != nil {
					handleSuccess(res.peer, res.gossiped)
				}
			} else {
				qps.SetState(res.peer, qpeerset.PeerUnreachable)
				if handleFail != nil {
					handleFail(res.peer, res.err)
				}
			}
			outstanding--
		case jobCh <- nextPeer:
			outstanding++
			numQueried++
			toDial = toDial[1:]
			qps.SetState(nextPeer, qpeerset.PeerWaiting)
			logger.Debugf("开始第%d个,共%d个", numQueried, qps.Len())
		}
	}
}

// queryResult 查询结果
type queryResult struct {
	peer     peerset.PeerAddress   // 对等节点
	gossiped []peerset.PeerAddress // 该节点通告的节点
	err      error                 // 错误信息
}

// queryPeer 用每个探测关键词查询单个对等节点,收集响应中通告的节点
// 参数:
//   - ctx: context.Context 上下文
//   - nextPeer: peerset.PeerAddress 要查询的对等节点
//
// 返回值:
//   - *queryResult 查询结果
func (c *DefaultCrawler) queryPeer(ctx context.Context, nextPeer peerset.PeerAddress) *queryResult {
	localPeers := make(map[peerset.PeerAddress]struct{})
	var gossiped []peerset.PeerAddress

	for _, kw := range c.probeKeywords {
		results, err := c.msgr.QueryPeer(ctx, nextPeer.AddrPort(), kw)
		if err != nil {
			logger.Debugf("在节点%v上探测关键词%q时出错: %v", nextPeer, kw, err)
			return &queryResult{nextPeer, nil, err}
		}
		for _, r := range results {
			for _, s := range r.Peers {
				p, err := peerset.Resolve(ctx, s)
				if err != nil {
					continue
				}
				if _, ok := localPeers[p]; !ok {
					localPeers[p] = struct{}{}
					gossiped = append(gossiped, p)
				}
			}
		}
	}

	return &queryResult{nextPeer, gossiped, nil}
}

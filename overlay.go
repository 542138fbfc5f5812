package minerva

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"go.uber.org/multierr"

	"github.com/dep2p/minerva/crawlerpoll"
	"github.com/dep2p/minerva/internal"
	overlaycfg "github.com/dep2p/minerva/internal/config"
	"github.com/dep2p/minerva/metrics"
	"github.com/dep2p/minerva/peercache"
	"github.com/dep2p/minerva/peerset"
	"github.com/dep2p/minerva/providers"
	"github.com/dep2p/minerva/swarm"
	"github.com/dep2p/minerva/wire"
)

var (
	logger     = logging.Logger("minerva")
	baseLogger = logger.Desugar()
)

// KeywordOverlay 是关键词搜索覆盖网络的一个节点
// 它拥有发现节点注册表、端点索引、查询服务器和可选的爬虫轮询器,由宿主进程显式创建和关闭
type KeywordOverlay struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	registry *peerset.Registry
	index    *providers.TorrentPeerIndex
	msgr     *wire.Messenger
	poller   *crawlerpoll.Poller

	listener   net.Listener
	listenPort int

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	closed  bool

	peerSource swarm.PeerSource
	localIndex swarm.LocalIndex

	cachePath         string
	queryTimeout      time.Duration
	queryConcurrency  int
	serverIdleTimeout time.Duration
	enableGossip      bool
	gossipSampleSize  int

	closeOnce sync.Once
	closeErr  error
}

// New 使用给定的选项创建一个新的覆盖网络节点
// 节点在返回前完成: 加载节点缓存、加载引导节点、绑定查询端口、启动爬虫轮询
// 绑定失败是唯一的致命错误
// 参数:
//   - ctx: context.Context 启动阶段(解析引导节点等)使用的上下文
//   - options: ...Option 配置选项
//
// 返回值:
//   - *KeywordOverlay 覆盖网络节点
//   - error 错误信息
func New(ctx context.Context, options ...Option) (*KeywordOverlay, error) {
	var cfg overlaycfg.Config
	if err := cfg.Apply(append([]Option{overlaycfg.Defaults}, options...)...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o, err := makeOverlay(cfg)
	if err != nil {
		return nil, fmt.Errorf("创建覆盖网络失败: %w", err)
	}

	o.registry.AddAll(peercache.Load(ctx, cfg.CachePath))
	o.registry.AddAll(bootstrapPeers(ctx, cfg.BootstrapFile, cfg.BootstrapPeers))

	o.listener, err = net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		o.cancel()
		_ = o.index.Close()
		return nil, fmt.Errorf("绑定查询端口 %s 失败: %w", cfg.ListenAddr, err)
	}
	o.listenPort = cfg.AdvertisedPort
	if o.listenPort == 0 {
		o.listenPort = o.listener.Addr().(*net.TCPAddr).Port
	}
	logger.Infow("覆盖网络查询服务已启动", "addr", o.listener.Addr().String(), "port", o.listenPort, "peers", o.registry.Len())

	o.wg.Add(1)
	go o.acceptLoop()

	if notifier, ok := o.peerSource.(swarm.PeerNotifier); ok {
		if err := o.startPeerSubscriber(notifier); err != nil {
			logger.Warnw("订阅传输层节点事件失败", "error", err)
		}
	}

	if cfg.Crawler.URL != "" {
		o.poller, err = crawlerpoll.NewPoller(cfg.Crawler.URL, o.mergeAddrs,
			crawlerpoll.WithInterval(cfg.Crawler.PollInterval),
			crawlerpoll.WithTimeout(cfg.Crawler.PollTimeout),
			crawlerpoll.WithPollDoneCh(cfg.Crawler.DoneCh),
		)
		if err != nil {
			return nil, multierr.Combine(err, o.Close())
		}
		o.poller.Start()
	}

	return o, nil
}

// makeOverlay 根据配置构造节点,不执行任何网络操作
func makeOverlay(cfg overlaycfg.Config) (*KeywordOverlay, error) {
	msgr, err := wire.NewMessenger(
		wire.WithConnectTimeout(cfg.ConnectTimeout),
		wire.WithReadTimeout(cfg.ReadTimeout),
	)
	if err != nil {
		return nil, err
	}

	index, err := providers.NewTorrentPeerIndex(cfg.Datastore)
	if err != nil {
		return nil, err
	}

	o := &KeywordOverlay{
		msgr:              msgr,
		index:             index,
		conns:             make(map[net.Conn]struct{}),
		peerSource:        cfg.PeerSource,
		localIndex:        cfg.LocalIndex,
		cachePath:         cfg.CachePath,
		queryTimeout:      cfg.QueryTimeout,
		queryConcurrency:  cfg.QueryConcurrency,
		serverIdleTimeout: cfg.ServerIdleTimeout,
		enableGossip:      cfg.EnableGossip,
		gossipSampleSize:  cfg.GossipSampleSize,
	}

	// 为该实例的所有指标打上实例标签
	ctx, _ := tag.New(context.Background(), tag.Upsert(metrics.KeyInstanceID, fmt.Sprintf("%p", o)))
	o.ctx, o.cancel = context.WithCancel(ctx)

	o.registry = peerset.NewRegistry(func(p peerset.PeerAddress) {
		stats.Record(o.ctx, metrics.RegistrySize.M(int64(o.registry.Len())))
	})
	return o, nil
}

// Close 停止查询服务与轮询器,保存节点缓存并关闭端点索引
// 缓存保存失败只记录日志,不会阻止关闭
// 返回值:
//   - error 错误信息
func (o *KeywordOverlay) Close() error {
	o.closeOnce.Do(func() {
		o.cancel()

		var errs []error
		if o.listener != nil {
			if err := o.listener.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		o.closeConns()

		if o.poller != nil {
			errs = append(errs, o.poller.Close())
		}
		o.wg.Wait()

		if o.cachePath != "" {
			if err := peercache.Save(o.cachePath, o.registry.Snapshot()); err != nil {
				logger.Warnw("保存节点缓存失败", "path", o.cachePath, "error", err)
			}
		}
		errs = append(errs, o.index.Close())

		o.closeErr = multierr.Combine(errs...)
	})
	return o.closeErr
}

// ListenPort 返回写入响应的本节点覆盖网络端口
func (o *KeywordOverlay) ListenPort() int {
	return o.listenPort
}

// ListenAddr 返回实际绑定的监听地址
func (o *KeywordOverlay) ListenAddr() net.Addr {
	return o.listener.Addr()
}

// DiscoveryPeers 返回当前已知发现节点的快照
// 返回值:
//   - []peerset.PeerAddress 地址列表
func (o *KeywordOverlay) DiscoveryPeers() []peerset.PeerAddress {
	return o.registry.Snapshot()
}

// AddDiscoveryPeer 解析并添加一个 "host:port" 地址
// 参数:
//   - ctx: context.Context 上下文
//   - addr: string 地址
//
// 返回值:
//   - error 错误信息
func (o *KeywordOverlay) AddDiscoveryPeer(ctx context.Context, addr string) error {
	_, err := o.registry.AddString(ctx, addr)
	return err
}

// PeersForTorrent 返回已知托管给定内容哈希的 "host:listenPort" 端点
// 参数:
//   - ctx: context.Context 上下文
//   - hash: string 内容哈希
//
// 返回值:
//   - []string 端点列表
//   - error 错误信息
func (o *KeywordOverlay) PeersForTorrent(ctx context.Context, hash string) ([]string, error) {
	if o.ctx.Err() != nil {
		return nil, internal.ErrClosed
	}
	return o.index.Endpoints(ctx, hash)
}

// PollCrawler 立即轮询一次爬虫端点。未配置爬虫时返回的通道立即产生 nil
// 返回值:
//   - <-chan error 错误通道
func (o *KeywordOverlay) PollCrawler() <-chan error {
	if o.poller == nil {
		ch := make(chan error, 1)
		ch <- nil
		close(ch)
		return ch
	}
	return o.poller.Poll()
}

// mergeAddrs 把 "host:port" 列表合并进注册表,无法解析的条目被丢弃
// 参数:
//   - ctx: context.Context 上下文
//   - addrs: []string 地址列表
//
// 返回值:
//   - int 新增数量
func (o *KeywordOverlay) mergeAddrs(ctx context.Context, addrs []string) int {
	added := 0
	for _, a := range addrs {
		ok, err := o.registry.AddString(ctx, a)
		if err != nil {
			continue
		}
		if ok {
			added++
		}
	}
	return added
}

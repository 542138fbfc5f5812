package minerva

import (
	"fmt"
	"time"

	ds "github.com/ipfs/go-datastore"

	overlaycfg "github.com/dep2p/minerva/internal/config"
	"github.com/dep2p/minerva/swarm"
)

type Option = overlaycfg.Option

// ListenAddr 设置查询服务器的监听地址,例如 ":4568"
// 参数:
//   - addr: string 监听地址
//
// 返回值:
//   - Option 配置选项
func ListenAddr(addr string) Option {
	return func(c *overlaycfg.Config) error {
		c.ListenAddr = addr
		return nil
	}
}

// AdvertisedPort 设置写入响应的监听端口。为0时使用实际绑定的端口
// 参数:
//   - port: int 端口
//
// 返回值:
//   - Option 配置选项
func AdvertisedPort(port int) Option {
	return func(c *overlaycfg.Config) error {
		c.AdvertisedPort = port
		return nil
	}
}

// CachePath 设置节点缓存文件路径。空字符串表示关闭时不保存
// 参数:
//   - path: string 文件路径
//
// 返回值:
//   - Option 配置选项
func CachePath(path string) Option {
	return func(c *overlaycfg.Config) error {
		c.CachePath = path
		return nil
	}
}

// BootstrapFile 设置引导节点文件路径
// 参数:
//   - path: string 文件路径
//
// 返回值:
//   - Option 配置选项
func BootstrapFile(path string) Option {
	return func(c *overlaycfg.Config) error {
		c.BootstrapFile = path
		return nil
	}
}

// BootstrapPeers 替换内置的引导节点列表。仅当引导文件不存在或为空时使用
// 参数:
//   - addrs: ...string "host:port" 列表
//
// 返回值:
//   - Option 配置选项
func BootstrapPeers(addrs ...string) Option {
	return func(c *overlaycfg.Config) error {
		c.BootstrapPeers = append([]string{}, addrs...)
		return nil
	}
}

// CrawlerURL 启用爬虫端点轮询
// 参数:
//   - url: string 返回 "host:port" JSON数组的端点
//
// 返回值:
//   - Option 配置选项
func CrawlerURL(url string) Option {
	return func(c *overlaycfg.Config) error {
		c.Crawler.URL = url
		return nil
	}
}

// CrawlerPollInterval 设置爬虫轮询周期,默认30秒
func CrawlerPollInterval(d time.Duration) Option {
	return func(c *overlaycfg.Config) error {
		c.Crawler.PollInterval = d
		return nil
	}
}

// CrawlerPollTimeout 设置单次爬虫请求超时,默认10秒
func CrawlerPollTimeout(d time.Duration) Option {
	return func(c *overlaycfg.Config) error {
		c.Crawler.PollTimeout = d
		return nil
	}
}

// CrawlerPollDoneCh 每次爬虫轮询结束后向 ch 写入一个信号
// 轮询循环在写入时阻塞,直到信号被取走或节点关闭
// 参数:
//   - ch: chan struct{} 信号通道
//
// 返回值:
//   - Option 配置选项
func CrawlerPollDoneCh(ch chan struct{}) Option {
	return func(c *overlaycfg.Config) error {
		c.Crawler.DoneCh = ch
		return nil
	}
}

// QueryTimeout 设置一次搜索中每个对等节点查询的超时,也是整次搜索的等待上限
// 参数:
//   - d: time.Duration 超时
//
// 返回值:
//   - Option 配置选项
func QueryTimeout(d time.Duration) Option {
	return func(c *overlaycfg.Config) error {
		c.QueryTimeout = d
		return nil
	}
}

// QueryConcurrency 设置同时进行的对等节点查询上限。0表示不设上限,并发数为 max(4, 节点数)
// 参数:
//   - n: int 并发上限
//
// 返回值:
//   - Option 配置选项
func QueryConcurrency(n int) Option {
	return func(c *overlaycfg.Config) error {
		if n != 0 && n < overlaycfg.MinPoolSize {
			return fmt.Errorf("查询并发上限不能小于 %d", overlaycfg.MinPoolSize)
		}
		c.QueryConcurrency = n
		return nil
	}
}

// ConnectTimeout 设置连接对等节点的超时
func ConnectTimeout(d time.Duration) Option {
	return func(c *overlaycfg.Config) error {
		c.ConnectTimeout = d
		return nil
	}
}

// ReadTimeout 设置与对等节点一次交换的读写超时
func ReadTimeout(d time.Duration) Option {
	return func(c *overlaycfg.Config) error {
		c.ReadTimeout = d
		return nil
	}
}

// ServerIdleTimeout 设置服务端每个连接的最长处理时间
func ServerIdleTimeout(d time.Duration) Option {
	return func(c *overlaycfg.Config) error {
		c.ServerIdleTimeout = d
		return nil
	}
}

// GossipSampleSize 设置响应中附带的已知节点数量。0表示不附带
// 参数:
//   - n: int 数量
//
// 返回值:
//   - Option 配置选项
func GossipSampleSize(n int) Option {
	return func(c *overlaycfg.Config) error {
		c.GossipSampleSize = n
		return nil
	}
}

// DisableGossip 既不在响应中附带已知节点,也不合并响应中的节点
func DisableGossip() Option {
	return func(c *overlaycfg.Config) error {
		c.EnableGossip = false
		c.GossipSampleSize = 0
		return nil
	}
}

// Datastore 设置端点索引的后端数据存储
// 参数:
//   - ds: ds.Batching 数据存储
//
// 返回值:
//   - Option 配置选项
func Datastore(ds ds.Batching) Option {
	return func(c *overlaycfg.Config) error {
		c.Datastore = ds
		return nil
	}
}

// WithPeerSource 设置传输层节点来源。实现了 swarm.PeerNotifier 时还会订阅新节点
// 参数:
//   - ps: swarm.PeerSource 节点来源
//
// 返回值:
//   - Option 配置选项
func WithPeerSource(ps swarm.PeerSource) Option {
	return func(c *overlaycfg.Config) error {
		c.PeerSource = ps
		return nil
	}
}

// WithLocalIndex 设置本地内容索引
// 参数:
//   - li: swarm.LocalIndex 本地索引
//
// 返回值:
//   - Option 配置选项
func WithLocalIndex(li swarm.LocalIndex) Option {
	return func(c *overlaycfg.Config) error {
		c.LocalIndex = li
		return nil
	}
}

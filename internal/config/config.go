package config

import (
	"fmt"
	"net"
	"time"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"

	"github.com/dep2p/minerva/swarm"
)

const (
	// DefaultListenAddr 默认的覆盖网络监听地址
	DefaultListenAddr = ":4568"
	// DefaultCachePath 默认的节点缓存文件
	DefaultCachePath = "minerva_peers.cache"
	// DefaultBootstrapFile 默认的引导节点文件
	DefaultBootstrapFile = "bootstrap_nodes.txt"
	// MinPoolSize 查询并发池的下限
	MinPoolSize = 4
)

// Config 是构造覆盖网络时可以使用的所有选项的结构
type Config struct {
	ListenAddr     string
	AdvertisedPort int
	CachePath      string
	BootstrapFile  string
	BootstrapPeers []string
	Datastore      ds.Batching

	QueryTimeout      time.Duration
	QueryConcurrency  int
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	ServerIdleTimeout time.Duration

	Crawler struct {
		URL          string
		PollInterval time.Duration
		PollTimeout  time.Duration
		DoneCh       chan struct{}
	}

	EnableGossip     bool
	GossipSampleSize int

	PeerSource swarm.PeerSource
	LocalIndex swarm.LocalIndex
}

// Apply 将给定的选项应用到此配置
// 参数:
//   - opts: ...Option 要应用的选项列表
//
// 返回值:
//   - error 错误信息
func (c *Config) Apply(opts ...Option) error {
	for i, opt := range opts {
		if err := opt(c); err != nil {
			return fmt.Errorf("覆盖网络选项 %d 失败: %s", i, err)
		}
	}
	return nil
}

// Option 覆盖网络选项类型
type Option func(*Config) error

// Defaults 是默认的覆盖网络选项。此选项将自动添加到传递给构造函数的任何选项之前
var Defaults = func(o *Config) error {
	o.ListenAddr = DefaultListenAddr
	o.CachePath = DefaultCachePath
	o.BootstrapFile = DefaultBootstrapFile
	o.Datastore = dssync.MutexWrap(ds.NewMapDatastore())

	o.QueryTimeout = 4 * time.Second
	o.ConnectTimeout = 2 * time.Second
	o.ReadTimeout = 3 * time.Second
	o.ServerIdleTimeout = 10 * time.Second

	o.Crawler.PollInterval = 30 * time.Second
	o.Crawler.PollTimeout = 10 * time.Second

	o.EnableGossip = true
	o.GossipSampleSize = 8

	return nil
}

// Validate 验证配置
// 返回值:
//   - error 错误信息
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("无效的监听地址 %q: %w", c.ListenAddr, err)
	}
	if c.AdvertisedPort < 0 || c.AdvertisedPort > 65535 {
		return fmt.Errorf("无效的通告端口: %d", c.AdvertisedPort)
	}
	if c.Datastore == nil {
		return fmt.Errorf("数据存储不能为空")
	}
	if c.QueryTimeout <= 0 || c.ConnectTimeout <= 0 || c.ReadTimeout <= 0 || c.ServerIdleTimeout <= 0 {
		return fmt.Errorf("超时必须为正数")
	}
	if c.Crawler.URL != "" && (c.Crawler.PollInterval <= 0 || c.Crawler.PollTimeout <= 0) {
		return fmt.Errorf("爬虫轮询间隔和超时必须为正数")
	}
	if c.QueryConcurrency < 0 {
		return fmt.Errorf("查询并发上限不能为负数: %d", c.QueryConcurrency)
	}
	if c.GossipSampleSize < 0 {
		return fmt.Errorf("gossip样本大小不能为负数: %d", c.GossipSampleSize)
	}
	return nil
}

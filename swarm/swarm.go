// Package swarm 定义覆盖网络从底层swarm传输层消费的能力,并提供内存与libp2p两种实现
package swarm

import (
	"context"

	logging "github.com/ipfs/go-log/v2"

	"github.com/dep2p/minerva/peerset"
)

var logger = logging.Logger("minerva/swarm")

// Track 是本节点发布的一条内容
type Track struct {
	Title       string `yaml:"title"`
	Artist      string `yaml:"artist"`
	Album       string `yaml:"album"`
	Genre       string `yaml:"genre,omitempty"`
	Year        int    `yaml:"year,omitempty"`
	TorrentHash string `yaml:"torrentHash"`
}

// PeerSource 提供传输层独立获知的活跃节点
type PeerSource interface {
	// DiscoveryPeers 返回当前已知节点的覆盖网络地址快照
	DiscoveryPeers(ctx context.Context) []peerset.PeerAddress
}

// PeerNotifier 是可以主动推送新节点的 PeerSource
type PeerNotifier interface {
	PeerSource
	// WatchPeers 在新节点出现时调用 found,直到 ctx 结束
	WatchPeers(ctx context.Context, found func(peerset.PeerAddress)) error
}

// LocalIndex 是本节点自有内容的全文索引
type LocalIndex interface {
	// SearchLocal 返回与关键词匹配的本地内容
	SearchLocal(keyword string) []Track
}

// StaticPeers 是固定的节点列表
type StaticPeers []peerset.PeerAddress

// DiscoveryPeers 实现 PeerSource
func (s StaticPeers) DiscoveryPeers(context.Context) []peerset.PeerAddress {
	out := make([]peerset.PeerAddress, len(s))
	copy(out, s)
	return out
}

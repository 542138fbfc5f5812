package minerva

import (
	"fmt"

	"github.com/dep2p/minerva/peerset"
	"github.com/dep2p/minerva/swarm"
)

// startPeerSubscriber 订阅传输层的新节点通知,并把它们加入注册表
// 订阅在节点关闭时结束
// 参数:
//   - n: swarm.PeerNotifier 节点通知来源
//
// 返回值:
//   - error 如果订阅失败则返回错误
func (o *KeywordOverlay) startPeerSubscriber(n swarm.PeerNotifier) error {
	err := n.WatchPeers(o.ctx, func(p peerset.PeerAddress) {
		if o.registry.Add(p) {
			logger.Debugw("传输层发现新节点", "peer", p.String())
		}
	})
	if err != nil {
		return fmt.Errorf("覆盖网络无法订阅节点事件: %w", err)
	}
	return nil
}

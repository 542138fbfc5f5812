package swarm

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/dep2p/libp2p/core/event"
	"github.com/dep2p/libp2p/core/host"
	"github.com/dep2p/libp2p/core/peer"
	"github.com/dep2p/libp2p/p2p/host/eventbus"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/dep2p/minerva/peerset"
)

// HostPeerSource 将 libp2p 主机的对等节点存储适配为覆盖网络的节点来源
// 传输层地址的端口会被替换为覆盖网络端口
type HostPeerSource struct {
	h           host.Host
	overlayPort uint16
}

var _ PeerNotifier = (*HostPeerSource)(nil)

// NewHostPeerSource 创建 HostPeerSource
// 参数:
//   - h: host.Host libp2p主机
//   - overlayPort: int 远端节点的覆盖网络监听端口
//
// 返回值:
//   - *HostPeerSource 节点来源
//   - error 错误信息
func NewHostPeerSource(h host.Host, overlayPort int) (*HostPeerSource, error) {
	if h == nil {
		return nil, fmt.Errorf("主机不能为空")
	}
	if overlayPort <= 0 || overlayPort > 65535 {
		return nil, fmt.Errorf("无效的覆盖网络端口: %d", overlayPort)
	}
	return &HostPeerSource{h: h, overlayPort: uint16(overlayPort)}, nil
}

// DiscoveryPeers 返回当前已连接节点的覆盖网络地址
// 参数:
//   - ctx: context.Context 上下文
//
// 返回值:
//   - []peerset.PeerAddress 地址列表
func (s *HostPeerSource) DiscoveryPeers(ctx context.Context) []peerset.PeerAddress {
	seen := make(map[peerset.PeerAddress]struct{})
	var out []peerset.PeerAddress
	for _, p := range s.h.Network().Peers() {
		if ctx.Err() != nil {
			break
		}
		for _, pa := range s.peerAddrs(p) {
			if _, ok := seen[pa]; ok {
				continue
			}
			seen[pa] = struct{}{}
			out = append(out, pa)
		}
	}
	return out
}

// WatchPeers 订阅身份识别完成事件,将新识别的节点报告给 found
// 参数:
//   - ctx: context.Context 上下文,结束时取消订阅
//   - found: func(peerset.PeerAddress) 回调
//
// 返回值:
//   - error 错误信息
func (s *HostPeerSource) WatchPeers(ctx context.Context, found func(peerset.PeerAddress)) error {
	sub, err := s.h.EventBus().Subscribe(new(event.EvtPeerIdentificationCompleted), eventbus.BufSize(256))
	if err != nil {
		return fmt.Errorf("无法订阅事件总线事件: %w", err)
	}

	go func() {
		defer sub.Close()
		for {
			select {
			case e, more := <-sub.Out():
				if !more {
					return
				}
				evt, ok := e.(event.EvtPeerIdentificationCompleted)
				if !ok {
					logger.Errorf("从订阅中获得了错误的类型: %T", e)
					continue
				}
				for _, pa := range s.peerAddrs(evt.Peer) {
					found(pa)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (s *HostPeerSource) peerAddrs(p peer.ID) []peerset.PeerAddress {
	if p == s.h.ID() {
		return nil
	}
	return overlayAddrs(s.h.Peerstore().Addrs(p), s.overlayPort)
}

// overlayAddrs 从多地址中提取IP并配上覆盖网络端口。无法提取IP或未指定的地址被跳过
// 参数:
//   - addrs: []ma.Multiaddr 传输层地址
//   - port: uint16 覆盖网络端口
//
// 返回值:
//   - []peerset.PeerAddress 地址列表
func overlayAddrs(addrs []ma.Multiaddr, port uint16) []peerset.PeerAddress {
	var out []peerset.PeerAddress
	for _, a := range addrs {
		ip, err := manet.ToIP(a)
		if err != nil {
			continue
		}
		addr, ok := netip.AddrFromSlice(ip)
		if !ok || addr.IsUnspecified() {
			continue
		}
		pa, err := peerset.FromAddrPort(netip.AddrPortFrom(addr, port))
		if err != nil {
			continue
		}
		out = append(out, pa)
	}
	return out
}

package peerset

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var logger = logging.Logger("minerva/peerset")

var (
	// ErrInvalidAddress 地址不是 host:port 形式或端口无效
	ErrInvalidAddress = errors.New("无效的对等节点地址")
	// ErrUnresolved 主机名无法解析为IP地址
	ErrUnresolved = errors.New("无法解析的主机名")
)

// PeerAddress 是一个已解析的 IP+端口 对
// 相等性由解析后的IP和端口决定,而非原始主机名
type PeerAddress struct {
	ap netip.AddrPort
}

// FromAddrPort 从 netip.AddrPort 构造 PeerAddress
// IPv4 映射的 IPv6 地址会被还原为 IPv4
// 参数:
//   - ap: netip.AddrPort 地址端口
//
// 返回值:
//   - PeerAddress 对等节点地址
//   - error 错误信息
func FromAddrPort(ap netip.AddrPort) (PeerAddress, error) {
	if !ap.IsValid() || ap.Port() == 0 {
		return PeerAddress{}, fmt.Errorf("%w: %s", ErrInvalidAddress, ap)
	}
	return PeerAddress{ap: netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())}, nil
}

// MustParse 解析IP字面量形式的地址,失败时 panic。仅用于常量与测试
// 参数:
//   - s: string "ip:port"
//
// 返回值:
//   - PeerAddress 对等节点地址
func MustParse(s string) PeerAddress {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		panic(err)
	}
	pa, err := FromAddrPort(ap)
	if err != nil {
		panic(err)
	}
	return pa
}

// Resolve 将 "host:port" 解析为 PeerAddress。主机名会通过DNS解析,取第一个地址
// 参数:
//   - ctx: context.Context 上下文
//   - s: string "host:port"
//
// 返回值:
//   - PeerAddress 对等节点地址
//   - error 错误信息
func Resolve(ctx context.Context, s string) (PeerAddress, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return PeerAddress{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return PeerAddress{}, fmt.Errorf("%w: %q: 端口无效", ErrInvalidAddress, s)
	}
	if host == "" {
		return PeerAddress{}, fmt.Errorf("%w: %q: 主机为空", ErrInvalidAddress, s)
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		return FromAddrPort(netip.AddrPortFrom(ip, uint16(port)))
	}

	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil || len(ips) == 0 {
		return PeerAddress{}, fmt.Errorf("%w: %q", ErrUnresolved, host)
	}
	return FromAddrPort(netip.AddrPortFrom(ips[0], uint16(port)))
}

// AddrPort 返回底层的 netip.AddrPort
func (p PeerAddress) AddrPort() netip.AddrPort { return p.ap }

// Host 返回IP字面量
func (p PeerAddress) Host() string { return p.ap.Addr().String() }

// Port 返回端口
func (p PeerAddress) Port() uint16 { return p.ap.Port() }

// IsValid 报告地址是否已初始化
func (p PeerAddress) IsValid() bool { return p.ap.IsValid() }

// String 返回 "ip:port" 形式,IPv6 带方括号
func (p PeerAddress) String() string { return p.ap.String() }

// Registry 是并发安全、去重的发现节点集合
// 集合在进程生命周期内只增不减
type Registry struct {
	mu    sync.RWMutex
	set   map[netip.AddrPort]struct{}
	order []PeerAddress

	onAdd func(PeerAddress)
}

// NewRegistry 创建一个空的注册表
// 参数:
//   - onAdd: func(PeerAddress) 每次插入新地址后调用,可以为nil
//
// 返回值:
//   - *Registry 注册表
func NewRegistry(onAdd func(PeerAddress)) *Registry {
	return &Registry{
		set:   make(map[netip.AddrPort]struct{}),
		onAdd: onAdd,
	}
}

// Add 添加一个地址
// 参数:
//   - p: PeerAddress 对等节点地址
//
// 返回值:
//   - bool 是否为新地址
func (r *Registry) Add(p PeerAddress) bool {
	if !p.IsValid() {
		return false
	}
	r.mu.Lock()
	if _, ok := r.set[p.ap]; ok {
		r.mu.Unlock()
		return false
	}
	r.set[p.ap] = struct{}{}
	r.order = append(r.order, p)
	r.mu.Unlock()

	if r.onAdd != nil {
		r.onAdd(p)
	}
	return true
}

// AddAll 批量添加地址
// 参数:
//   - peers: []PeerAddress 地址列表
//
// 返回值:
//   - int 新增的地址数
func (r *Registry) AddAll(peers []PeerAddress) int {
	n := 0
	for _, p := range peers {
		if r.Add(p) {
			n++
		}
	}
	return n
}

// AddString 解析 "host:port" 并添加。无法解析的地址不会进入注册表
// 参数:
//   - ctx: context.Context 上下文
//   - s: string "host:port"
//
// 返回值:
//   - bool 是否为新地址
//   - error 错误信息
func (r *Registry) AddString(ctx context.Context, s string) (bool, error) {
	p, err := Resolve(ctx, s)
	if err != nil {
		logger.Debugw("拒绝无法解析的地址", "addr", s, "error", err)
		return false, err
	}
	return r.Add(p), nil
}

// Contains 报告地址是否已在注册表中
func (r *Registry) Contains(p PeerAddress) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.set[p.ap]
	return ok
}

// Snapshot 按插入顺序返回当前所有地址的副本
// 返回值:
//   - []PeerAddress 地址列表
func (r *Registry) Snapshot() []PeerAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerAddress, len(r.order))
	copy(out, r.order)
	return out
}

// Len 返回地址数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

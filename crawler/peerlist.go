package crawler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/libp2p/go-cidranger"

	"github.com/dep2p/minerva/peerset"
)

// DefaultMaxPeers 是 PeerList 默认保存的最大节点数
const DefaultMaxPeers = 50000

// LoadCIDRFile 读取每行一个CIDR的允许列表文件
// 空行和以 # 开头的行被忽略。无效的行被跳过,其错误汇总在返回的错误中,
// 此时返回的 Ranger 仍包含所有有效的网段
// 参数:
//   - path: string 文件路径
//
// 返回值:
//   - cidranger.Ranger 网段集合
//   - error 错误信息
func LoadCIDRFile(path string) (cidranger.Ranger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ranger := cidranger.NewPCTrieRanger()
	var merr error
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		_, nn, err := net.ParseCIDR(line)
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("第%d行: %w", lineNo, err))
			continue
		}
		if err := ranger.Insert(cidranger.NewBasicRangerEntry(*nn)); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("第%d行: %w", lineNo, err))
		}
	}
	if err := sc.Err(); err != nil {
		merr = multierror.Append(merr, err)
	}
	return ranger, merr
}

// PeerList 保存爬虫发现的活跃节点,只接受允许列表内的IP,并以 GET /peers 提供JSON数组
type PeerList struct {
	mu    sync.RWMutex
	peers map[peerset.PeerAddress]struct{}
	order []peerset.PeerAddress

	allow    cidranger.Ranger
	maxPeers int
}

var _ http.Handler = (*PeerList)(nil)

// NewPeerList 创建节点列表
// 参数:
//   - allow: cidranger.Ranger 允许的网段,为 nil 或为空时接受所有IP
//   - maxPeers: int 最大节点数,<=0 时使用 DefaultMaxPeers
//
// 返回值:
//   - *PeerList 节点列表
func NewPeerList(allow cidranger.Ranger, maxPeers int) *PeerList {
	if maxPeers <= 0 {
		maxPeers = DefaultMaxPeers
	}
	if allow != nil && allow.Len() == 0 {
		allow = nil
	}
	return &PeerList{
		peers:    make(map[peerset.PeerAddress]struct{}),
		allow:    allow,
		maxPeers: maxPeers,
	}
}

// Allowed 判断节点IP是否在允许列表内
func (l *PeerList) Allowed(p peerset.PeerAddress) bool {
	if l.allow == nil {
		return true
	}
	ok, err := l.allow.Contains(net.IP(p.AddrPort().Addr().AsSlice()))
	return err == nil && ok
}

// Add 添加一个节点
// 参数:
//   - p: peerset.PeerAddress 节点地址
//
// 返回值:
//   - bool 节点是否被新加入。不在允许列表内、已存在或列表已满时返回false
func (l *PeerList) Add(p peerset.PeerAddress) bool {
	if !p.IsValid() || !l.Allowed(p) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.peers[p]; ok {
		return false
	}
	if len(l.order) >= l.maxPeers {
		return false
	}
	l.peers[p] = struct{}{}
	l.order = append(l.order, p)
	return true
}

// Len 返回节点数量
func (l *PeerList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Peers 返回节点快照
func (l *PeerList) Peers() []peerset.PeerAddress {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]peerset.PeerAddress, len(l.order))
	copy(out, l.order)
	return out
}

// Strings 以 "ip:port" 形式返回节点快照
func (l *PeerList) Strings() []string {
	peers := l.Peers()
	out := make([]string, len(peers))
	for i, p := range peers {
		out[i] = p.String()
	}
	return out
}

// ServeHTTP 以JSON数组响应节点列表,只接受 GET 请求
func (l *PeerList) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(l.Strings()); err != nil {
		logger.Debugw("写入节点列表失败", "from", r.RemoteAddr, "error", err)
	}
}

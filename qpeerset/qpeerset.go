package qpeerset

import (
	"github.com/dep2p/minerva/peerset"
)

// PeerState 描述在单次爬取生命周期中对等节点的状态
type PeerState int

const (
	// PeerHeard 表示尚未查询的对等节点
	PeerHeard PeerState = iota
	// PeerWaiting 表示当前正在查询的对等节点
	PeerWaiting
	// PeerQueried 表示已查询且成功获得响应的对等节点
	PeerQueried
	// PeerUnreachable 表示已查询但未成功获得响应的对等节点
	PeerUnreachable
)

// String 返回状态名
func (s PeerState) String() string {
	switch s {
	case PeerHeard:
		return "heard"
	case PeerWaiting:
		return "waiting"
	case PeerQueried:
		return "queried"
	case PeerUnreachable:
		return "unreachable"
	}
	return "unknown"
}

// QueryPeerset 维护一次覆盖网络遍历的状态
// 遍历状态是一组按发现顺序排列的对等节点,每个节点都标有对等节点状态
// QueryPeerset 不是并发安全的,由遍历的调度协程独占使用
type QueryPeerset struct {
	// 所有已知的对等节点,按发现顺序
	all []queryPeerState

	// 地址到 all 下标的索引
	index map[peerset.PeerAddress]int

	// 各状态的节点计数
	counts [PeerUnreachable + 1]int
}

// queryPeerState 查询对等节点状态
type queryPeerState struct {
	addr       peerset.PeerAddress // 对等节点地址
	state      PeerState           // 节点状态
	referredBy peerset.PeerAddress // 通告该节点的对等节点,种子节点为零值
}

// NewQueryPeerset 创建一个新的空对等节点集合
// 返回值:
//   - *QueryPeerset 查询对等节点集合
func NewQueryPeerset() *QueryPeerset {
	return &QueryPeerset{
		all:   []queryPeerState{},
		index: make(map[peerset.PeerAddress]int),
	}
}

// find 在集合中查找对等节点
// 参数:
//   - p: peerset.PeerAddress 要查找的对等节点
//
// 返回值:
//   - int 找到的索引,未找到返回-1
func (qp *QueryPeerset) find(p peerset.PeerAddress) int {
	if i, ok := qp.index[p]; ok {
		return i
	}
	return -1
}

// TryAdd 将对等节点p添加到对等节点集合中
// 如果对等节点已存在,则不执行任何操作
// 否则,将对等节点添加并将状态设置为PeerHeard
// 参数:
//   - p: peerset.PeerAddress 要添加的对等节点
//   - referredBy: peerset.PeerAddress 通告该节点的对等节点
//
// 返回值:
//   - bool 如果对等节点不存在则返回true
func (qp *QueryPeerset) TryAdd(p, referredBy peerset.PeerAddress) bool {
	if qp.find(p) >= 0 {
		return false
	}
	qp.index[p] = len(qp.all)
	qp.all = append(qp.all, queryPeerState{addr: p, state: PeerHeard, referredBy: referredBy})
	qp.counts[PeerHeard]++
	return true
}

// SetState 设置对等节点p的状态为s
// 如果p不在对等节点集合中,SetState会panic
// 参数:
//   - p: peerset.PeerAddress 对等节点
//   - s: PeerState 要设置的状态
func (qp *QueryPeerset) SetState(p peerset.PeerAddress, s PeerState) {
	ps := &qp.all[qp.find(p)]
	qp.counts[ps.state]--
	ps.state = s
	qp.counts[s]++
}

// GetState 返回对等节点p的状态
// 如果p不在对等节点集合中,GetState会panic
// 参数:
//   - p: peerset.PeerAddress 对等节点
//
// 返回值:
//   - PeerState 对等节点状态
func (qp *QueryPeerset) GetState(p peerset.PeerAddress) PeerState {
	return qp.all[qp.find(p)].state
}

// GetReferrer 返回通告对等节点p的节点
// 如果p不在对等节点集合中,GetReferrer会panic
// 参数:
//   - p: peerset.PeerAddress 对等节点
//
// 返回值:
//   - peerset.PeerAddress 通告节点,种子节点返回零值
func (qp *QueryPeerset) GetReferrer(p peerset.PeerAddress) peerset.PeerAddress {
	return qp.all[qp.find(p)].referredBy
}

// GetFirstNInStates 按发现顺序返回处于给定状态之一的前n个对等节点
// 参数:
//   - n: int 要返回的节点数量
//   - states: ...PeerState 状态列表
//
// 返回值:
//   - []peerset.PeerAddress 对等节点列表
func (qp *QueryPeerset) GetFirstNInStates(n int, states ...PeerState) (result []peerset.PeerAddress) {
	m := make(map[PeerState]struct{}, len(states))
	for i := range states {
		m[states[i]] = struct{}{}
	}

	for _, p := range qp.all {
		if len(result) >= n {
			break
		}
		if _, ok := m[p.state]; ok {
			result = append(result, p.addr)
		}
	}
	return result
}

// GetInStates 按发现顺序返回处于给定状态之一的所有对等节点
// 参数:
//   - states: ...PeerState 状态列表
//
// 返回值:
//   - []peerset.PeerAddress 对等节点列表
func (qp *QueryPeerset) GetInStates(states ...PeerState) []peerset.PeerAddress {
	return qp.GetFirstNInStates(len(qp.all), states...)
}

// Len 返回已知对等节点总数
func (qp *QueryPeerset) Len() int {
	return len(qp.all)
}

// NumInState 返回处于状态s的对等节点数量
// 参数:
//   - s: PeerState 状态
//
// 返回值:
//   - int 对等节点数量
func (qp *QueryPeerset) NumInState(s PeerState) int {
	return qp.counts[s]
}

// NumHeard 返回处于PeerHeard状态的对等节点数量
// 返回值:
//   - int 对等节点数量
func (qp *QueryPeerset) NumHeard() int {
	return qp.counts[PeerHeard]
}

// NumWaiting 返回处于PeerWaiting状态的对等节点数量
// 返回值:
//   - int 对等节点数量
func (qp *QueryPeerset) NumWaiting() int {
	return qp.counts[PeerWaiting]
}

package providers

import (
	"time"
)

// endpointSet 包含某个内容哈希的端点列表及其首次记录时间
// 它作为数据存储和 Endpoints 调用者之间的中间数据结构
type endpointSet struct {
	endpoints []string
	set       map[string]time.Time
}

// newEndpointSet 创建新的端点集合
// 返回值:
//   - *endpointSet 新的端点集合
func newEndpointSet() *endpointSet {
	return &endpointSet{
		set: make(map[string]time.Time),
	}
}

// setVal 记录端点。已存在的端点保留首次记录的时间
// 参数:
//   - e: string 端点
//   - t: time.Time 时间戳
//
// 返回值:
//   - bool 是否为新端点
func (es *endpointSet) setVal(e string, t time.Time) bool {
	if _, found := es.set[e]; found {
		return false
	}
	es.endpoints = append(es.endpoints, e)
	es.set[e] = t
	return true
}

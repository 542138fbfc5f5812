package minerva

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// QueryEventKind 描述查询事件的类型
type QueryEventKind int

const (
	// QueryRequest 向某个对等节点发出查询
	QueryRequest QueryEventKind = iota
	// QueryResponse 某个对等节点返回了结果
	QueryResponse
	// QueryFailure 某个对等节点不可达、握手失败或响应格式错误
	QueryFailure
	// QueryTimedOut 整次搜索在所有节点返回前超时
	QueryTimedOut
	// QueryDone 整次搜索结束
	QueryDone
)

// MarshalJSON 返回事件类型的JSON编码
// 返回值:
//   - []byte JSON编码的字节数组
//   - error 错误信息
func (k QueryEventKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// String 返回事件类型的字符串表示
func (k QueryEventKind) String() string {
	switch k {
	case QueryRequest:
		return "request"
	case QueryResponse:
		return "response"
	case QueryFailure:
		return "failure"
	case QueryTimedOut:
		return "timeout"
	case QueryDone:
		return "done"
	}
	panic("unreachable")
}

// QueryEvent 在一次搜索的每个重要步骤时发出
// QueryEvent支持JSON序列化
type QueryEvent struct {
	// ID 搜索实例的唯一标识符
	ID uuid.UUID
	// Keyword 规范化后的查询行
	Keyword string
	// Peer 相关的对等节点,QueryTimedOut 和 QueryDone 时为空
	Peer string `json:",omitempty"`
	// Kind 事件类型
	Kind QueryEventKind
	// Results 对于 QueryResponse 是该节点返回的结果数,对于 QueryDone 是去重后的结果数
	Results int
	// Error 失败原因
	Error string `json:",omitempty"`
}

type queryEventKey struct{}

type queryEventChannel struct {
	mu  sync.Mutex
	ctx context.Context
	ch  chan<- *QueryEvent
}

// waitThenClose 在注册通道时以goroutine方式启动
// 当上下文被取消时,这会安全地清理通道
func (e *queryEventChannel) waitThenClose() {
	<-e.ctx.Done()
	e.mu.Lock()
	close(e.ch)
	// 1. 表示我们已完成
	// 2. 释放内存(以防我们最终长时间持有它)
	e.ch = nil
	e.mu.Unlock()
}

// send 在事件通道上发送事件,如果传入的或内部上下文过期则中止
// 参数:
//   - ctx: context.Context 上下文
//   - ev: *QueryEvent 要发送的事件
func (e *queryEventChannel) send(ctx context.Context, ev *QueryEvent) {
	e.mu.Lock()
	// 已关闭
	if e.ch == nil {
		e.mu.Unlock()
		return
	}
	// 如果传入的上下文无关,则等待两者
	select {
	case e.ch <- ev:
	case <-e.ctx.Done():
	case <-ctx.Done():
	}
	e.mu.Unlock()
}

// RegisterForQueryEvents 使用给定上下文注册查询事件通道
// 返回的上下文可以传递给 Search 或 SearchQuery 以在返回的通道上接收查询事件
//
// 当调用者不再对查询事件感兴趣时,必须取消传入的上下文
// 参数:
//   - ctx: context.Context 上下文
//
// 返回值:
//   - context.Context 包含事件通道的上下文
//   - <-chan *QueryEvent 查询事件通道
func RegisterForQueryEvents(ctx context.Context) (context.Context, <-chan *QueryEvent) {
	ch := make(chan *QueryEvent, QueryEventBufferSize)
	ech := &queryEventChannel{ch: ch, ctx: ctx}
	go ech.waitThenClose()
	return context.WithValue(ctx, queryEventKey{}, ech), ch
}

// QueryEventBufferSize 是要缓冲的事件数量
var QueryEventBufferSize = 16

// PublishQueryEvent 将查询事件发布到与给定上下文关联的事件通道(如果有)
// 参数:
//   - ctx: context.Context 上下文
//   - ev: *QueryEvent 要发布的事件
func PublishQueryEvent(ctx context.Context, ev *QueryEvent) {
	ich := ctx.Value(queryEventKey{})
	if ich == nil {
		return
	}

	// 我们希望在这里panic
	ech := ich.(*queryEventChannel)
	ech.send(ctx, ev)
}

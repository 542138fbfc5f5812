package crawler

import (
	"fmt"
	"time"
)

// Option 覆盖网络爬虫选项类型
type Option func(*options) error

type options struct {
	probeKeywords  []string
	parallelism    int
	connectTimeout time.Duration
	perMsgTimeout  time.Duration
}

// DefaultProbeKeywords 默认的探测关键词
// 服务端做子串匹配,单个常见字母几乎能命中任何非空曲库,从而带回gossip节点
var DefaultProbeKeywords = []string{"e", "a", "o"}

// defaults 默认的爬虫选项。此选项将自动添加到传递给爬虫构造函数的任何选项之前。
// 参数:
//   - o: *options 选项指针
//
// 返回值:
//   - error 错误信息
var defaults = func(o *options) error {
	o.probeKeywords = DefaultProbeKeywords
	o.parallelism = 64
	o.connectTimeout = time.Second * 2
	o.perMsgTimeout = time.Second * 3

	return nil
}

// WithProbeKeywords 设置爬虫向每个节点发送的探测关键词
// 参数:
//   - keywords: []string 关键词列表
//
// 返回值:
//   - Option 选项函数
func WithProbeKeywords(keywords []string) Option {
	return func(o *options) error {
		if len(keywords) == 0 {
			return fmt.Errorf("探测关键词不能为空")
		}
		o.probeKeywords = append([]string{}, keywords...)
		return nil
	}
}

// WithParallelism 定义可以并行发出的查询数量
// 参数:
//   - parallelism: int 并行度
//
// 返回值:
//   - Option 选项函数
func WithParallelism(parallelism int) Option {
	return func(o *options) error {
		if parallelism <= 0 {
			return fmt.Errorf("并行度必须为正数: %d", parallelism)
		}
		o.parallelism = parallelism
		return nil
	}
}

// WithMsgTimeout 定义单次探测交换在被视为失败之前允许花费的时间
// 参数:
//   - timeout: time.Duration 超时时间
//
// 返回值:
//   - Option 选项函数
func WithMsgTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		o.perMsgTimeout = timeout
		return nil
	}
}

// WithConnectTimeout 定义对等连接超时的时间
// 参数:
//   - timeout: time.Duration 超时时间
//
// 返回值:
//   - Option 选项函数
func WithConnectTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		o.connectTimeout = timeout
		return nil
	}
}

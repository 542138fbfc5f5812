package wire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dep2p/minerva/internal"
	"github.com/dep2p/minerva/metrics"
)

// MaxLineSize 单行消息的上限,超出部分视为截断
const MaxLineSize = 4 << 20

var baseLogger = logger.Desugar()

const (
	defaultConnectTimeout = 2 * time.Second
	defaultReadTimeout    = 3 * time.Second
)

// Messenger 向单个对等节点发起一次关键词查询并解析其响应
// 它把线路格式与查询协调逻辑解耦
type Messenger struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	dialer         *net.Dialer
}

// MessengerOption Messenger选项函数类型
type MessengerOption func(*Messenger) error

// WithConnectTimeout 设置TCP连接超时
// 参数:
//   - d: time.Duration 连接超时
//
// 返回值:
//   - MessengerOption 选项函数
func WithConnectTimeout(d time.Duration) MessengerOption {
	return func(m *Messenger) error {
		if d <= 0 {
			return fmt.Errorf("连接超时必须为正数: %s", d)
		}
		m.connectTimeout = d
		return nil
	}
}

// WithReadTimeout 设置整个交换过程的读写超时
// 参数:
//   - d: time.Duration 读超时
//
// 返回值:
//   - MessengerOption 选项函数
func WithReadTimeout(d time.Duration) MessengerOption {
	return func(m *Messenger) error {
		if d <= 0 {
			return fmt.Errorf("读超时必须为正数: %s", d)
		}
		m.readTimeout = d
		return nil
	}
}

// NewMessenger 创建一个新的Messenger
// 参数:
//   - opts: ...MessengerOption 选项函数
//
// 返回值:
//   - *Messenger 消息器
//   - error 错误信息
func NewMessenger(opts ...MessengerOption) (*Messenger, error) {
	m := &Messenger{
		connectTimeout: defaultConnectTimeout,
		readTimeout:    defaultReadTimeout,
		dialer:         &net.Dialer{},
	}
	for _, o := range opts {
		if err := o(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// QueryPeer 对一个对等节点执行一次完整的查询交换
// 状态依次为 连接 -> 握手 -> 查询 -> 完成/失败。失败不重试
// 成功时每条结果都会标记来源主机
// 参数:
//   - ctx: context.Context 上下文,取消时立即关闭连接
//   - addr: netip.AddrPort 对等节点地址
//   - keyword: string 用户关键词,发送前会被规范化
//
// 返回值:
//   - []SearchResult 结果列表
//   - error 错误信息
func (m *Messenger) QueryPeer(ctx context.Context, addr netip.AddrPort, keyword string) (results []SearchResult, err error) {
	ctx, span := internal.StartSpan(ctx, "Messenger.QueryPeer", trace.WithAttributes(
		attribute.Stringer("to", addr),
		attribute.String("keyword", keyword),
	))
	defer span.End()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	ctx, _ = tag.New(ctx, tag.Upsert(metrics.KeyPeer, addr.String()))
	start := time.Now()
	stats.Record(ctx, metrics.SentQueries.M(1))

	results, err = m.exchange(ctx, addr, NormalizeKeyword(keyword))
	if err != nil {
		stats.Record(ctx, metrics.SentQueryErrors.M(1))
		if c := baseLogger.Check(zap.DebugLevel, "查询对等节点失败"); c != nil {
			c.Write(zap.Stringer("to", addr), zap.Error(err))
		}
		return nil, err
	}

	stats.Record(ctx, metrics.OutboundQueryLatency.M(float64(time.Since(start))/float64(time.Millisecond)))
	host := addr.Addr().String()
	for i := range results {
		results[i].PeerHost = host
	}
	if c := baseLogger.Check(zap.DebugLevel, "对等节点返回结果"); c != nil {
		c.Write(zap.Stringer("from", addr), zap.Int("count", len(results)), zap.Duration("time", time.Since(start)))
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// exchange 执行线路协议的一次往返
func (m *Messenger) exchange(ctx context.Context, addr netip.AddrPort, query string) ([]SearchResult, error) {
	dctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	conn, err := m.dialer.DialContext(dctx, "tcp", addr.String())
	cancel()
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", addr, err)
	}
	defer conn.Close()

	// 上下文取消时关闭连接以打断阻塞的读写
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	deadline := time.Now().Add(m.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	r := NewLineReader(conn)
	if err := WriteLine(conn, Handshake); err != nil {
		return nil, fmt.Errorf("发送握手失败: %w", err)
	}
	line, err := ReadLine(r)
	if err != nil {
		return nil, fmt.Errorf("读取握手失败: %w", err)
	}
	if line != Handshake {
		return nil, ErrHandshakeMismatch
	}

	if err := WriteLine(conn, query); err != nil {
		return nil, fmt.Errorf("发送查询失败: %w", err)
	}
	line, err = ReadLine(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []SearchResult{}, nil
		}
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	return DecodeResults([]byte(line))
}

// NewLineReader 创建一个带总长度上限的行读取器
// 参数:
//   - r: io.Reader 底层读取器
//
// 返回值:
//   - *bufio.Reader 行读取器
func NewLineReader(r io.Reader) *bufio.Reader {
	return bufio.NewReader(io.LimitReader(r, MaxLineSize))
}

// ReadLine 读取一行并去掉行尾的 \r\n
// 流在行中途结束时返回已读到的部分;完全没有数据时返回 io.EOF
// 参数:
//   - r: *bufio.Reader 行读取器
//
// 返回值:
//   - string 行内容
//   - error 错误信息
func ReadLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// WriteLine 写入一行,自动追加换行符
// 参数:
//   - w: io.Writer 写入器
//   - line: string 行内容
//
// 返回值:
//   - error 错误信息
func WriteLine(w io.Writer, line string) error {
	_, err := io.WriteString(w, line+"\n")
	return err
}

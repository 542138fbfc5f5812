package crawlerpoll

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dep2p/minerva/internal"
	"github.com/dep2p/minerva/metrics"
)

var logger = logging.Logger("minerva/crawlerpoll")

const maxBodySize = 8 << 20

// MergeFunc 将一次轮询得到的 "host:port" 列表合并进注册表,返回新增数量
type MergeFunc func(ctx context.Context, addrs []string) int

// triggerPollReq 触发轮询请求
type triggerPollReq struct {
	respCh chan error // 响应通道
}

// Poller 周期性地从爬虫端点拉取节点列表
// 启动时立即轮询一次,之后按固定周期轮询。失败只记录日志,等待下一次
type Poller struct {
	ctx      context.Context
	cancel   context.CancelFunc
	refcount sync.WaitGroup

	url      string
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	merge    MergeFunc

	triggerPoll chan *triggerPollReq // 写入轮询请求的通道

	pollDoneCh chan struct{} // 每次轮询完成后写入此通道,可以为nil
}

// Option 轮询器选项
type Option func(*Poller) error

// WithInterval 设置两次轮询之间的间隔
// 参数:
//   - d: time.Duration 间隔
//
// 返回值:
//   - Option 选项函数
func WithInterval(d time.Duration) Option {
	return func(p *Poller) error {
		if d <= 0 {
			return fmt.Errorf("轮询间隔必须为正数: %s", d)
		}
		p.interval = d
		return nil
	}
}

// WithTimeout 设置单次HTTP请求的超时
// 参数:
//   - d: time.Duration 超时
//
// 返回值:
//   - Option 选项函数
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) error {
		if d <= 0 {
			return fmt.Errorf("轮询超时必须为正数: %s", d)
		}
		p.timeout = d
		return nil
	}
}

// WithHTTPClient 使用自定义HTTP客户端
func WithHTTPClient(c *http.Client) Option {
	return func(p *Poller) error {
		p.client = c
		return nil
	}
}

// WithPollDoneCh 每次轮询结束后向 ch 写入一个信号
func WithPollDoneCh(ch chan struct{}) Option {
	return func(p *Poller) error {
		p.pollDoneCh = ch
		return nil
	}
}

// NewPoller 创建新的轮询器
// 参数:
//   - url: string 爬虫端点
//   - merge: MergeFunc 合并函数
//   - opts: ...Option 选项
//
// 返回值:
//   - *Poller 轮询器
//   - error 错误信息
func NewPoller(url string, merge MergeFunc, opts ...Option) (*Poller, error) {
	if url == "" {
		return nil, fmt.Errorf("爬虫端点不能为空")
	}
	if merge == nil {
		return nil, fmt.Errorf("合并函数不能为空")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		ctx:         ctx,
		cancel:      cancel,
		url:         url,
		client:      http.DefaultClient,
		interval:    30 * time.Second,
		timeout:     10 * time.Second,
		merge:       merge,
		triggerPoll: make(chan *triggerPollReq),
	}
	for _, o := range opts {
		if err := o(p); err != nil {
			cancel()
			return nil, err
		}
	}
	return p, nil
}

// Start 启动轮询器
func (p *Poller) Start() {
	p.refcount.Add(1)
	go p.loop()
}

// Close 关闭轮询器并等待正在进行的轮询结束
// 返回值:
//   - error 错误信息
func (p *Poller) Close() error {
	p.cancel()
	p.refcount.Wait()
	return nil
}

// Poll 请求立即轮询一次
// 返回的通道在轮询完成后返回错误并关闭。该通道是带缓冲的,可以安全地忽略
// 返回值:
//   - <-chan error 错误通道
func (p *Poller) Poll() <-chan error {
	resp := make(chan error, 1)
	p.refcount.Add(1)
	go func() {
		defer p.refcount.Done()
		select {
		case p.triggerPoll <- &triggerPollReq{respCh: resp}:
		case <-p.ctx.Done():
			resp <- p.ctx.Err()
			close(resp)
		}
	}()
	return resp
}

// PollNoWait 请求立即轮询一次,如果请求无法通过则直接返回
func (p *Poller) PollNoWait() {
	select {
	case p.triggerPoll <- &triggerPollReq{}:
	default:
	}
}

// loop 轮询器的主循环
func (p *Poller) loop() {
	defer p.refcount.Done()

	if err := p.doPoll(p.ctx); err != nil {
		logger.Warnw("轮询爬虫端点失败", "url", p.url, "error", err)
	}
	p.signalDone()

	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		var waiting []chan<- error
		select {
		case <-t.C:
		case req := <-p.triggerPoll:
			if req.respCh != nil {
				waiting = append(waiting, req.respCh)
			}
		case <-p.ctx.Done():
			return
		}

		// 如果同时有多个轮询请求在等待,则批量处理它们
	OuterLoop:
		for {
			select {
			case req := <-p.triggerPoll:
				if req.respCh != nil {
					waiting = append(waiting, req.respCh)
				}
			default:
				break OuterLoop
			}
		}

		err := p.doPoll(p.ctx)
		for _, w := range waiting {
			w <- err
			close(w)
		}
		if err != nil {
			logger.Warnw("轮询爬虫端点失败", "url", p.url, "error", err)
		}
		p.signalDone()
	}
}

func (p *Poller) signalDone() {
	if p.pollDoneCh == nil {
		return
	}
	select {
	case p.pollDoneCh <- struct{}{}:
	case <-p.ctx.Done():
	}
}

// doPoll 执行一次轮询并合并结果
// 参数:
//   - ctx: context.Context 上下文
//
// 返回值:
//   - error 错误信息
func (p *Poller) doPoll(ctx context.Context) (err error) {
	ctx, span := internal.StartSpan(ctx, "Poller.doPoll", trace.WithAttributes(attribute.String("url", p.url)))
	defer span.End()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	ctx, _ = tag.New(ctx, tag.Upsert(metrics.KeyEndpoint, p.url))
	stats.Record(ctx, metrics.CrawlerPolls.M(1))

	addrs, err := p.fetch(ctx)
	if err != nil {
		stats.Record(ctx, metrics.CrawlerPollErrors.M(1))
		return err
	}
	added := p.merge(ctx, addrs)
	logger.Debugw("已合并爬虫节点", "url", p.url, "received", len(addrs), "added", added)
	span.SetAttributes(attribute.Int("received", len(addrs)), attribute.Int("added", added))
	return nil
}

// fetch 请求爬虫端点并解析JSON数组
func (p *Poller) fetch(ctx context.Context) ([]string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求爬虫端点失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, fmt.Errorf("爬虫端点返回状态码 %d", resp.StatusCode)
	}

	var addrs []string
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&addrs); err != nil {
		return nil, fmt.Errorf("解析爬虫响应失败: %w", err)
	}
	return addrs, nil
}

package minerva

import (
	"errors"
	"net"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"go.uber.org/zap"

	"github.com/dep2p/minerva/metrics"
	"github.com/dep2p/minerva/wire"
)

// acceptBackoff 接受连接出现临时错误后的等待时间
var acceptBackoff = 50 * time.Millisecond

// acceptLoop 接受入站连接,每个连接由独立的goroutine处理
func (o *KeywordOverlay) acceptLoop() {
	defer o.wg.Done()

	for {
		conn, err := o.listener.Accept()
		if err != nil {
			if o.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warnw("接受连接失败", "error", err)
			select {
			case <-time.After(acceptBackoff):
			case <-o.ctx.Done():
				return
			}
			continue
		}

		if !o.trackConn(conn) {
			_ = conn.Close()
			return
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			defer o.untrackConn(conn)
			o.handleNewConn(conn)
		}()
	}
}

func (o *KeywordOverlay) trackConn(c net.Conn) bool {
	o.connsMu.Lock()
	defer o.connsMu.Unlock()
	if o.closed {
		return false
	}
	o.conns[c] = struct{}{}
	return true
}

func (o *KeywordOverlay) untrackConn(c net.Conn) {
	o.connsMu.Lock()
	delete(o.conns, c)
	o.connsMu.Unlock()
}

// closeConns 关闭所有正在处理的连接,之后到达的连接会被直接关闭
func (o *KeywordOverlay) closeConns() {
	o.connsMu.Lock()
	defer o.connsMu.Unlock()
	o.closed = true
	for c := range o.conns {
		_ = c.Close()
	}
}

// handleNewConn 处理一个入站连接: 握手 -> 读取查询 -> 写回结果 -> 关闭
// 任何一步出错都只中止这一个连接
// 参数:
//   - conn: net.Conn 入站连接
func (o *KeywordOverlay) handleNewConn(conn net.Conn) {
	defer conn.Close()

	from := conn.RemoteAddr().String()
	ctx, _ := tag.New(o.ctx, tag.Upsert(metrics.KeyPeer, from))
	startTime := time.Now()

	if err := conn.SetDeadline(startTime.Add(o.serverIdleTimeout)); err != nil {
		return
	}
	r := wire.NewLineReader(conn)

	hello, err := wire.ReadLine(r)
	if err != nil || hello != wire.Handshake {
		stats.Record(ctx, metrics.ReceivedQueryErrors.M(1))
		if c := baseLogger.Check(zap.DebugLevel, "握手失败,关闭连接"); c != nil {
			c.Write(zap.String("from", from), zap.String("hello", hello), zap.Error(err))
		}
		return
	}
	if err := wire.WriteLine(conn, wire.Handshake); err != nil {
		stats.Record(ctx, metrics.ReceivedQueryErrors.M(1))
		if c := baseLogger.Check(zap.DebugLevel, "写入握手时出错"); c != nil {
			c.Write(zap.String("from", from), zap.Error(err))
		}
		return
	}

	query, err := wire.ReadLine(r)
	if err != nil {
		stats.Record(ctx, metrics.ReceivedQueryErrors.M(1))
		if c := baseLogger.Check(zap.DebugLevel, "读取查询时出错"); c != nil {
			c.Write(zap.String("from", from), zap.Error(err))
		}
		return
	}
	stats.Record(ctx, metrics.ReceivedQueries.M(1))

	var results []wire.SearchResult
	if keyword, ok := wire.StripSuffix(query); ok {
		if c := baseLogger.Check(zap.DebugLevel, "正在处理查询"); c != nil {
			c.Write(zap.String("from", from), zap.String("keyword", keyword))
		}
		results = o.handleSearch(ctx, keyword)
	} else if c := baseLogger.Check(zap.DebugLevel, "查询缺少域后缀,返回空结果"); c != nil {
		c.Write(zap.String("from", from), zap.String("query", query))
	}

	payload, err := wire.EncodeResults(results)
	if err != nil {
		stats.Record(ctx, metrics.ReceivedQueryErrors.M(1))
		logger.Errorw("编码结果失败", "error", err)
		return
	}
	if err := wire.WriteLine(conn, string(payload)); err != nil {
		stats.Record(ctx, metrics.ReceivedQueryErrors.M(1))
		if c := baseLogger.Check(zap.DebugLevel, "写入响应时出错"); c != nil {
			c.Write(zap.String("from", from), zap.Error(err))
		}
		return
	}

	elapsedTime := time.Since(startTime)
	if c := baseLogger.Check(zap.DebugLevel, "已响应查询"); c != nil {
		c.Write(zap.String("from", from),
			zap.Int("results", len(results)),
			zap.Duration("time", elapsedTime))
	}
	stats.Record(ctx, metrics.InboundQueryLatency.M(float64(elapsedTime)/float64(time.Millisecond)))
}

package providers

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/simplelru"
	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/autobatch"
	dsq "github.com/ipfs/go-datastore/query"
	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-base32"
	"go.opentelemetry.io/otel/trace"

	"github.com/dep2p/minerva/internal"
)

const (
	// TorrentPeersKeyPrefix 是存储在数据存储中所有端点记录键的前缀/命名空间
	TorrentPeersKeyPrefix = "/torrent-peers/"
)

var lruCacheSize = 256
var batchBufferSize = 256
var log = logging.Logger("minerva/providers")

// EndpointStore 将内容哈希与托管该内容的 "host:listenPort" 端点关联
type EndpointStore interface {
	AddEndpoint(ctx context.Context, hash string, endpoint string) error
	Endpoints(ctx context.Context, hash string) ([]string, error)
	io.Closer
}

// TorrentPeerIndex 从数据存储中添加和获取端点,并在中间进行缓存
// 记录只增不删,删除由宿主应用自行负责
type TorrentPeerIndex struct {
	// 所有非通道字段只能在run方法中访问
	cache  lru.LRUCache
	dstore *autobatch.Datastore

	newends chan *addEndpoint
	getends chan *getEndpoints

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ EndpointStore = (*TorrentPeerIndex)(nil)

// Option 是设置索引选项的函数
type Option func(*TorrentPeerIndex) error

// applyOptions 应用索引选项
// 参数:
//   - opts: []Option 选项列表
//
// 返回值:
//   - error 错误信息
func (ti *TorrentPeerIndex) applyOptions(opts ...Option) error {
	for i, opt := range opts {
		if err := opt(ti); err != nil {
			return fmt.Errorf("端点索引选项 %d 失败: %s", i, err)
		}
	}
	return nil
}

// Cache 设置LRU缓存实现
// 默认为简单的LRU缓存
func Cache(c lru.LRUCache) Option {
	return func(ti *TorrentPeerIndex) error {
		ti.cache = c
		return nil
	}
}

type addEndpoint struct {
	ctx      context.Context
	key      []byte
	endpoint string
}

type getEndpoints struct {
	ctx  context.Context
	key  []byte
	resp chan []string
}

// NewTorrentPeerIndex 构造函数
// 参数:
//   - dstore: ds.Batching 数据存储
//   - opts: []Option 选项列表
//
// 返回值:
//   - *TorrentPeerIndex 端点索引实例
//   - error 错误信息
func NewTorrentPeerIndex(dstore ds.Batching, opts ...Option) (*TorrentPeerIndex, error) {
	ti := new(TorrentPeerIndex)
	ti.getends = make(chan *getEndpoints)
	ti.newends = make(chan *addEndpoint)
	ti.dstore = autobatch.NewAutoBatching(dstore, batchBufferSize)
	cache, err := lru.NewLRU(lruCacheSize, nil)
	if err != nil {
		return nil, err
	}
	ti.cache = cache
	if err := ti.applyOptions(opts...); err != nil {
		return nil, err
	}
	ti.ctx, ti.cancel = context.WithCancel(context.Background())
	ti.run()
	return ti, nil
}

// run 运行索引的主循环
func (ti *TorrentPeerIndex) run() {
	ti.wg.Add(1)
	go func() {
		defer ti.wg.Done()
		defer func() {
			if err := ti.dstore.Flush(context.Background()); err != nil {
				log.Error("刷新数据存储失败: ", err)
			}
		}()

		for {
			select {
			case ne := <-ti.newends:
				if err := ti.addEndpoint(ne.ctx, ne.key, ne.endpoint); err != nil {
					log.Error("添加端点错误: ", err)
				}
			case ge := <-ti.getends:
				eps, err := ti.getEndpointsForKey(ge.ctx, ge.key)
				if err != nil && err != ds.ErrNotFound {
					log.Error("读取端点错误: ", err)
				}
				out := make([]string, len(eps))
				copy(out, eps)
				ge.resp <- out
			case <-ti.ctx.Done():
				return
			}
		}
	}()
}

// Close 关闭索引并把缓冲的写入刷新到数据存储
// 返回值:
//   - error 错误信息
func (ti *TorrentPeerIndex) Close() error {
	ti.cancel()
	ti.wg.Wait()
	return nil
}

// AddEndpoint 记录某个内容哈希由给定端点托管
// 参数:
//   - ctx: context.Context 上下文
//   - hash: string 内容哈希
//   - endpoint: string "host:listenPort"
//
// 返回值:
//   - error 错误信息
func (ti *TorrentPeerIndex) AddEndpoint(ctx context.Context, hash string, endpoint string) error {
	if hash == "" || endpoint == "" {
		return fmt.Errorf("哈希和端点不能为空")
	}
	ctx, span := internal.StartSpan(ctx, "TorrentPeerIndex.AddEndpoint",
		trace.WithAttributes(internal.KeyAsAttribute("hash", hash)))
	defer span.End()

	ae := &addEndpoint{
		ctx:      ctx,
		key:      internal.CanonicalHash(hash),
		endpoint: endpoint,
	}
	select {
	case ti.newends <- ae:
		return nil
	case <-ti.ctx.Done():
		return internal.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// addEndpoint 如果需要则更新缓存
// 参数:
//   - ctx: context.Context 上下文
//   - k: []byte 规范化后的哈希键
//   - e: string 端点
//
// 返回值:
//   - error 错误信息
func (ti *TorrentPeerIndex) addEndpoint(ctx context.Context, k []byte, e string) error {
	now := time.Now()
	if eps, ok := ti.cache.Get(string(k)); ok {
		if !eps.(*endpointSet).setVal(e, now) {
			return nil
		}
	} // 否则未缓存,只写入

	return writeEndpointEntry(ctx, ti.dstore, k, e, now)
}

// writeEndpointEntry 将端点写入数据存储。已存在的记录保留首次写入的时间
// 参数:
//   - ctx: context.Context 上下文
//   - dstore: ds.Datastore 数据存储
//   - k: []byte 哈希键
//   - e: string 端点
//   - t: time.Time 时间戳
//
// 返回值:
//   - error 错误信息
func writeEndpointEntry(ctx context.Context, dstore ds.Datastore, k []byte, e string, t time.Time) error {
	dsk := ds.NewKey(mkEndpointKeyFor(k, e))
	if has, err := dstore.Has(ctx, dsk); err == nil && has {
		return nil
	}

	buf := make([]byte, 16)
	n := binary.PutVarint(buf, t.UnixNano())

	return dstore.Put(ctx, dsk, buf[:n])
}

// mkEndpointKeyFor 为哈希键和端点创建数据存储键
// 参数:
//   - k: []byte 哈希键
//   - e: string 端点
//
// 返回值:
//   - string 数据存储键
func mkEndpointKeyFor(k []byte, e string) string {
	return mkEndpointKey(k) + "/" + base32.RawStdEncoding.EncodeToString([]byte(e))
}

// mkEndpointKey 为哈希键创建数据存储键前缀
// 参数:
//   - k: []byte 哈希键
//
// 返回值:
//   - string 数据存储键前缀
func mkEndpointKey(k []byte) string {
	return TorrentPeersKeyPrefix + base32.RawStdEncoding.EncodeToString(k)
}

// Endpoints 返回已知托管给定内容哈希的端点
// 参数:
//   - ctx: context.Context 上下文
//   - hash: string 内容哈希
//
// 返回值:
//   - []string 端点列表
//   - error 错误信息
func (ti *TorrentPeerIndex) Endpoints(ctx context.Context, hash string) ([]string, error) {
	ctx, span := internal.StartSpan(ctx, "TorrentPeerIndex.Endpoints",
		trace.WithAttributes(internal.KeyAsAttribute("hash", hash)))
	defer span.End()

	ge := &getEndpoints{
		ctx:  ctx,
		key:  internal.CanonicalHash(hash),
		resp: make(chan []string, 1), // 缓冲以防止发送者阻塞
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ti.ctx.Done():
		return nil, internal.ErrClosed
	case ti.getends <- ge:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case eps := <-ge.resp:
		return eps, nil
	}
}

// getEndpointsForKey 如果缓存中已存在则返回端点,否则从数据存储加载
// 参数:
//   - ctx: context.Context 上下文
//   - k: []byte 哈希键
//
// 返回值:
//   - []string 端点列表
//   - error 错误信息
func (ti *TorrentPeerIndex) getEndpointsForKey(ctx context.Context, k []byte) ([]string, error) {
	cached, ok := ti.cache.Get(string(k))
	if ok {
		return cached.(*endpointSet).endpoints, nil
	}

	es, err := loadEndpointSet(ctx, ti.dstore, k)
	if err != nil {
		return nil, err
	}

	if len(es.endpoints) > 0 {
		ti.cache.Add(string(k), es)
	}

	return es.endpoints, nil
}

// loadEndpointSet 从数据存储加载端点集合
// 参数:
//   - ctx: context.Context 上下文
//   - dstore: ds.Datastore 数据存储
//   - k: []byte 哈希键
//
// 返回值:
//   - *endpointSet 端点集合
//   - error 错误信息
func loadEndpointSet(ctx context.Context, dstore ds.Datastore, k []byte) (*endpointSet, error) {
	res, err := dstore.Query(ctx, dsq.Query{Prefix: mkEndpointKey(k)})
	if err != nil {
		return nil, err
	}
	defer res.Close()

	out := newEndpointSet()
	for {
		e, ok := res.NextSync()
		if !ok {
			break
		}
		if e.Error != nil {
			log.Error("获取到一个错误: ", e.Error)
			continue
		}

		t, err := readTimeValue(e.Value)
		if err != nil {
			log.Error("从磁盘解析端点记录: ", err)
			continue
		}

		lix := strings.LastIndex(e.Key, "/")
		decstr, err := base32.RawStdEncoding.DecodeString(e.Key[lix+1:])
		if err != nil {
			log.Error("base32解码错误: ", err)
			continue
		}

		out.setVal(string(decstr), t)
	}

	return out, nil
}

// readTimeValue 读取时间值
// 参数:
//   - data: []byte 时间数据
//
// 返回值:
//   - time.Time 时间
//   - error 错误信息
func readTimeValue(data []byte) (time.Time, error) {
	nsec, n := binary.Varint(data)
	if n <= 0 {
		return time.Time{}, fmt.Errorf("解析时间失败")
	}

	return time.Unix(0, nsec), nil
}

package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	logging "github.com/ipfs/go-log/v2"
)

var logger = logging.Logger("minerva/wire")

const (
	// Handshake 是每次查询前双方交换的协议标识行
	Handshake = "MINERVA1"
	// Suffix 是查询行必须携带的域后缀
	Suffix = ".minerva"
)

var (
	// ErrHandshakeMismatch 对方回复的握手行与 Handshake 不一致
	ErrHandshakeMismatch = errors.New("握手不匹配")
	// ErrMalformedResponse 响应行不是合法的JSON数组
	ErrMalformedResponse = errors.New("响应格式错误")
)

// SearchResult 是对等节点返回的一条内容记录
// PeerHost 仅在客户端接收后填充,不参与序列化
type SearchResult struct {
	Title       string   `json:"title"`
	Artist      string   `json:"artist"`
	Album       string   `json:"album"`
	TorrentHash string   `json:"torrentHash"`
	Genre       string   `json:"genre,omitempty"`
	Year        *int     `json:"year,omitempty"`
	ListenPort  *int     `json:"listenPort,omitempty"`
	Peers       []string `json:"peers,omitempty"`

	PeerHost string `json:"-"`
}

// DedupKey 返回用于跨节点去重的键: 内容哈希 + "|" + 标题
// 返回值:
//   - string 去重键
func (r *SearchResult) DedupKey() string {
	return r.TorrentHash + "|" + r.Title
}

// Endpoint 返回 "host:listenPort" 形式的端点
// 参数:
//   - host: string 响应者主机
//
// 返回值:
//   - string 端点字符串
//   - bool 是否同时具备哈希和监听端口
func (r *SearchResult) Endpoint(host string) (string, bool) {
	if r.TorrentHash == "" || r.ListenPort == nil || host == "" {
		return "", false
	}
	return net.JoinHostPort(host, strconv.Itoa(*r.ListenPort)), true
}

// NormalizeKeyword 将用户关键词转为查询行: 去除首尾空白、转小写,并在缺少时追加 Suffix
// 参数:
//   - keyword: string 用户关键词
//
// 返回值:
//   - string 查询行
func NormalizeKeyword(keyword string) string {
	q := strings.ToLower(strings.TrimSpace(keyword))
	if strings.HasSuffix(q, Suffix) {
		return q
	}
	return q + Suffix
}

// StripSuffix 去除查询行的域后缀,后缀比较不区分大小写
// 参数:
//   - query: string 查询行
//
// 返回值:
//   - string 裸关键词
//   - bool 查询行是否携带后缀
func StripSuffix(query string) (string, bool) {
	q := strings.TrimSpace(query)
	cut := len(q) - len(Suffix)
	if cut < 0 || !strings.EqualFold(q[cut:], Suffix) {
		return q, false
	}
	return q[:cut], true
}

// EncodeResults 将结果列表编码为单行JSON数组(不含换行符)
// 参数:
//   - results: []SearchResult 结果列表
//
// 返回值:
//   - []byte 编码后的数据
//   - error 错误信息
func EncodeResults(results []SearchResult) ([]byte, error) {
	if results == nil {
		results = []SearchResult{}
	}
	b, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("编码搜索结果失败: %w", err)
	}
	return b, nil
}

// DecodeResults 解析一行JSON数组。空行表示没有结果
// 参数:
//   - line: []byte 响应行
//
// 返回值:
//   - []SearchResult 结果列表
//   - error 错误信息
func DecodeResults(line []byte) ([]SearchResult, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return []SearchResult{}, nil
	}
	var out []SearchResult
	if err := json.Unmarshal(line, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out == nil {
		out = []SearchResult{}
	}
	return out, nil
}

package minerva

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dep2p/minerva/peerset"
)

// DefaultBootstrapPeers 是内置的会合节点,仅在引导文件不存在或为空时使用
var DefaultBootstrapPeers = []string{
	"87.120.14.80:4568",
}

// LoadBootstrapFile 读取引导节点文件,每行一个 "host:port"
// 空行和以 # 开头的行被忽略;无法解析的行会被记录并跳过,不影响其余行
// 参数:
//   - ctx: context.Context 解析主机名时使用的上下文
//   - path: string 文件路径
//
// 返回值:
//   - []peerset.PeerAddress 地址列表
//   - error 文件无法打开或读取时的错误
func LoadBootstrapFile(ctx context.Context, path string) ([]peerset.PeerAddress, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []peerset.PeerAddress
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := peerset.Resolve(ctx, line)
		if err != nil {
			logger.Warnw("跳过无效的引导节点", "path", path, "line", lineNo, "error", err)
			continue
		}
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("读取引导文件失败: %w", err)
	}
	return out, nil
}

// ResolveBootstrapPeers 解析 "host:port" 列表,无法解析的条目被记录并跳过
// 参数:
//   - ctx: context.Context 上下文
//   - addrs: []string 地址列表
//
// 返回值:
//   - []peerset.PeerAddress 地址列表
func ResolveBootstrapPeers(ctx context.Context, addrs []string) []peerset.PeerAddress {
	out := make([]peerset.PeerAddress, 0, len(addrs))
	for _, a := range addrs {
		p, err := peerset.Resolve(ctx, a)
		if err != nil {
			logger.Errorw("解析引导节点失败", "address", a, "error", err)
			continue
		}
		out = append(out, p)
	}
	return out
}

// bootstrapPeers 合并引导文件与内置列表
// seeds 为 nil 时使用 DefaultBootstrapPeers
func bootstrapPeers(ctx context.Context, path string, seeds []string) []peerset.PeerAddress {
	var fromFile []peerset.PeerAddress
	if path != "" {
		var err error
		fromFile, err = LoadBootstrapFile(ctx, path)
		if err != nil && !os.IsNotExist(err) {
			logger.Warnw("加载引导文件失败", "path", path, "error", err)
		}
	}
	if len(fromFile) > 0 {
		logger.Debugw("已从引导文件加载节点", "path", path, "count", len(fromFile))
		return fromFile
	}

	if seeds == nil {
		seeds = DefaultBootstrapPeers
	}
	return ResolveBootstrapPeers(ctx, seeds)
}

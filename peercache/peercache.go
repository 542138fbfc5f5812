// Package peercache 将已知的覆盖网络地址持久化到磁盘,进程启动时加载,关闭时保存
package peercache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/dep2p/minerva/peerset"
)

var logger = logging.Logger("minerva/peercache")

// DefaultPath 默认缓存文件名
const DefaultPath = "minerva_peers.cache"

// Load 读取按行分隔的 "host:port" 缓存文件
// 文件不存在时返回空集合;格式错误的行会被跳过并记录警告;读取失败时返回已读到的部分
// 参数:
//   - ctx: context.Context 解析主机名时使用的上下文
//   - path: string 缓存文件路径
//
// 返回值:
//   - []peerset.PeerAddress 地址列表
func Load(ctx context.Context, path string) []peerset.PeerAddress {
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warnw("打开节点缓存失败", "path", path, "error", err)
		}
		return nil
	}
	defer f.Close()

	var out []peerset.PeerAddress
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		p, err := peerset.Resolve(ctx, line)
		if err != nil {
			logger.Warnw("跳过无效的缓存行", "path", path, "line", lineNo, "error", err)
			continue
		}
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		logger.Warnw("读取节点缓存失败", "path", path, "error", err)
	}
	logger.Debugw("已加载节点缓存", "path", path, "count", len(out))
	return out
}

// Save 以IP字面量覆盖写入缓存文件,每行一个地址
// 先写入同目录下的临时文件再重命名,避免中途失败留下截断的文件
// 参数:
//   - path: string 缓存文件路径
//   - peers: []peerset.PeerAddress 地址列表
//
// 返回值:
//   - error 错误信息
func Save(path string, peers []peerset.PeerAddress) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("创建临时缓存文件失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, p := range peers {
		if !p.IsValid() {
			continue
		}
		if _, err = w.WriteString(p.String() + "\n"); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("写入缓存失败: %w", err)
		}
	}
	if err = w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("写入缓存失败: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("关闭缓存文件失败: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("替换缓存文件失败: %w", err)
	}
	logger.Debugw("已保存节点缓存", "path", path, "count", len(peers))
	return nil
}

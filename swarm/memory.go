package swarm

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// MemoryLibrary 是基于内存的 LocalIndex 实现
type MemoryLibrary struct {
	mu     sync.RWMutex
	tracks []Track
}

var _ LocalIndex = (*MemoryLibrary)(nil)

// manifest 是曲库清单文件的结构
type manifest struct {
	Tracks []Track `yaml:"tracks"`
}

// NewMemoryLibrary 创建内存曲库
// 参数:
//   - tracks: ...Track 初始内容
//
// 返回值:
//   - *MemoryLibrary 曲库
func NewMemoryLibrary(tracks ...Track) *MemoryLibrary {
	return &MemoryLibrary{tracks: append([]Track(nil), tracks...)}
}

// LoadManifest 从YAML清单文件加载曲库
// 参数:
//   - path: string 清单文件路径
//
// 返回值:
//   - *MemoryLibrary 曲库
//   - error 错误信息
func LoadManifest(path string) (*MemoryLibrary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取曲库清单失败: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("解析曲库清单失败: %w", err)
	}
	logger.Infow("已加载曲库清单", "path", path, "tracks", len(m.Tracks))
	return NewMemoryLibrary(m.Tracks...), nil
}

// Add 添加内容
func (l *MemoryLibrary) Add(t Track) {
	l.mu.Lock()
	l.tracks = append(l.tracks, t)
	l.mu.Unlock()
}

// Len 返回内容数量
func (l *MemoryLibrary) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tracks)
}

// SearchLocal 在标题、艺术家、专辑和流派上做不区分大小写的子串匹配
// 参数:
//   - keyword: string 关键词
//
// 返回值:
//   - []Track 匹配的内容
func (l *MemoryLibrary) SearchLocal(keyword string) []Track {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Track
	for _, t := range l.tracks {
		if containsFold(t.Title, kw) || containsFold(t.Artist, kw) ||
			containsFold(t.Album, kw) || containsFold(t.Genre, kw) {
			out = append(out, t)
		}
	}
	return out
}

func containsFold(s, lowerSub string) bool {
	return s != "" && strings.Contains(strings.ToLower(s), lowerSub)
}

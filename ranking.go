package minerva

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dep2p/minerva/internal"
	"github.com/dep2p/minerva/wire"
)

// SplitKeywords 把用户查询拆分为小写关键词,按空白分隔
// 重复的关键词保留,每次出现都计入关键词数 k
// 参数:
//   - query: string 用户查询
//
// 返回值:
//   - []string 关键词列表
func SplitKeywords(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Quorum 返回 k 个关键词时一条结果至少需要命中的关键词数: max(1, k/2)
func Quorum(k int) int {
	if q := k / 2; q > 1 {
		return q
	}
	return 1
}

type rankEntry struct {
	result wire.SearchResult
	count  int
}

// RankByQuorum 按命中关键词数对多组关键词搜索结果做过滤和排序
// 每条结果以 哈希|标题 标识,同一关键词的结果中重复出现只计一次。
// 命中数不低于 Quorum(k) 的结果按命中数降序返回,命中数相同时保持首次出现的顺序
// 参数:
//   - perKeyword: [][]wire.SearchResult 每个关键词的搜索结果
//
// 返回值:
//   - []wire.SearchResult 排序后的结果
func RankByQuorum(perKeyword [][]wire.SearchResult) []wire.SearchResult {
	entries := make(map[string]*rankEntry)
	var order []*rankEntry
	for _, results := range perKeyword {
		counted := make(map[string]struct{}, len(results))
		for _, r := range results {
			key := r.DedupKey()
			if _, ok := counted[key]; ok {
				continue
			}
			counted[key] = struct{}{}

			e, ok := entries[key]
			if !ok {
				e = &rankEntry{result: r}
				entries[key] = e
				order = append(order, e)
			}
			e.count++
		}
	}

	threshold := Quorum(len(perKeyword))
	kept := make([]*rankEntry, 0, len(order))
	for _, e := range order {
		if e.count >= threshold {
			kept = append(kept, e)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].count > kept[j].count })

	out := make([]wire.SearchResult, len(kept))
	for i, e := range kept {
		out[i] = e.result
	}
	return out
}

// SearchQuery 把查询拆分为关键词,并发执行每个关键词的 Search,再按命中数排序
// 参数:
//   - ctx: context.Context 上下文
//   - query: string 用户查询
//
// 返回值:
//   - []wire.SearchResult 排序后的结果
func (o *KeywordOverlay) SearchQuery(ctx context.Context, query string) []wire.SearchResult {
	keywords := SplitKeywords(query)
	if len(keywords) == 0 {
		return []wire.SearchResult{}
	}

	ctx, span := internal.StartSpan(ctx, "SearchQuery", trace.WithAttributes(
		attribute.StringSlice("keywords", keywords),
	))
	defer span.End()

	// 相同的关键词只搜索一次,结果按出现次数分别计入
	slot := make(map[string]int, len(keywords))
	var unique []string
	for _, kw := range keywords {
		if _, ok := slot[kw]; !ok {
			slot[kw] = len(unique)
			unique = append(unique, kw)
		}
	}

	found := make([][]wire.SearchResult, len(unique))
	var wg sync.WaitGroup
	wg.Add(len(unique))
	for i, kw := range unique {
		go func(i int, kw string) {
			defer wg.Done()
			found[i] = o.Search(ctx, kw)
		}(i, kw)
	}
	wg.Wait()

	perKeyword := make([][]wire.SearchResult, len(keywords))
	for i, kw := range keywords {
		perKeyword[i] = found[slot[kw]]
	}

	ranked := RankByQuorum(perKeyword)
	span.SetAttributes(attribute.Int("results", len(ranked)))
	return ranked
}

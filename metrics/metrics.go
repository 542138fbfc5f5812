package metrics

import (
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	// 默认毫秒分布
	defaultMillisecondsDistribution = view.Distribution(0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 3000, 4000, 5000, 10000)
	// 每次查询结果数分布
	defaultResultsDistribution = view.Distribution(0, 1, 2, 5, 10, 20, 50, 100, 200, 500, 1000)
)

// Keys 标签键
var (
	KeyPeer, _ = tag.NewKey("peer")
	// KeyInstanceID 通过指针地址标识覆盖网络实例
	// 用于区分同一进程中的多个实例
	KeyInstanceID, _ = tag.NewKey("instance_id")
	KeyEndpoint, _   = tag.NewKey("endpoint")
)

// Measures 度量指标
var (
	SentQueries          = stats.Int64("minerva/overlay/sent_queries", "发往对等节点的查询总数", stats.UnitDimensionless)
	SentQueryErrors      = stats.Int64("minerva/overlay/sent_query_errors", "发往对等节点的查询失败总数", stats.UnitDimensionless)
	OutboundQueryLatency = stats.Float64("minerva/overlay/outbound_query_latency", "单次对等节点查询的延迟", stats.UnitMilliseconds)
	ReceivedQueries      = stats.Int64("minerva/overlay/received_queries", "接收到的查询总数", stats.UnitDimensionless)
	ReceivedQueryErrors  = stats.Int64("minerva/overlay/received_query_errors", "处理接收查询时的错误总数", stats.UnitDimensionless)
	InboundQueryLatency  = stats.Float64("minerva/overlay/inbound_query_latency", "处理一次接收查询的延迟", stats.UnitMilliseconds)
	ResultsReturned      = stats.Int64("minerva/overlay/results_returned", "一次聚合搜索返回的去重结果数", stats.UnitDimensionless)
	RegistrySize         = stats.Int64("minerva/overlay/registry_size", "已知发现节点数量", stats.UnitDimensionless)
	CrawlerPolls         = stats.Int64("minerva/overlay/crawler_polls", "爬虫端点轮询次数", stats.UnitDimensionless)
	CrawlerPollErrors    = stats.Int64("minerva/overlay/crawler_poll_errors", "爬虫端点轮询失败次数", stats.UnitDimensionless)
)

// Views 视图定义
var (
	SentQueriesView = &view.View{
		Measure:     SentQueries,
		TagKeys:     []tag.Key{KeyPeer, KeyInstanceID},
		Aggregation: view.Count(),
	}
	SentQueryErrorsView = &view.View{
		Measure:     SentQueryErrors,
		TagKeys:     []tag.Key{KeyPeer, KeyInstanceID},
		Aggregation: view.Count(),
	}
	OutboundQueryLatencyView = &view.View{
		Measure:     OutboundQueryLatency,
		TagKeys:     []tag.Key{KeyPeer, KeyInstanceID},
		Aggregation: defaultMillisecondsDistribution,
	}
	ReceivedQueriesView = &view.View{
		Measure:     ReceivedQueries,
		TagKeys:     []tag.Key{KeyPeer, KeyInstanceID},
		Aggregation: view.Count(),
	}
	ReceivedQueryErrorsView = &view.View{
		Measure:     ReceivedQueryErrors,
		TagKeys:     []tag.Key{KeyPeer, KeyInstanceID},
		Aggregation: view.Count(),
	}
	InboundQueryLatencyView = &view.View{
		Measure:     InboundQueryLatency,
		TagKeys:     []tag.Key{KeyInstanceID},
		Aggregation: defaultMillisecondsDistribution,
	}
	ResultsReturnedView = &view.View{
		Measure:     ResultsReturned,
		TagKeys:     []tag.Key{KeyInstanceID},
		Aggregation: defaultResultsDistribution,
	}
	RegistrySizeView = &view.View{
		Measure:     RegistrySize,
		TagKeys:     []tag.Key{KeyInstanceID},
		Aggregation: view.LastValue(),
	}
	CrawlerPollsView = &view.View{
		Measure:     CrawlerPolls,
		TagKeys:     []tag.Key{KeyEndpoint, KeyInstanceID},
		Aggregation: view.Count(),
	}
	CrawlerPollErrorsView = &view.View{
		Measure:     CrawlerPollErrors,
		TagKeys:     []tag.Key{KeyEndpoint, KeyInstanceID},
		Aggregation: view.Count(),
	}
)

// DefaultViews 包含所有默认视图
var DefaultViews = []*view.View{
	SentQueriesView,
	SentQueryErrorsView,
	OutboundQueryLatencyView,
	ReceivedQueriesView,
	ReceivedQueryErrorsView,
	InboundQueryLatencyView,
	ResultsReturnedView,
	RegistrySizeView,
	CrawlerPollsView,
	CrawlerPollErrorsView,
}

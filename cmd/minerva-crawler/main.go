// minerva-crawler 遍历覆盖网络,并通过 GET /peers 提供发现的活跃节点
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-cidranger"
	"github.com/spf13/cobra"

	"github.com/dep2p/minerva"
	"github.com/dep2p/minerva/crawler"
	"github.com/dep2p/minerva/peerset"
)

var logger = logging.Logger("minerva-crawler")

var (
	flagHTTP        string
	flagCIDR        string
	flagBootstrap   string
	flagSeeds       []string
	flagInterval    time.Duration
	flagParallelism int
	flagMaxPeers    int
	flagProbes      []string
	flagLogLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "minerva-crawler",
	Short: "Crawl the Minerva overlay and serve live peers",
	Example: `  minerva-crawler --cidr bg_cidrs.txt --seed 87.120.14.80:4568
  minerva-crawler --http :9090 --interval 5m`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.SetLogLevelRegex("minerva.*", flagLogLevel); err != nil {
			return fmt.Errorf("invalid log level %q: %w", flagLogLevel, err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagHTTP, "http", ":8080", "HTTP listen address for GET /peers")
	f.StringVar(&flagCIDR, "cidr", "", "allow-list file with one CIDR per line, empty accepts every IP")
	f.StringVar(&flagBootstrap, "bootstrap", "bootstrap_nodes.txt", "bootstrap peers file")
	f.StringSliceVar(&flagSeeds, "seed", nil, "additional seed peers (host:port)")
	f.DurationVar(&flagInterval, "interval", 10*time.Minute, "time between crawls")
	f.IntVar(&flagParallelism, "parallelism", 64, "concurrent peer probes")
	f.IntVar(&flagMaxPeers, "max-peers", crawler.DefaultMaxPeers, "maximum number of served peers")
	f.StringSliceVar(&flagProbes, "probe", crawler.DefaultProbeKeywords, "probe keywords sent to each peer")
	f.StringVar(&flagLogLevel, "log-level", "info", "log level: debug|info|warn|error")
}

// seeds 汇总引导文件、命令行种子和上一轮发现的节点
func seeds(ctx context.Context, list *crawler.PeerList) []peerset.PeerAddress {
	var out []peerset.PeerAddress
	if flagBootstrap != "" {
		fromFile, err := minerva.LoadBootstrapFile(ctx, flagBootstrap)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnw("加载引导文件失败", "path", flagBootstrap, "error", err)
		}
		out = append(out, fromFile...)
	}
	seedAddrs := flagSeeds
	if len(out) == 0 && len(seedAddrs) == 0 {
		seedAddrs = minerva.DefaultBootstrapPeers
	}
	out = append(out, minerva.ResolveBootstrapPeers(ctx, seedAddrs)...)
	return append(out, list.Peers()...)
}

func run(ctx context.Context) error {
	var allow cidranger.Ranger
	if flagCIDR != "" {
		var err error
		allow, err = crawler.LoadCIDRFile(flagCIDR)
		if allow == nil {
			return fmt.Errorf("加载CIDR文件失败: %w", err)
		}
		if err != nil {
			logger.Warnw("跳过了无效的CIDR行", "path", flagCIDR, "error", err)
		}
		logger.Infow("已加载CIDR允许列表", "path", flagCIDR, "ranges", allow.Len())
	}
	list := crawler.NewPeerList(allow, flagMaxPeers)

	c, err := crawler.NewDefaultCrawler(
		crawler.WithParallelism(flagParallelism),
		crawler.WithProbeKeywords(flagProbes),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/peers", list)
	srv := &http.Server{Addr: flagHTTP, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	srvErr := make(chan error, 1)
	go func() {
		logger.Infow("HTTP服务已启动", "addr", flagHTTP)
		srvErr <- srv.ListenAndServe()
	}()

	var merr error
	t := time.NewTimer(0)
	defer t.Stop()
Loop:
	for {
		select {
		case <-t.C:
			crawlOnce(ctx, c, list)
			t.Reset(flagInterval)
		case err := <-srvErr:
			if !errors.Is(err, http.ErrServerClosed) {
				merr = multierror.Append(merr, err)
			}
			return merr
		case <-ctx.Done():
			break Loop
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		merr = multierror.Append(merr, err)
	}
	return merr
}

// crawlOnce 执行一轮爬取,把允许列表内的活跃节点加入列表
func crawlOnce(ctx context.Context, c crawler.Crawler, list *crawler.PeerList) {
	start := time.Now()
	startPeers := seeds(ctx, list)
	var ok, failed, added int
	c.Run(ctx, startPeers,
		func(p peerset.PeerAddress, _ []peerset.PeerAddress) {
			ok++
			if list.Add(p) {
				added++
			}
		},
		func(p peerset.PeerAddress, err error) {
			failed++
		},
	)
	logger.Infow("爬取完成",
		"seeds", len(startPeers),
		"responsive", ok,
		"failed", failed,
		"added", added,
		"total", list.Len(),
		"time", time.Since(start))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

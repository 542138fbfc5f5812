// minervad 运行一个关键词搜索覆盖网络节点,或执行一次性搜索
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dep2p/minerva"
	overlaycfg "github.com/dep2p/minerva/internal/config"
)

var logger = logging.Logger("minervad")

// 通用标志
var (
	flagPort       int
	flagCache      string
	flagBootstrap  string
	flagCrawlerURL string
	flagTimeout    time.Duration
	flagLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "minervad",
	Short: "Minerva keyword search overlay",
	Long:  "Runs a node of the Minerva keyword search overlay, or performs one-shot searches against it.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.SetLogLevelRegex("minerva.*", flagLogLevel); err != nil {
			return fmt.Errorf("invalid log level %q: %w", flagLogLevel, err)
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	// .env 不存在时使用进程环境
	_ = godotenv.Load()

	port := minerva.DefaultListenPort
	if v := os.Getenv("SEARCH_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}

	pf := rootCmd.PersistentFlags()
	pf.IntVar(&flagPort, "port", port, "overlay listen port (env SEARCH_PORT)")
	pf.StringVar(&flagCache, "cache", overlaycfg.DefaultCachePath, "peer cache file, empty to disable")
	pf.StringVar(&flagBootstrap, "bootstrap", overlaycfg.DefaultBootstrapFile, "bootstrap peers file")
	pf.StringVar(&flagCrawlerURL, "crawler-url", os.Getenv("MINERVA_CRAWLER_URL"), "crawler endpoint returning a JSON array of host:port (env MINERVA_CRAWLER_URL)")
	pf.DurationVar(&flagTimeout, "timeout", 4*time.Second, "per-search timeout")
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level: debug|info|warn|error")

	rootCmd.AddCommand(serveCmd, searchCmd)
}

// overlayOptions 把通用标志转换为覆盖网络选项
func overlayOptions(listenAddr string) []minerva.Option {
	opts := []minerva.Option{
		minerva.ListenAddr(listenAddr),
		minerva.CachePath(flagCache),
		minerva.BootstrapFile(flagBootstrap),
		minerva.QueryTimeout(flagTimeout),
	}
	if flagCrawlerURL != "" {
		opts = append(opts, minerva.CrawlerURL(flagCrawlerURL))
	}
	return opts
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

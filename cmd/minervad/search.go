package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dep2p/minerva"
	"github.com/dep2p/minerva/wire"
)

var flagJSON bool

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Search the overlay once and print ranked results",
	Example: `  minervad search blue sky
  minervad search --json --timeout 8s miles davis`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := search(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), results)
		}
		return printTable(cmd.OutOrStdout(), results)
	},
}

func init() {
	searchCmd.Flags().BoolVar(&flagJSON, "json", false, "print results as JSON")
}

// search 启动一个临时节点,执行一次排序搜索后关闭,节点缓存随之更新
func search(ctx context.Context, query string) ([]wire.SearchResult, error) {
	opts := overlayOptions(":0")
	var polled chan struct{}
	if flagCrawlerURL != "" {
		// 节点启动时已经轮询一次,等它结束即可
		polled = make(chan struct{})
		opts = append(opts, minerva.CrawlerPollDoneCh(polled))
	}

	o, err := minerva.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	defer o.Close()

	if polled != nil {
		select {
		case <-polled:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.SearchQuery(ctx, query), nil
}

func printJSON(w io.Writer, results []wire.SearchResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func printTable(w io.Writer, results []wire.SearchResult) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "no results")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TITLE\tARTIST\tALBUM\tHASH\tPEER")
	for _, r := range results {
		peer := r.PeerHost
		if ep, ok := r.Endpoint(r.PeerHost); ok {
			peer = ep
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Title, r.Artist, r.Album, r.TorrentHash, peer)
	}
	return tw.Flush()
}

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dep2p/minerva"
	"github.com/dep2p/minerva/swarm"
)

var flagLibrary string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an overlay node until interrupted",
	Example: `  minervad serve --library tracks.yaml
  minervad serve --port 4600 --crawler-url http://crawler:8080/peers`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagLibrary, "library", "", "YAML manifest of local tracks")
}

func serve(ctx context.Context) error {
	lib := swarm.NewMemoryLibrary()
	if flagLibrary != "" {
		var err error
		lib, err = swarm.LoadManifest(flagLibrary)
		if err != nil {
			return err
		}
	}

	opts := append(overlayOptions(fmt.Sprintf(":%d", flagPort)), minerva.WithLocalIndex(lib))
	o, err := minerva.New(ctx, opts...)
	if err != nil {
		return err
	}
	logger.Infow("节点已启动", "addr", o.ListenAddr().String(), "peers", len(o.DiscoveryPeers()), "tracks", lib.Len())

	<-ctx.Done()
	logger.Infow("正在关闭节点", "peers", len(o.DiscoveryPeers()))
	return o.Close()
}

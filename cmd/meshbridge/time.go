package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/config"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/logging"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/meshnode"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/meshsim"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/timesync"
)

func newTimeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "time",
		Short: "Query network time over the mesh",
		Long: `Time starts a node on an in-process radio, resolves the SNTP server
through NAT64 and issues the query on the bridge worker. The simulated
border router answers from the host clock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, map[string]string{
				"time.server":       "server",
				"time.timeout":      "timeout",
				"node.nat64_prefix": "prefix",
			})
			if err != nil {
				return err
			}
			return queryTime(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().String("server", "", "SNTP server host name or IPv4 address")
	cmd.Flags().Duration("timeout", 0, "give up after this long")
	cmd.Flags().String("prefix", "", "NAT64 /96 prefix")
	return cmd
}

// queryTime runs a node just long enough to answer one SNTP query.
func queryTime(ctx context.Context, cfg *config.Config, out io.Writer) error {
	node, err := meshnode.New(cfg.MeshNodeConfig(), meshnode.LoopbackRadio(meshsim.NewLoopback()))
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	defer func() {
		if err := node.Close(); err != nil {
			logging.Warn(logging.ComponentCLI, "error closing node", "error", err)
		}
	}()
	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	client, err := timesync.NewClient(cfg.TimeSyncConfig(), node.Resolver(), node.Bridge())
	if err != nil {
		return err
	}

	// The query sleeps on a notification bit of its own task.
	var (
		now      time.Time
		queryErr error
	)
	arch := node.Arch()
	start := arch.NowMillis()
	arch.NewThread("sntp", func() {
		now, queryErr = client.Query(ctx)
	}).Wait()
	if queryErr != nil {
		return queryErr
	}
	logging.Debug(logging.ComponentCLI, "time query finished", "elapsed_ms", arch.NowMillis()-start)
	fmt.Fprintf(out, "%s\t%s\t%d\n", client.Config().Server, now.UTC().Format(time.RFC3339), now.Unix())
	return nil
}

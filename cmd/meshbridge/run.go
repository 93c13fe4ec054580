package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/config"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/health"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/logging"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/meshnode"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/meshsim"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/radiolink"
)

const defaultStopTimeout = 5 * time.Second

type runOptions struct {
	sendInterval time.Duration
	duration     time.Duration
}

func newRunCommand(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a bridge node",
		Long: `Run starts a node: the bridge worker, the IP interface glue and a gRPC
radio link to the configured peers. With --send-interval the node also
sends a datagram periodically, and every datagram received is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, map[string]string{
				"node.id":           "node-id",
				"node.interface_id": "interface-id",
				"radio.listen":      "listen",
				"radio.peers":       "peer",
				"health.enabled":    "health",
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if opts.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.duration)
				defer cancel()
			}
			return runNode(ctx, cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().String("node-id", "", "unique node identifier")
	cmd.Flags().Uint64("interface-id", 0, "low 64 bits of the node's mesh addresses")
	cmd.Flags().String("listen", "", "radio link listen address")
	cmd.Flags().StringSlice("peer", nil, "static radio peer, host:port or id=host:port (repeatable)")
	cmd.Flags().Bool("health", true, "serve gRPC health on the radio listener")
	cmd.Flags().DurationVar(&opts.sendInterval, "send-interval", 0, "send a datagram every interval (0 disables)")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "stop after this long (0 runs until interrupted)")

	return cmd
}

// runNode assembles a node on a gRPC radio link and runs it until ctx ends.
func runNode(ctx context.Context, cfg *config.Config, opts runOptions, out io.Writer) error {
	var svc *health.Service
	var linkOpts []radiolink.Option
	if cfg.Health.Enabled {
		svc = health.New(cfg.Node.ID)
		linkOpts = append(linkOpts, radiolink.WithService(svc.Register))
	}

	var link *radiolink.GRPCLink
	factory := func(rx meshsim.Receiver) (meshsim.Radio, error) {
		l, err := radiolink.NewGRPCLink(cfg.RadioLinkConfig(), rx, linkOpts...)
		if err != nil {
			return nil, err
		}
		link = l
		return l, nil
	}

	node, err := meshnode.New(cfg.MeshNodeConfig(), factory)
	if err != nil {
		if link != nil {
			link.Close()
		}
		return fmt.Errorf("failed to create node: %w", err)
	}
	defer func() {
		if err := node.Close(); err != nil {
			logging.Warn(logging.ComponentCLI, "error closing node", "error", err)
		}
	}()
	defer link.Close()

	if err := link.Start(ctx); err != nil {
		return fmt.Errorf("failed to start radio link: %w", err)
	}
	addr, err := link.Address()
	if err != nil {
		return err
	}
	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	logging.Info(logging.ComponentCLI, "node running", "node", cfg.Node.ID, "radio", addr)
	fmt.Fprintf(out, "%s listening on %s\n", cfg.Node.ID, addr)

	var received atomic.Uint64
	g, gctx := errgroup.WithContext(ctx)
	if svc != nil {
		g.Go(func() error {
			return svc.Run(gctx, node.Bridge(), cfg.Health.Interval)
		})
	}
	if opts.sendInterval > 0 {
		g.Go(func() error {
			return sendLoop(gctx, node, opts.sendInterval)
		})
	}
	g.Go(func() error {
		return receiveLoop(gctx, node, out, &received)
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := cfg.Bridge.StopTimeout
		if timeout <= 0 {
			timeout = defaultStopTimeout
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return node.Stop(stopCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	h, err := node.GetHealth(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s stopped: state=%s sent=%d failures=%d received=%d\n",
		cfg.Node.ID, h.BridgeState, h.PacketsSent, h.SendFailures, received.Load())
	return nil
}

// sendLoop sends a numbered greeting every interval. Send failures are
// logged and the loop carries on.
func sendLoop(ctx context.Context, node *meshnode.Node, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for seq := 1; ; seq++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		payload := fmt.Sprintf("hello from %s #%d", node.GetNodeID(), seq)
		if err := node.Send(ctx, []byte(payload)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Warn(logging.ComponentCLI, "send failed", "seq", seq, "error", err)
		}
	}
}

func receiveLoop(ctx context.Context, node *meshnode.Node, out io.Writer, count *atomic.Uint64) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case datagram := <-node.Received():
			count.Add(1)
			fmt.Fprintf(out, "received %d bytes: %q\n", len(datagram), datagram)
		}
	}
}

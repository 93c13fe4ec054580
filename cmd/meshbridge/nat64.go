package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/nat64"
)

func newNAT64Command(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nat64 HOST...",
		Short: "Synthesize NAT64 addresses",
		Long: `NAT64 resolves each host to its first IPv4 address and prints the IPv6
address a mesh node uses to reach it. IPv4 literals are synthesized
without a lookup. The prefix defaults to node.nat64_prefix.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, map[string]string{
				"node.nat64_prefix": "prefix",
			})
			if err != nil {
				return err
			}
			resolver, err := nat64.NewResolver(cfg.MeshNodeConfig().Netif.NAT64Prefix, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, host := range args {
				addr, err := resolver.LookupNAT64(cmd.Context(), host)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%s\n", host, addr)
			}
			return nil
		},
	}

	cmd.Flags().String("prefix", "", "NAT64 /96 prefix")
	return cmd
}

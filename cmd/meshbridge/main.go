package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/config"
)

const (
	appName    = "meshbridge"
	appVersion = "0.1.0"
)

// app carries the global flags shared by every subcommand
type app struct {
	configFile string
	logLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Mesh stack to IP stack bridge",
		Long: `meshbridge runs a mesh network stack and an IP stack side by side,
bridging datagrams between them through a single worker task. Nodes
exchange radio frames over gRPC.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file (default ./meshbridge.yaml or $HOME/.config/meshbridge/meshbridge.yaml)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(newRunCommand(a))
	rootCmd.AddCommand(newHealthCommand(a))
	rootCmd.AddCommand(newTokenCommand(a))
	rootCmd.AddCommand(newNAT64Command(a))
	rootCmd.AddCommand(newTimeCommand(a))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// load builds the configuration and binds the named command flags over it.
// The map goes from config key to flag name.
func (a *app) load(cmd *cobra.Command, flags map[string]string) (*config.Config, error) {
	v, err := config.NewViper(a.configFile)
	if err != nil {
		return nil, err
	}
	for key, name := range flags {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	cfg.ApplyLogging()
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s v%s\n", appName, appVersion)
}

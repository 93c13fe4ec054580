package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/cloudauth"
)

func newTokenCommand(a *app) *cobra.Command {
	var (
		keyFile  string
		describe bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a cloud device token",
		Long: `Token signs a JWT for the configured cloud device with its private
key. The token's audience is the project ID; it is used as the MQTT
password when the node connects to the broker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, map[string]string{
				"cloud.project_id":     "project",
				"cloud.region":         "region",
				"cloud.registry_id":    "registry",
				"cloud.device_id":      "device",
				"cloud.algorithm":      "algorithm",
				"cloud.key_file":       "key",
				"cloud.token_lifetime": "lifetime",
			})
			if err != nil {
				return err
			}

			keyFile = cfg.Cloud.KeyFile
			if keyFile == "" {
				return fmt.Errorf("a private key is required (--key or cloud.key_file)")
			}
			pem, err := os.ReadFile(keyFile)
			if err != nil {
				return fmt.Errorf("failed to read private key: %w", err)
			}

			signer, err := cloudauth.NewTokenSigner(cfg.CloudAuthConfig(), pem)
			if err != nil {
				return err
			}
			token, expires, err := signer.Token()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if describe {
				device := signer.Config()
				fmt.Fprintf(out, "client_id: %s\n", device.ClientID())
				fmt.Fprintf(out, "server:    %s\n", device.ServerAddress)
				fmt.Fprintf(out, "events:    %s\n", device.EventsTopic())
				fmt.Fprintf(out, "config:    %s\n", device.ConfigTopic())
				fmt.Fprintf(out, "expires:   %s\n", expires.UTC().Format(time.RFC3339))
			}
			fmt.Fprintln(out, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&keyFile, "key", "", "PEM encoded private key")
	cmd.Flags().String("project", "", "cloud project ID")
	cmd.Flags().String("region", "", "cloud region")
	cmd.Flags().String("registry", "", "device registry ID")
	cmd.Flags().String("device", "", "device ID")
	cmd.Flags().String("algorithm", "", "signing algorithm, RS256 or ES256")
	cmd.Flags().Duration("lifetime", 0, "token lifetime")
	cmd.Flags().BoolVar(&describe, "describe", false, "also print the device identity and expiry")

	return cmd
}

package commands

import (
	"fmt"
	"time"

	"github.com/Tyrowin/cipherchat/internal/certs"
	"github.com/spf13/cobra"
)

func gencertCmd() *cobra.Command {
	opts := certs.DefaultOptions()
	var days int

	cmd := &cobra.Command{
		Use:   "gencert",
		Short: "Generate a self-signed TLS certificate and key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.ValidFor = time.Duration(days) * 24 * time.Hour
			if err := certs.WriteSelfSigned(cfg.TLS.CertPath, cfg.TLS.KeyPath, opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s\n", cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return nil
		},
	}
	cmd.Flags().String("cert", "", "certificate output path")
	cmd.Flags().String("key", "", "private key output path")
	cmd.Flags().StringSliceVar(&opts.Hosts, "san", opts.Hosts, "DNS names and IPs the certificate covers")
	cmd.Flags().IntVar(&days, "days", 365, "validity in days")
	return cmd
}

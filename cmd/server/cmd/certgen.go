package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/tls"
)

var (
	certgenCert  string
	certgenKey   string
	certgenHosts []string
	certgenDays  int
)

var certgenCmd = &cobra.Command{
	Use:   "certgen",
	Short: "Write a self-signed certificate for local HTTPS",
	RunE: func(cmd *cobra.Command, args []string) error {
		if certgenDays <= 0 {
			return fmt.Errorf("--days must be positive, got %d", certgenDays)
		}
		validFor := time.Duration(certgenDays) * 24 * time.Hour
		if err := tls.GenerateSelfSigned(certgenCert, certgenKey, validFor, certgenHosts...); err != nil {
			return err
		}
		fmt.Printf("Wrote %s and %s\n", certgenCert, certgenKey)
		fmt.Printf("Start with: server serve --tls-cert-file %s --tls-key-file %s\n", certgenCert, certgenKey)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(certgenCmd)

	certgenCmd.Flags().StringVar(&certgenCert, "cert", "server.crt", "certificate output path")
	certgenCmd.Flags().StringVar(&certgenKey, "key", "server.key", "private key output path")
	certgenCmd.Flags().StringSliceVar(&certgenHosts, "host", nil, "extra DNS names or IPs to include")
	certgenCmd.Flags().IntVar(&certgenDays, "days", 365, "validity in days")
}

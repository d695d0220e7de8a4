package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/auth"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/config"
	"github.com/Karbash/Prometheus-Hephaestus-sub002/pkg/models"
)

var (
	keygenTenant string
	keygenRole   string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an API key for a tenant",
	Long: `Generates a new API key and prints the token handed to the client
together with the api_keys entry to add to the server configuration.
The token is shown once; only its bcrypt hash is stored.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringVar(&keygenTenant, "tenant", "", "tenant the key belongs to (required)")
	keygenCmd.Flags().StringVar(&keygenRole, "role", string(models.RoleStaff), "role: admin, staff or customer")
	keygenCmd.MarkFlagRequired("tenant")
}

type generatedKey struct {
	Token string              `json:"token" yaml:"token"`
	Entry config.APIKeyConfig `json:"api_key" yaml:"api_key"`
}

func runKeygen(cmd *cobra.Command, args []string) error {
	role := models.Role(keygenRole)
	if !role.Valid() {
		return fmt.Errorf("%w: %q", auth.ErrInvalidRole, keygenRole)
	}

	id, secret, err := auth.GenerateKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashSecret(secret, 0)
	if err != nil {
		return err
	}

	key := generatedKey{
		Token: id + "." + secret,
		Entry: config.APIKeyConfig{ID: id, Tenant: keygenTenant, Role: string(role), Hash: hash},
	}

	switch outputFormat {
	case "json":
		output, err := json.MarshalIndent(key, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
	case "yaml":
		output, err := yaml.Marshal(map[string][]config.APIKeyConfig{"api_keys": {key.Entry}})
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Printf("# token: %s\n%s", key.Token, output)
	default:
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Field", "Value")
		table.Append("Token", key.Token)
		table.Append("ID", key.Entry.ID)
		table.Append("Tenant", key.Entry.Tenant)
		table.Append("Role", key.Entry.Role)
		table.Append("Hash", key.Entry.Hash)
		table.Render()
		fmt.Println("\nStore the token now, it cannot be recovered.")
	}
	return nil
}

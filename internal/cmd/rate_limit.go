package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/contentmesh/gatekeeper/internal/core"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and reset shared rate limit windows",
	Long: `Inspect and reset the sliding-window counters kept in Redis.

A client is identified the same way the server does it: by --api-key when the
caller authenticates, otherwise by --ip. --identifier accepts an already
hashed identity as it appears in window keys.`,
}

// identityFlags selects the client whose windows a subcommand operates on.
type identityFlags struct {
	identifier string
	apiKey     string
	ip         string
	endpoint   string
}

func (f *identityFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.identifier, "identifier", "", "Hashed client identity as used in window keys")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "Client API key (hashed before use)")
	cmd.Flags().StringVar(&f.ip, "ip", "", "Client IP address (hashed before use)")
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "Endpoint scope when per-endpoint limits are enabled (default global)")
}

func (f *identityFlags) resolve() (string, error) {
	identifier := strings.TrimSpace(f.identifier)
	apiKey := strings.TrimSpace(f.apiKey)
	ip := strings.TrimSpace(f.ip)

	set := 0
	for _, v := range []string{identifier, apiKey, ip} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return "", fmt.Errorf("exactly one of --identifier, --api-key, or --ip is required")
	}
	if identifier != "" {
		return identifier, nil
	}
	return core.IdentityHash(apiKey, ip), nil
}

func init() {
	rateLimitCmd.AddCommand(rateLimitStatusCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}

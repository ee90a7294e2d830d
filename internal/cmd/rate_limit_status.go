package cmd

import (
	"github.com/spf13/cobra"

	"github.com/contentmesh/gatekeeper/internal/core"
	"github.com/contentmesh/gatekeeper/internal/output"
)

var rateLimitStatusFlags identityFlags

var rateLimitStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-window usage for a client",
	Long:  "Show how many requests a client has made in each window. Nothing is recorded.",
	RunE: func(cmd *cobra.Command, args []string) error {
		identifier, err := rateLimitStatusFlags.resolve()
		if err != nil {
			return err
		}

		shared, err := openStore(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer func() { _ = shared.Close() }()

		limiter, err := newRateLimiter(shared, appConfig)
		if err != nil {
			return err
		}

		windows, err := limiter.Status(cmd.Context(), identifier, rateLimitStatusFlags.endpoint)
		if err != nil {
			return err
		}

		endpoint := rateLimitStatusFlags.endpoint
		if endpoint == "" {
			endpoint = core.GlobalScope
		}
		return render(cmd, output.WindowsView{
			Identifier: identifier,
			Endpoint:   endpoint,
			Windows:    windows,
		})
	},
}

func init() {
	rateLimitStatusFlags.register(rateLimitStatusCmd)
	addOutputFlags(rateLimitStatusCmd)
}

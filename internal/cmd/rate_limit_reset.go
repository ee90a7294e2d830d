package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/contentmesh/gatekeeper/internal/core"
	"github.com/contentmesh/gatekeeper/internal/metrics"
	"github.com/contentmesh/gatekeeper/internal/output"
)

var (
	rateLimitResetFlags  identityFlags
	rateLimitResetYes    bool
	rateLimitResetDryRun bool
)

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear every window for a client",
	RunE: func(cmd *cobra.Command, args []string) error {
		identifier, err := rateLimitResetFlags.resolve()
		if err != nil {
			return err
		}
		if !rateLimitResetYes && !rateLimitResetDryRun {
			return errors.New("reset requires --yes (or use --dry-run)")
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

		endpoint := rateLimitResetFlags.endpoint
		if endpoint == "" {
			endpoint = core.GlobalScope
		}

		windows, err := limiter.Status(cmd.Context(), identifier, rateLimitResetFlags.endpoint)
		if err != nil {
			return err
		}
		matched := 0
		for _, w := range windows {
			matched += w.Count
		}

		var deleted int64
		if !rateLimitResetDryRun {
			deleted, err = limiter.ResetLimit(cmd.Context(), identifier, rateLimitResetFlags.endpoint)
			metrics.RecordOperation("rate_limit_reset", err == nil)
			if err != nil {
				metrics.RecordOperationError("rate_limit_reset", "store")
				return err
			}
		}

		return render(cmd, output.SummaryView{Fields: []output.Field{
			{Name: "identifier", Value: identifier},
			{Name: "endpoint", Value: endpoint},
			{Name: "recorded_requests", Value: matched},
			{Name: "deleted_keys", Value: deleted},
			{Name: "dry_run", Value: rateLimitResetDryRun},
		}})
	},
}

func init() {
	rateLimitResetFlags.register(rateLimitResetCmd)
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be deleted")
	addOutputFlags(rateLimitResetCmd)
}

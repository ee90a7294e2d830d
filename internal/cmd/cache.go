package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/contentmesh/gatekeeper/internal/metrics"
	"github.com/contentmesh/gatekeeper/internal/output"
)

var (
	cacheInvalidatePath string
	cacheInvalidateAll  bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the shared response cache",
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop cached responses for a path, or all of them",
	Long: `Drop every cached variant (method, client, query) of --path, or every entry
under the configured cache prefixes with --all.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := strings.TrimSpace(cacheInvalidatePath)
		if (path == "") == !cacheInvalidateAll {
			return errors.New("exactly one of --path or --all is required")
		}

		shared, err := openStore(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer func() { _ = shared.Close() }()

		cache, err := newResponseCache(shared, appConfig)
		if err != nil {
			return err
		}

		var removed int64
		if cacheInvalidateAll {
			removed, err = cache.InvalidateAll(cmd.Context())
		} else {
			removed, err = cache.InvalidateEndpoint(cmd.Context(), path)
		}
		metrics.RecordOperation("cache_invalidate", err == nil)
		if err != nil {
			metrics.RecordOperationError("cache_invalidate", "store")
			return err
		}

		scope := path
		if cacheInvalidateAll {
			scope = "*"
		}
		return render(cmd, output.SummaryView{Fields: []output.Field{
			{Name: "path", Value: scope},
			{Name: "removed", Value: removed},
		}})
	},
}

func init() {
	cacheInvalidateCmd.Flags().StringVar(&cacheInvalidatePath, "path", "", "Request path to invalidate, e.g. /api/items")
	cacheInvalidateCmd.Flags().BoolVar(&cacheInvalidateAll, "all", false, "Invalidate every cached response")
	addOutputFlags(cacheInvalidateCmd)

	cacheCmd.AddCommand(cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/contentmesh/gatekeeper/internal/core"
	"github.com/contentmesh/gatekeeper/internal/core/health"
	"github.com/contentmesh/gatekeeper/internal/observability"
	"github.com/contentmesh/gatekeeper/internal/output"
)

var (
	healthCheckService string
	healthCheckStrict  bool
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Inspect downstream dependency health",
}

var healthCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe configured services once and print their status",
	Long: `Probe every service under health.services (or one, with --service) using the
same probe and circuit breaker settings as the server, then print the report.

With --strict the command exits non-zero when the overall health is unhealthy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		if len(cfg.Health.Services) == 0 {
			return fmt.Errorf("no services configured under health.services")
		}

		monitor, err := health.NewMonitor(cfg.Health, cfg.Breaker, health.WithLogger(observability.CLILogger))
		if err != nil {
			return err
		}

		var report core.HealthReport
		if healthCheckService != "" {
			status, err := monitor.CheckServiceHealth(cmd.Context(), healthCheckService)
			if err != nil {
				return err
			}
			report = core.HealthReport{
				OverallHealth: core.OverallUnhealthy,
				Timestamp:     time.Now().UTC(),
				Services:      map[string]core.ServiceStatus{healthCheckService: status},
			}
			if status.Health == core.HealthHealthy {
				report.OverallHealth = core.OverallHealthy
			}
		} else {
			start := time.Now()
			report = monitor.CheckAllServices(cmd.Context())
			observability.CLILogger.Debug("Health sweep finished",
				zap.Int("services", len(report.Services)),
				zap.Duration("elapsed", time.Since(start)))
		}

		if err := render(cmd, output.HealthView{Report: report}); err != nil {
			return err
		}

		if healthCheckStrict && report.OverallHealth == core.OverallUnhealthy {
			return fmt.Errorf("%w: overall health is %s", errUnhealthy, report.OverallHealth)
		}
		return nil
	},
}

func init() {
	healthCheckCmd.Flags().StringVar(&healthCheckService, "service", "", "Check a single service by name")
	healthCheckCmd.Flags().BoolVar(&healthCheckStrict, "strict", false, "Exit non-zero when overall health is unhealthy")
	addOutputFlags(healthCheckCmd)

	healthCmd.AddCommand(healthCheckCmd)
	rootCmd.AddCommand(healthCmd)
}

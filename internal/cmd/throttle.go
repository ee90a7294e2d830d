package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/contentmesh/gatekeeper/internal/core/throttle"
	"github.com/contentmesh/gatekeeper/internal/observability"
	"github.com/contentmesh/gatekeeper/internal/output"
)

var (
	throttleResource string
	throttleRequests int
	throttleCost     int
	throttleWait     bool
)

var throttleCmd = &cobra.Command{
	Use:   "throttle",
	Short: "Explore the outbound token-bucket limits",
}

var throttleSimulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a burst of calls against the configured limits",
	Long: `Replay --requests calls against a fresh in-process limiter built from the
configured throttle section, reporting how many were admitted immediately.
With --wait every call blocks until admitted and the total delay is reported.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if throttleRequests < 1 {
			return errors.New("--requests must be at least 1")
		}
		resource := strings.ToLower(strings.TrimSpace(throttleResource))
		if resource == "" {
			return errors.New("--resource is required")
		}

		limiter, err := throttle.New(appConfig.Throttle)
		if err != nil {
			return err
		}
		limiter.Logger = observability.CLILogger

		var (
			allowed, denied int
			longestRetry    time.Duration
			lastReason      string
		)
		start := time.Now()
		for i := 0; i < throttleRequests; i++ {
			if throttleWait {
				if err := limiter.WaitIfNeeded(cmd.Context(), resource, throttleCost); err != nil {
					return fmt.Errorf("call %d: %w", i+1, err)
				}
				allowed++
				continue
			}

			decision, err := limiter.Acquire(cmd.Context(), resource, throttleCost)
			if err != nil {
				return err
			}
			if decision.Allowed {
				allowed++
				continue
			}
			denied++
			lastReason = decision.Reason
			if decision.RetryAfter > longestRetry {
				longestRetry = decision.RetryAfter
			}
		}

		limits := limiter.LimitsFor(resource)
		fields := []output.Field{
			{Name: "resource", Value: resource},
			{Name: "requests_per_minute", Value: limits.RequestsPerMinute},
			{Name: "requests_per_hour", Value: limits.RequestsPerHour},
			{Name: "burst_size", Value: limits.BurstSize},
			{Name: "allowed", Value: allowed},
			{Name: "denied", Value: denied},
			{Name: "tokens_left", Value: fmt.Sprintf("%.2f", limiter.Tokens(resource))},
		}
		if throttleWait {
			fields = append(fields, output.Field{Name: "elapsed", Value: time.Since(start).Round(time.Millisecond).String()})
		}
		if denied > 0 {
			fields = append(fields,
				output.Field{Name: "last_reason", Value: lastReason},
				output.Field{Name: "max_retry_after", Value: longestRetry.Round(time.Millisecond).String()},
			)
		}
		return render(cmd, output.SummaryView{Fields: fields})
	},
}

func init() {
	throttleSimulateCmd.Flags().StringVar(&throttleResource, "resource", "upstream", "Resource whose limits to use")
	throttleSimulateCmd.Flags().IntVar(&throttleRequests, "requests", 20, "Number of calls to replay")
	throttleSimulateCmd.Flags().IntVar(&throttleCost, "cost", 1, "Tokens spent per call")
	throttleSimulateCmd.Flags().BoolVar(&throttleWait, "wait", false, "Block until each call is admitted")
	addOutputFlags(throttleSimulateCmd)

	throttleCmd.AddCommand(throttleSimulateCmd)
	rootCmd.AddCommand(throttleCmd)
}

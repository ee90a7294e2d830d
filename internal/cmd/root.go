package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/contentmesh/gatekeeper/internal/config"
	"github.com/contentmesh/gatekeeper/internal/observability"
)

const binaryName = "gatekeeper"

var (
	cfgFile string
	verbose bool

	// appConfig is populated by initConfig before any RunE executes.
	appConfig *config.Config

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   binaryName,
	Short: "Traffic control and resilience layer for platform services",
	Long: `gatekeeper fronts an upstream HTTP service with distributed rate limiting,
response caching, and circuit-breaker-backed health monitoring of downstream
dependencies. State shared across instances lives in Redis.

Use the subcommands to run the server or inspect and reset shared state.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading quiet; serve installs the real telemetry system.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/gatekeeper/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
}

// initConfig initializes the CLI logger and loads layered configuration.
func initConfig() {
	observability.InitCLILogger(binaryName, verbose)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to load configuration", err)
	}
	appConfig = cfg

	if verbose {
		path := cfgFile
		if path == "" {
			path = config.DefaultConfigPath()
		}
		observability.CLILogger.Debug("Configuration loaded",
			zap.String("config_path", path),
			zap.String("redis_url", redactURL(cfg.Redis.URL)))
	}
}

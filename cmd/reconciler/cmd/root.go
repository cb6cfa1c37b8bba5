package cmd

import (
	"fmt"
	"os"
	"strings"

	"bank-fin-reconciler/cmd/reconciler/config"
	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// closed by Execute once the command returns
	activeLogger logger.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Bank and finance ledger reconciliation tool",
	Long: `Reconciler matches the debit lines of a bank statement against the
credit lines of a finance ledger. Each bank record is paired with one finance
record or with a group of finance records whose amounts add up to it.

Examples:
  reconciler reconcile --bank-file bank.csv --finance-file finance.xlsx
  reconciler reconcile --bank-file bank.csv --finance-file fin.csv --workbook out/ --db runs.db
  reconciler generate --out-dir demo --records 500
  reconciler runs --db runs.db
  reconciler version`,
	Version:           getVersionString(),
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogger,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	defer func() {
		if activeLogger != nil {
			logger.Close(activeLogger)
		}
	}()
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (optional)")
	flags.BoolP(config.KeyVerbose, "v", false, "verbose output")
	flags.String(config.KeyLogLevel, "info", "log level: debug, info, warn, error")
	flags.String(config.KeyLogFormat, "text", "log format: text, json")
	flags.String(config.KeyLogFile, "", "write the run log as JSON lines to this file")

	for _, key := range []string{config.KeyVerbose, config.KeyLogLevel, config.KeyLogFormat, config.KeyLogFile} {
		viper.BindPFlag(key, flags.Lookup(key))
	}
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(4)
		}

		if viper.GetBool(config.KeyVerbose) {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// RECONCILER_MAX_COMBINATION_SIZE sets max-combination-size
	viper.SetEnvPrefix("RECONCILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// setupLogger installs the global logger every command logs through
func setupLogger(cmd *cobra.Command, args []string) error {
	logConfig := config.CreateLoggerConfig(
		viper.GetString(config.KeyLogLevel),
		viper.GetString(config.KeyLogFormat),
		viper.GetString(config.KeyLogFile),
		viper.GetBool(config.KeyVerbose),
	)

	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "logging", logConfig, err).
			WithSuggestion("Use --log-level debug|info|warn|error and --log-format text|json")
	}
	logger.SetGlobalLogger(log)
	activeLogger = log
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}

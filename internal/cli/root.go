package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/reconcile/internal/model"
)

// Version is set at build time
var Version = "0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile - receipt extraction with malformed-output recovery",
	Long: `Reconcile sends receipt images to a vision model and recovers a
structured receipt from whatever the model answers.

Fenced, escaped, truncated or chatty model output is repaired where it can
be and scraped where it cannot. A parse never fails: fields that cannot be
recovered are left empty.

Receipts can be stored in an append-only CSV pair (header.csv, line.csv)
and served over HTTP.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "reconcile v%s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.reconcile/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("provider", "", "model provider (openai, mistral, anthropic, ollama, mock)")
	flags.String("model", "", "model name")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("store-dir", "", "receipt store directory")

	_ = viper.BindPFlag("llm.provider", flags.Lookup("provider"))
	_ = viper.BindPFlag("llm.model", flags.Lookup("model"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("store.dir", flags.Lookup("store-dir"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads the .env file, the config file and RECONCILE_* variables
func initConfig() {
	if err := model.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if err := model.RegisterDefaults(viper.GetViper()); err != nil {
		fmt.Fprintf(os.Stderr, "Error registering defaults: %v\n", err)
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		viper.AddConfigPath(filepath.Join(home, ".reconcile"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Warning: cannot read config file %s: %v\n", cfgFile, err)
	}
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/internal/config"
	"github.com/akhilmat/ordermate/internal/observability"
)

var (
	cfgFile string
	cfg     *config.Config
)

// NewRootCommand builds a fresh root command tree. A new instance per
// invocation keeps flag state from leaking between runs.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "ordermate",
		Short:   "Ordermate automates Ajio order management: login, scraping, returns and reminders.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := initializeViper()
			if err != nil {
				return err
			}

			loaded, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "ordermate"})
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			cfg = loaded

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting ordermate", zap.String("version", Version))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml or ~/.ordermate/config.yaml)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(newRunCommand())
	root.AddCommand(newOrdersCommand())
	root.AddCommand(newRemindersCommand())
	return root
}

// Execute runs the CLI and flushes the logs on the way out.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}

// initializeViper reads the config file (when present) and wires the
// ORDERMATE_* environment namespace over the defaults.
func initializeViper() (*viper.Viper, error) {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".ordermate"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("ORDERMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults plus env cover everything.
	}
	return v, nil
}

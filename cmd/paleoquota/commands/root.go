package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/paleoquota/paleoquota/config"
	"github.com/paleoquota/paleoquota/libs/log"
)

const envPrefix = "PALEOQUOTA"

var (
	cfg    = config.DefaultConfig()
	logger = log.NewNopLogger()
)

// RootCommand constructs the root command. Persistent flags are bound to
// viper so every option can also come from the environment
// (PALEOQUOTA_RELAY_URL, ...).
func RootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paleoquota",
		Short: "A minimal relay-based text post client",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			// the instrumentation keys are nested and need explicit binds;
			// BindPFlags only registers the flat flag names
			if err := viper.BindPFlag("instrumentation.prometheus", cmd.Flags().Lookup("prometheus")); err != nil {
				return err
			}
			if err := viper.BindPFlag("instrumentation.prometheus-listen-addr", cmd.Flags().Lookup("prometheus-listen-addr")); err != nil {
				return err
			}
			viper.SetEnvPrefix(envPrefix)
			viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
			viper.AutomaticEnv()

			if err := viper.Unmarshal(cfg); err != nil {
				return fmt.Errorf("parse configuration: %w", err)
			}
			if err := cfg.ValidateBasic(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			var err error
			logger, err = log.NewDefaultLogger(cfg.LogFormat, cfg.LogLevel)
			return err
		},
	}

	cmd.PersistentFlags().String("home", cfg.RootDir, "directory for the post cache and identity file")
	cmd.PersistentFlags().String("relay-url", cfg.RelayURL, "relay endpoint (ws:// or wss://)")
	cmd.PersistentFlags().Bool("persist-identity", cfg.PersistIdentity, "keep one signing keypair across sessions")
	cmd.PersistentFlags().String("identity-file", cfg.IdentityFile, "identity key file, relative to --home")
	cmd.PersistentFlags().Duration("publish-timeout", cfg.PublishTimeout, "how long to wait for the relay to acknowledge a post")
	cmd.PersistentFlags().String("log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	cmd.PersistentFlags().String("log-format", cfg.LogFormat, "log format (plain|json)")
	cmd.PersistentFlags().Bool("prometheus", cfg.Instrumentation.Prometheus, "serve prometheus metrics")
	cmd.PersistentFlags().String("prometheus-listen-addr", cfg.Instrumentation.PrometheusListenAddr, "address for the prometheus metrics listener")

	return cmd
}

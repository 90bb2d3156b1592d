package commands

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/paleoquota/paleoquota/config"
)

// executeRoot runs the root command against a no-op subcommand so the
// persistent pre-run populates the package-level config from flags and env.
func executeRoot(t *testing.T, args ...string) *config.Config {
	t.Helper()
	viper.Reset()
	cfg = config.DefaultConfig()

	cmd := RootCommand()
	cmd.AddCommand(&cobra.Command{
		Use: "noop",
		RunE: func(*cobra.Command, []string) error {
			return nil
		},
	})
	cmd.SetArgs(append([]string{"noop"}, args...))
	require.NoError(t, cmd.Execute())
	return cfg
}

func TestRootCommandDefaults(t *testing.T) {
	cfg := executeRoot(t)
	require.False(t, cfg.Instrumentation.Prometheus)
	require.Equal(t, ":26660", cfg.Instrumentation.PrometheusListenAddr)
}

func TestRootCommandFlags(t *testing.T) {
	cfg := executeRoot(t,
		"--relay-url", "ws://localhost:7447",
		"--prometheus",
		"--prometheus-listen-addr", ":9999",
	)
	require.Equal(t, "ws://localhost:7447", cfg.RelayURL)
	require.True(t, cfg.Instrumentation.Prometheus)
	require.Equal(t, ":9999", cfg.Instrumentation.PrometheusListenAddr)
}

func TestRootCommandEnv(t *testing.T) {
	t.Setenv("PALEOQUOTA_RELAY_URL", "ws://localhost:7447")
	t.Setenv("PALEOQUOTA_INSTRUMENTATION_PROMETHEUS", "true")
	t.Setenv("PALEOQUOTA_INSTRUMENTATION_PROMETHEUS_LISTEN_ADDR", ":9999")

	cfg := executeRoot(t)
	require.Equal(t, "ws://localhost:7447", cfg.RelayURL)
	require.True(t, cfg.Instrumentation.Prometheus)
	require.Equal(t, ":9999", cfg.Instrumentation.PrometheusListenAddr)
}

func TestRootCommandRejectsInvalidConfig(t *testing.T) {
	viper.Reset()
	cfg = config.DefaultConfig()

	cmd := RootCommand()
	cmd.AddCommand(&cobra.Command{
		Use:  "noop",
		RunE: func(*cobra.Command, []string) error { return nil },
	})
	cmd.SetArgs([]string{"noop", "--relay-url", "http://example.com"})
	require.Error(t, cmd.Execute())
}

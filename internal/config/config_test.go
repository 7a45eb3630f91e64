package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	Init()

	cfg, err := Load(viper.GetViper())
	require.NoError(t, err)
	require.Equal(t, "state", cfg.Paths.StateDir)
	require.Equal(t, "jsonl", cfg.Paths.ResultDir)
	require.Equal(t, "task_stats", cfg.Paths.StatsDir)
	require.Equal(t, "logs", cfg.Paths.LogDir)
	require.Equal(t, "prompts/bayes/default.json", cfg.Paths.BayesProfile)
	require.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout)
	require.False(t, cfg.Logging.Development)
}

func TestLoadRejectsNonPositiveTimeout(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	Init()
	viper.Set("browser.navigation_timeout", "0s")

	_, err := Load(viper.GetViper())
	require.Error(t, err)
}

func TestEnvOverlay(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("IDLEWATCH_PATHS_STATE_DIR", "/var/lib/idlewatch/state")
	Init()

	cfg, err := Load(viper.GetViper())
	require.NoError(t, err)
	require.Equal(t, "/var/lib/idlewatch/state", cfg.Paths.StateDir)
}

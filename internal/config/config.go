// Package config loads the worker's file-layout and timing knobs via Viper.
// Task definitions and channel credentials live elsewhere (config.json and
// .env); this covers everything an operator rarely touches.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the worker knobs loaded via Viper.
type Config struct {
	Paths   PathsConfig   `mapstructure:"paths"`
	Browser BrowserConfig `mapstructure:"browser"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PathsConfig is the on-disk layout. Every path is relative to the working
// directory unless absolute.
type PathsConfig struct {
	StateDir       string `mapstructure:"state_dir"`
	ResultDir      string `mapstructure:"result_dir"`
	StatsDir       string `mapstructure:"stats_dir"`
	LogDir         string `mapstructure:"log_dir"`
	ImageDir       string `mapstructure:"image_dir"`
	EnvFile        string `mapstructure:"env_file"`
	RequirementDir string `mapstructure:"requirement_dir"`
	BayesProfile   string `mapstructure:"bayes_profile"`
}

// BrowserConfig tunes the browser session adapter.
type BrowserConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	EdgePath          string        `mapstructure:"edge_path"`
}

// LoggingConfig tunes the log tree.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Init wires Viper's search paths, defaults and env overlay. Call once at
// startup before Load.
func Init() {
	viper.SetConfigName("idlewatch")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.idlewatch")

	viper.SetDefault("paths.state_dir", "state")
	viper.SetDefault("paths.result_dir", "jsonl")
	viper.SetDefault("paths.stats_dir", "task_stats")
	viper.SetDefault("paths.log_dir", "logs")
	viper.SetDefault("paths.image_dir", "images")
	viper.SetDefault("paths.env_file", ".env")
	viper.SetDefault("paths.requirement_dir", "requirement")
	viper.SetDefault("paths.bayes_profile", "prompts/bayes/default.json")

	viper.SetDefault("browser.navigation_timeout", "30s")
	viper.SetDefault("browser.edge_path", "/usr/bin/microsoft-edge")

	viper.SetDefault("logging.development", false)

	viper.SetEnvPrefix("IDLEWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// the file is optional; defaults carry a bare checkout
	_ = viper.ReadInConfig()
}

// Load decodes the current Viper state.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode configuration: %w", err)
	}
	if cfg.Browser.NavigationTimeout <= 0 {
		return Config{}, fmt.Errorf("browser.navigation_timeout must be positive")
	}
	return cfg, nil
}

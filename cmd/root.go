// Package cmd defines the CLI for the idlewatch collector worker.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tigerliu/idlewatch/internal/app"
	"github.com/tigerliu/idlewatch/internal/config"
)

var taskConfigPath string

// newApp is a factory variable so tests can substitute a prebuilt container.
var newApp = func() (*app.App, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return app.New(cfg, taskConfigPath)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "idlewatch",
		Short: "Marketplace observation worker",
		Long: `idlewatch drives a real browser through second-hand marketplace search
tasks, harvests listing and seller data, scores each new listing and pushes
notifications for recommended ones.`,
		SilenceUsage: true,
	}

	cobra.OnInitialize(config.Init)

	cmd.PersistentFlags().StringVar(&taskConfigPath, "config", "config.json",
		"task list file")

	cmd.AddCommand(newRunCmd())
	return cmd
}

// Execute runs the CLI. Configuration problems exit non-zero; run-level
// outcomes such as a risk-control surrender do not.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

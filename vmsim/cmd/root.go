// Package cmd provides the command-line interface of vmsim.
package cmd

import (
	"github.com/sarchlab/vmswap/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var envFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmsim",
	Short: "vmsim runs programs on a paging virtual memory system.",
	Long: `vmsim boots a small kernel whose memory is split into frames ` +
		`and a swap store, then runs programs that fault, swap and fork. ` +
		`Settings come from a .env file and VMSIM_* variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env",
		"The .env file to read settings from.")
}

// loadConfig reads the settings and applies the log level.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return cfg, err
	}

	logrus.SetLevel(cfg.Level())

	return cfg, nil
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

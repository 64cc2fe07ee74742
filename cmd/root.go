package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/schovi/dockertest/internal/config"
	"github.com/schovi/dockertest/internal/logger"
	"github.com/schovi/dockertest/internal/match"
)

// Exit codes reported by Main.
const (
	ExitOK              = 0
	ExitError           = 1
	ExitTimeout         = 2
	ExitUnexpectedMatch = 3
)

var (
	configFlags []string
	debugFlag   bool
	logFileFlag string

	// loaded is set before any subcommand runs.
	loaded *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dockertest",
	Short: "Drive the docker CLI and assert on its output",
	Long: `dockertest runs the docker CLI (or any configured command), reads its
output line by line without blocking and checks it against regular
expressions within a time limit.

Quick start:
  dockertest expect 'Hello from Docker' -- run --rm hello-world
  dockertest expect --forbid 'panic' --timeout 5s -- logs -f web
  dockertest expect --tty --partial '/ # $' -- run -it --rm busybox sh
  dockertest config docker_cli/run          # Show effective settings
  docker events | dockertest lines --settle 2s`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(*cobra.Command, []string) error {
		return logger.CloseFileWriter()
	},
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFlags...)
	if err != nil {
		return err
	}
	defaults, err := cfg.Resolve("")
	if err != nil {
		return err
	}
	loaded = cfg

	logFile := defaults.Settings.LogFile
	if cmd.Flags().Changed("log-file") {
		logFile = logFileFlag
	}
	if err := logger.Init(debugFlag || defaults.Settings.Debug, logger.FileConfig{Path: logFile}); err != nil {
		return err
	}
	if path := logger.FilePath(); path != "" {
		logger.Log.Debug().Str("path", path).Strs("config", configFlags).Msg("logging to file")
	}
	return nil
}

// Main runs the CLI and returns the process exit code.
func Main() int {
	if err := rootCmd.Execute(); err != nil {
		return exitCode(err)
	}
	return ExitOK
}

func Execute() {
	os.Exit(Main())
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, match.ErrTimeout):
		return ExitTimeout
	case errors.Is(err, match.ErrUnexpectedMatch):
		return ExitUnexpectedMatch
	default:
		return ExitError
	}
}

func init() {
	rootCmd.PersistentFlags().StringArrayVar(&configFlags, "config", nil, "INI config file, may be repeated (later files win)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "Also write JSON logs to this file")

	rootCmd.AddCommand(expectCmd)
	rootCmd.AddCommand(linesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(transcriptCmd)
	rootCmd.AddCommand(versionCmd)
}

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/yeah705-lgtm/ccs-sub003/internal/config"
)

const (
	AppName = "ccs"
	Version = "0.3.0"

	logFilename = "ccs.log"
)

var (
	logger  *slog.Logger
	baseDir string
	cfgMgr  *config.Manager
)

var rootCmd = &cobra.Command{
	Use:     AppName,
	Short:   "Tier-routing gateway for Claude Code",
	Long:    `A local gateway that routes Anthropic Messages requests to the provider configured for each model tier, with health checks and fallback chains.`,
	Version: Version,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logFile, _ := cmd.Flags().GetBool("log-file")
		setupLogging(verbose, logFile)

		if path, _ := cmd.Flags().GetString("config"); path != "" {
			cfgMgr = config.NewManagerWithPath(path)
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	homeDir, err := os.UserHomeDir()
	if err != nil {
		logger.Error("Failed to get home directory", "error", err)
		os.Exit(1)
	}

	baseDir = filepath.Join(homeDir, "."+AppName)
	cfgMgr = config.NewManager(baseDir)

	rootCmd.PersistentFlags().String("config", "", "config file (default "+filepath.Join(baseDir, config.DefaultConfigFilename)+")")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolP("log-file", "l", false, "also write logs to "+filepath.Join(baseDir, "logs", logFilename))

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(codeCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging(verbose, logFile bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if logFile {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   filepath.Join(baseDir, "logs", logFilename),
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     14,
			Compress:   true,
		})
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	// Packages without an injected logger, such as the tier classifier, log
	// through the default.
	slog.SetDefault(logger)
}

func loadConfig() (*config.Config, error) {
	if !cfgMgr.Exists() {
		return nil, fmt.Errorf("no configuration at %s; run '%s config init'", cfgMgr.GetPath(), AppName)
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	return cfg, nil
}

var (
	errAlreadyRunning = errors.New("gateway already running")
	errNoGatewayState = errors.New("gateway is running but its state file is missing")
)

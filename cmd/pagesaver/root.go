package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hazyhaar/pagesaver/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "pagesaver",
	Short:         "Save web pages as screenshots, images and static archives",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "pagesaver.yaml", "YAML configuration file (missing file means defaults)")
	pf.StringSlice("env-file", []string{".env"}, "dotenv files loaded before the configuration")
	pf.String("log-level", "warn", "log level: debug, info, warn, error")
	pf.StringP("output", "o", "", "output directory (overrides config)")
	pf.String("db", "", "history database path (overrides config)")
	pf.Bool("no-history", false, "do not record runs in the history database")
	pf.String("remote", "", "DevTools WebSocket URL of an existing Chrome")
	pf.String("mode", "", "browser mode: headless, xvfb, visible")
	pf.Bool("stealth", false, "apply stealth evasions to every tab")
	pf.String("webhook", "", "also POST every saved file to this URL")

	rootCmd.AddCommand(shotCmd, fullpageCmd, areaCmd, imagesCmd, archiveCmd, historyCmd, auditCmd, lastCmd, serveCmd, mcpCmd)
}

// loadConfig reads the configuration and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	envFiles, _ := flags.GetStringSlice("env-file")
	if err := config.LoadDotenv(envFiles...); err != nil {
		return nil, err
	}
	path, _ := flags.GetString("config")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	applyFlags(flags, cfg)
	return cfg, nil
}

func applyFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if v, _ := flags.GetString("output"); v != "" {
		cfg.Output.Dir = v
	}
	if v, _ := flags.GetString("db"); v != "" {
		cfg.Output.DB = v
	}
	if v, _ := flags.GetBool("no-history"); v {
		cfg.Output.DB = ""
	}
	if v, _ := flags.GetString("remote"); v != "" {
		cfg.Browser.Remote = v
	}
	if v, _ := flags.GetString("mode"); v != "" {
		cfg.Browser.Mode = v
	}
	if v, _ := flags.GetBool("stealth"); v {
		cfg.Browser.Stealth = true
	}
	if v, _ := flags.GetString("webhook"); v != "" {
		cfg.Output.Webhook = v
	}
}

// newLogger writes JSON logs to stderr so stdout stays free for results
// and for the MCP stdio transport.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

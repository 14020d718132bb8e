package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/relaychat/internal/server"
)

var (
	version = "dev"
	commit  = "unknown"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "relaychat",
		Short: "Real-time chat relay over WebSocket",
		Long: `relaychat relays chat messages between authenticated WebSocket clients.

Clients present a signed identity token when connecting and can then send
broadcast and direct messages. Admins can remove other users.

Quick Start:
  relaychat token --name alice            # Issue a token for alice
  relaychat serve                         # Start the relay on :8080`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnvFile(opts.envFile, cmd.Flags().Changed("env-file"))
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Path to a dotenv file loaded before reading the environment")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newTokenCmd(opts))
	return cmd
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func loadConfig(opts *rootOptions) (server.Config, error) {
	cfg, err := server.LoadConfig(opts.configPath)
	if err != nil {
		return server.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func setupLogger(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/Mister-Yo/whisper-protocol/internal/cmd/client"
	serverrun "github.com/Mister-Yo/whisper-protocol/internal/cmd/server"
	cfgpkg "github.com/Mister-Yo/whisper-protocol/internal/config"
	pebblestore "github.com/Mister-Yo/whisper-protocol/internal/storage/pebble"
	logpkg "github.com/Mister-Yo/whisper-protocol/pkg/log"
)

func main() {
	level := os.Getenv("WHISPER_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "whisperd",
		Short: "Whisper relay CLI",
		Long:  "whisperd runs the encrypted-message relay and provides client operations against a running node.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the relay (HTTP API and gRPC health)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			grpcAddr, _ := cmd.Flags().GetString("grpc")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			configPath, _ := cmd.Flags().GetString("config")
			source, _ := cmd.Flags().GetString("source")
			shard, _ := cmd.Flags().GetString("shard")
			finalityDepth, _ := cmd.Flags().GetUint64("finality-depth")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			mode := pebblestore.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if source != "" {
				cfg.Source.Endpoint = source
			}
			if shard != "" {
				cfg.Shard = shard
			}
			if finalityDepth > 0 {
				cfg.Ingest.FinalityDepth = finalityDepth
			}
			if logLevel != "" {
				_ = os.Setenv("WHISPER_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("WHISPER_LOG_FORMAT", logFormat)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       dataDir,
				HTTPAddr:      httpAddr,
				GRPCAddr:      grpcAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("data-dir", "", "Data directory (default: OS-specific application data directory)")
	serverStartCmd.Flags().String("http", ":8080", "HTTP listen address")
	serverStartCmd.Flags().String("grpc", ":50051", "gRPC health listen address")
	serverStartCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms")
	serverStartCmd.Flags().String("config", os.Getenv("WHISPER_CONFIG"), "Config file (JSON or YAML)")
	serverStartCmd.Flags().String("source", os.Getenv("WHISPER_SOURCE_ENDPOINT"), "Event source HTTP endpoint")
	serverStartCmd.Flags().String("shard", "", "Shard name (default from config)")
	serverStartCmd.Flags().Uint64("finality-depth", 0, "Blocks required on top before events finalize (default from config)")
	serverStartCmd.Flags().String("log-level", os.Getenv("WHISPER_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("WHISPER_LOG_FORMAT"), "Log format: text|json")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	rootCmd.AddCommand(clientcmd.NewKeyCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewMessagesCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewGroupCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewCryptoCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("WHISPER_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

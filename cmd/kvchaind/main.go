package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chainkv/config"
	kvlog "chainkv/log"
	"chainkv/metrics"
	"chainkv/server"
	"chainkv/store"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var logger = kvlog.New(kvlog.Config{Level: kvlog.InfoLevel})

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "kvchaind",
	Short:   "chainkv — embedded transactional versioned key-value store daemon",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"kvchaind version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	logger = kvlog.New(kvlog.Config{Level: kvlog.Level(level), JSON: jsonOut})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the kvchaind version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("kvchaind version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chainkv server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgFile, _ := cmd.Flags().GetString("config")
		cfg := config.Defaults()
		if cfgFile != "" {
			loaded, err := config.Load(cfgFile, cfg)
			if err != nil {
				return err
			}
			cfg = loaded
		}

		if v, _ := cmd.Flags().GetString("log"); v != "" {
			cfg.LogPath = v
		}
		if v, _ := cmd.Flags().GetString("listen"); v != "" {
			cfg.ListenAddr = v
		}
		if sync, _ := cmd.Flags().GetBool("sync"); sync {
			cfg.SyncMode = "sync"
		}
		if flush, _ := cmd.Flags().GetBool("flush"); flush {
			cfg.SyncMode = "flush"
		}
		if cache, _ := cmd.Flags().GetBool("cache"); cache {
			cfg.SyncMode = "cache"
		}

		db, err := store.Open(cfg.LogPath,
			store.WithLogger(logger),
			store.WithSyncMode(cfg.ParseSyncMode()),
			store.WithMetrics(metrics.NewRecorder()),
		)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		defer db.Close()

		ln, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		defer ln.Close()

		srv := server.New(db, logger, cfg.MaxClientBytes)

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Serve(ln); err != nil {
				errCh <- err
			}
		}()

		go func() {
			http.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()

		logger.Info().
			Str("listen", cfg.ListenAddr).
			Str("metrics", cfg.MetricsAddr).
			Str("log_path", cfg.LogPath).
			Str("sync_mode", cfg.SyncMode).
			Msg("kvchaind serving")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("log", "", "Path to the append-only log file (overrides config)")
	serveCmd.Flags().String("listen", "", "Address to listen on (overrides config)")
	serveCmd.Flags().String("config", "", "Path to a YAML configuration file")
	serveCmd.Flags().Bool("sync", false, "Fsync every commit before acknowledging it (default)")
	serveCmd.Flags().Bool("flush", false, "Write every commit to the OS without fsync")
	serveCmd.Flags().Bool("cache", false, "Write every commit without fsync (see store.SyncModeCached)")
	serveCmd.MarkFlagsMutuallyExclusive("sync", "flush", "cache")
}

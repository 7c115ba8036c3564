package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caesarsage/chatcmd/internal/chatroom"
	"github.com/caesarsage/chatcmd/internal/config"
	"github.com/caesarsage/chatcmd/internal/logger"
	"github.com/caesarsage/chatcmd/internal/storage"
)

var (
	host     string
	port     int
	local    bool
	logLevel string
	pretty   bool
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the chat server",
	Long: `Runs a line-oriented TCP chat server. Users log in or register with
CONNECT <username> <password>, then chat with everyone online.

Settings come from the environment (and a .env file if present). Unless
--local is given, CHAT_DATABASE_PATH must point at the SQLite database.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&host, "host", "127.0.0.1", "Address to listen on")
	rootCmd.Flags().IntVar(&port, "port", 8000, "Port to listen on")
	rootCmd.Flags().BoolVar(&local, "local", false, "Use a fresh database under CHAT_DATA_DIR")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.Flags().BoolVar(&pretty, "pretty", false, "Human-readable log output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnvFile(config.DefaultEnvFile); err != nil {
		return err
	}
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	cfg.Host = host
	cfg.Port = port
	cfg.Local = local
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("pretty") {
		cfg.LogPretty = pretty
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Init(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log := logger.New("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("database", store.Path()).Bool("reset", cfg.Local).Msg("opened message store")

	srv := chatroom.New(chatroom.Config{
		IdleTimeout:      cfg.IdleTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		HistoryLimit:     cfg.HistoryLimit,
	}, store)

	log.Info().Str("addr", cfg.Addr()).Bool("local", cfg.Local).Msg("starting server")
	if err := srv.ListenAndServe(ctx, cfg.Addr()); err != nil {
		return err
	}
	log.Info().Dur("uptime", srv.Uptime()).Msg("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Server) (*storage.SQLiteStore, error) {
	store, err := storage.OpenSQLite(ctx, cfg.DatabaseFile())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Local {
		if err := store.Recreate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("reset local database: %w", err)
		}
	}
	return store, nil
}

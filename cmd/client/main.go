package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/muesli/cancelreader"
	"github.com/spf13/cobra"

	"github.com/caesarsage/chatcmd/internal/client"
	"github.com/caesarsage/chatcmd/internal/config"
	"github.com/caesarsage/chatcmd/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect to the chat server",
	Long: `Prompts for a username and password, then opens a full-screen chat.

Type a message and press Enter to send it. \LOAD <n> fetches n older
messages, \q quits. CHAT_SERVER_ADDR selects the server.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) (err error) {
	if err := config.LoadEnvFile(config.DefaultEnvFile); err != nil {
		return err
	}
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	closeLog, err := initLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	log := logger.New("client")

	input, err := cancelreader.NewReader(os.Stdin)
	if err != nil {
		return fmt.Errorf("open stdin: %w", err)
	}
	defer input.Close()

	screen, err := client.OpenTerminal(os.Stdin, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		r := recover()
		screen.Restore()
		if r != nil {
			err = fmt.Errorf("client panic: %v", r)
			log.Error().Err(err).Msg("terminal restored after panic")
		}
	}()

	session := client.NewSession(client.Options{
		Policy: client.Policy{
			Base:       cfg.AckBase,
			Step:       cfg.AckStep,
			MaxRetries: cfg.AckRetries,
		},
		Screen:      screen,
		Input:       input,
		CancelInput: func() { input.Cancel() },
		Dial:        client.DialTCP(cfg.ServerAddr),
		Log:         log,
	})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	return session.Run(ctx)
}

// initLogging sends logs to CHAT_CLIENT_LOG, or nowhere, so they never
// draw over the chat screen.
func initLogging(cfg config.Client) (func(), error) {
	if cfg.LogFile == "" {
		logger.Init(logger.Config{Level: "disabled", Output: io.Discard})
		return func() {}, nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open client log: %w", err)
	}
	logger.Init(logger.Config{Level: cfg.LogLevel, Output: f})
	return func() { f.Close() }, nil
}

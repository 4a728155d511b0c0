package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	CommitSHA = "unknown"
)

const shutdownTimeout = 15 * time.Second

var (
	envFile   string
	tokenFile string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:          "discord-radio-bot [flags]",
	Short:        "Plays radio streams and YouTube tracks in Discord voice channels",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "version=%s commit=%s\n", Version, CommitSHA)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.Flags().StringVar(&tokenFile, "token-file", "", "file holding the bot token (overrides TOKEN_FILE)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command until it returns or the process is signalled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	config, err := LoadConfig(envFile)
	if err != nil {
		return err
	}
	if tokenFile != "" {
		config.TokenFile = tokenFile
	}
	if logLevel != "" {
		if config.LogLevel, err = parseLevel(logLevel); err != nil {
			return err
		}
	}

	log, logFile, err := setupLogging(config)
	if err != nil {
		return err
	}
	defer logFile.Close()

	if err := config.Validate(log); err != nil {
		return err
	}

	token, err := loadToken(config)
	if errors.Is(err, ErrTokenPlaceholder) {
		color.New(color.FgYellow, color.Bold).Fprintf(os.Stderr, "Put your Discord bot token in %s and start the bot again.\n", config.TokenFile)
		return err
	}
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "%v\n", err)
		return err
	}

	if config.YtDlpInstall {
		if err := ensureYtdlp(ctx, log); err != nil {
			return err
		}
	}

	bot, err := NewBot(ctx, token, config, log)
	if err != nil {
		return err
	}
	if err := bot.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	bot.Stop(shutdownCtx)
	return nil
}

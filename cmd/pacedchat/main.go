package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ent0n29/pacedchat/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pacedchat",
		Short: "Chat service that reveals assistant replies chunk by chunk",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Local development reads .env; real environments set variables directly.
			_ = godotenv.Load()
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCommand(), newChatCommand())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and configures the global logger.
func loadConfig(console bool) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)
	if console {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "pacedchat").Logger()
	}
	return cfg, nil
}

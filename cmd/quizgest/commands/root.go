package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgallion1/quizgest/internal/app"
	"github.com/dgallion1/quizgest/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	provider string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "quizgest",
	Short: "Turn scanned test papers into multiple-choice questions",
	Long: `quizgest renders every page of a test paper, reads its text, and asks a
multimodal model to pull out the multiple-choice questions, answers and diagrams.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&provider, "provider", "", "model provider (gemini, claude, openai)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline events to stderr")
}

// Execute runs the root command and prints any error.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// loadConfig applies flag overrides on top of file and environment.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if provider != "" {
		cfg.ModelProvider = provider
	}
	return cfg, nil
}

func cliLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelError
	if verbose {
		level = cfg.SlogLevel()
	}
	return app.NewLogger(os.Stderr, false, level)
}

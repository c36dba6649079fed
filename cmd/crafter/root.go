package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"crafter/internal/app"
	"crafter/internal/infra"
	"crafter/internal/notify"
)

var (
	flagDataDir string
	flagNoColor bool
	flagVerbose bool
	flagQuiet   bool
)

var rootCmd = &cobra.Command{
	Use:           "crafter",
	Short:         "Craft characters from an idea: profile, card, image prompt and image",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		_ = godotenv.Load()

		cfg, err := infra.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if flagDataDir != "" {
			cfg.DataDir = flagDataDir
		}
		// Command output goes to stdout; logs stay on stderr and quiet unless asked.
		logger := infra.NewLoggerTo(os.Stderr, cfg.AppEnv).Level(zerolog.WarnLevel)
		if flagVerbose {
			logger = logger.Level(zerolog.DebugLevel)
		}

		var notifier notify.Notifier
		if !flagQuiet {
			notifier = notify.NewConsole(cmd.ErrOrStderr(), flagNoColor)
		}
		instance, err := app.New(cfg, &logger, notifier)
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}
		cmd.SetContext(context.WithValue(cmd.Context(), appKey, instance))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		a, err := appFrom(cmd.Context())
		if err != nil {
			return nil
		}
		if flagQuiet {
			printNotifications(cmd.ErrOrStderr(), a.Notifications)
		}
		return a.Close()
	},
}

type contextKey string

const appKey contextKey = "app"

func appFrom(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application instance not found in context")
	}
	return a, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "directory for settings and projects (default $DATA_DIR or .crafter)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable coloured notifications")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log at debug level")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "hold notifications and print the ones still visible when the command ends")
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/matchday-crawler/internal/app"
	"github.com/JakeFAU/matchday-crawler/internal/config"
	"github.com/JakeFAU/matchday-crawler/internal/logging"
)

const closeTimeout = 10 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// appOptions are passed to app.New. Tests replace the browser driver here.
var appOptions []app.Option

// newRootCmd creates the root command. The returned function closes the
// application the command built, if any; it must run even when the command
// fails.
func newRootCmd() (*cobra.Command, func() error) {
	var (
		cfgFile string
		built   *app.App
	)
	cmd := &cobra.Command{
		Use:   "matchday",
		Short: "Collects football league schedules and results.",
		Long: `matchday crawls monthly schedule and result data for a list of leagues
through a pool of headless browser contexts, normalizes every match into a
stable record, and hands the reports to storage, artifacts and Pub/Sub.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Build the application once config is known, before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			appInstance, err := app.New(cmd.Context(), cfg, logger, appOptions...)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			built = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); MATCHDAY_* env vars override it")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())

	closeApp := func() error {
		if built == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		err := built.Close(ctx)
		// Sync fails on console file descriptors; nothing to do about it.
		_ = built.Logger.Sync()
		built = nil
		return err
	}
	return cmd, closeApp
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// run executes the CLI with args, writing command output to out.
func run(ctx context.Context, args []string, out io.Writer) error {
	root, closeApp := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, closeApp())
}

// Execute is the main entry point.
func Execute() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
	"github.com/JakeFAU/matchday-crawler/internal/session"
)

type crawlFlags struct {
	windows     []string
	from        string
	to          string
	leagues     []string
	concurrency int
	skipPersist bool
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one session in the
// foreground and prints a per-league summary.
func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl session and prints a per-league summary",
		Long: `Crawls every configured league over the requested months using the
execution context pool, then persists the reports through the configured
store, artifact backend, Pub/Sub topic and cache.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, f)
		},
	}
	cmd.Flags().StringSliceVar(&f.windows, "window", nil, "month to crawl as YYYY-MM (repeatable)")
	cmd.Flags().StringVar(&f.from, "from", "", "first month of a range (YYYY-MM)")
	cmd.Flags().StringVar(&f.to, "to", "", "last month of a range (YYYY-MM)")
	cmd.Flags().StringSliceVar(&f.leagues, "league", nil, "restrict the crawl to these league ids")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "pages in flight (defaults to crawler.concurrency)")
	cmd.Flags().BoolVar(&f.skipPersist, "no-persist", false, "print the summary without persisting reports")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, f crawlFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger

	windows, err := resolveWindows(f, appInstance.Windows)
	if err != nil {
		return err
	}
	entities, err := selectLeagues(appInstance.Leagues, f.leagues)
	if err != nil {
		return err
	}
	concurrency := f.concurrency
	if concurrency == 0 {
		concurrency = appInstance.Config.Crawler.Concurrency
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := appInstance.Session.Run(ctx, entities, windows, concurrency)
	if err != nil {
		return fmt.Errorf("run crawl session: %w", err)
	}
	for _, w := range res.Warnings {
		logger.Warn("crawl warning", zap.String("warning", w))
	}

	if !f.skipPersist && len(res.Reports) > 0 {
		// Persist even when the signal already fired; the crawl work is done.
		delivery, err := appInstance.Handoff.Deliver(context.WithoutCancel(ctx), "", res)
		if err != nil {
			return fmt.Errorf("persist crawl results: %w", err)
		}
		for _, e := range delivery.Errors {
			logger.Warn("hand-off step failed", zap.String("error", e))
		}
		logger.Info("crawl results persisted",
			zap.Int("artifacts", len(delivery.Artifacts)),
			zap.String("message_id", delivery.MessageID),
			zap.Int("cache_keys_invalidated", delivery.Invalidated),
		)
	}

	if err := printSummary(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	logger.Info("crawl command finished", zap.String("session_id", res.SessionID.String()))
	return nil
}

func resolveWindows(f crawlFlags, defaults []string) ([]string, error) {
	switch {
	case len(f.windows) > 0:
		for _, w := range f.windows {
			if _, err := crawler.ParseWindowKey(w); err != nil {
				return nil, err
			}
		}
		return f.windows, nil
	case f.from != "" || f.to != "":
		if f.from == "" || f.to == "" {
			return nil, errors.New("--from and --to must be set together")
		}
		return crawler.MonthRange(f.from, f.to)
	case len(defaults) > 0:
		return defaults, nil
	default:
		return nil, errors.New("no windows: pass --window or --from/--to, or set crawler.windows")
	}
}

func selectLeagues(all []crawler.EntityConfig, ids []string) ([]crawler.EntityConfig, error) {
	if len(ids) == 0 {
		return all, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []crawler.EntityConfig
	for _, e := range all {
		if want[e.ID] {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("none of the requested leagues %v are configured", ids)
	}
	return out, nil
}

func printSummary(w io.Writer, res session.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LEAGUE\tLABEL\tCOMPLETED\tSCHEDULED\tWINDOWS\tFAILED")
	for _, r := range res.Reports {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
			r.EntityID, r.EntityLabel, r.Completed, r.Scheduled, r.WindowsAttempted, r.WindowsFailed)
	}
	t := res.Totals
	fmt.Fprintf(tw, "TOTAL\t%d leagues\t%d\t%d\t%d\t%d\n",
		t.Entities, t.Completed, t.Scheduled, t.Windows, t.FailedWindows)
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("print summary: %w", err)
	}
	return nil
}

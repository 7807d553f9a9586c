package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-poi-crawler/internal/bulk"
	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

const progressBarWidth = 20

type searchOptions struct {
	regions     []string
	all         bool
	concurrency int
	delayMinMs  int
	delayMaxMs  int
	output      string
	events      bool
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	opts := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Run one bulk search in the foreground",
		Long: `Searches one keyword across the given regions (provinces expand to
their cities) or across every known city with --all, prints a progress bar
while regions finish, and stores the aggregate in the configured backend.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, root, opts, args[0])
		},
	}
	cmd.Flags().StringSliceVar(&opts.regions, "regions", nil, "comma separated cities or provinces")
	cmd.Flags().BoolVar(&opts.all, "all", false, "search every city in the region table")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "regions searched at once (default from config)")
	cmd.Flags().IntVar(&opts.delayMinMs, "delay-min", 0, "minimum pause before each request in ms (default from config)")
	cmd.Flags().IntVar(&opts.delayMaxMs, "delay-max", 0, "maximum pause before each request in ms (default from config)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "also write the saved aggregate as JSON to this file")
	cmd.Flags().BoolVar(&opts.events, "events", false, "print job events as JSON lines after the run")
	return cmd
}

func runSearch(cmd *cobra.Command, root *rootOptions, opts *searchOptions, keyword string) error {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return bulk.ErrEmptyKeyword
	}
	app, cfg, err := root.loadApp(cmd.Context())
	if err != nil {
		return err
	}
	closeApp := func() {
		timeout := cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		app.Close(ctx)
	}
	defer closeApp()

	var regions []string
	switch {
	case opts.all:
		regions = app.Regions().AllCities()
	default:
		regions = app.Regions().ExpandRegions(opts.regions)
	}
	if len(regions) == 0 {
		return errors.New("no regions to search: pass --regions or --all")
	}

	stderr := cmd.ErrOrStderr()
	bulkOpts := bulk.Options{
		MaxConcurrency: opts.concurrency,
		OnProgress: func(u bulk.Update) {
			fmt.Fprintf(stderr, "\r%s", progressBar(u.Completed, u.Total, u.Region))
		},
	}
	if cmd.Flags().Changed("delay-min") || cmd.Flags().Changed("delay-max") {
		lo, hi := opts.delayMinMs, opts.delayMaxMs
		if hi < lo {
			hi = lo
		}
		bulkOpts.Delay = poi.DelayWindow{
			Min: time.Duration(lo) * time.Millisecond,
			Max: time.Duration(hi) * time.Millisecond,
		}
		bulkOpts.NoDelay = hi <= 0
	}

	app.Logger().Info("bulk search started",
		zap.String("keyword", keyword),
		zap.Int("regions", len(regions)),
	)
	job, out, err := app.Service().Run(cmd.Context(), keyword, regions, bulkOpts)
	fmt.Fprintln(stderr)
	if err != nil {
		return fmt.Errorf("bulk search %s: %w", keyword, err)
	}

	printSummary(cmd.OutOrStdout(), job, out)

	if opts.output != "" {
		if err := writeAggregate(cmd.Context(), app.Results(), keyword, out.SearchDate, opts.output); err != nil {
			return err
		}
	}

	if opts.events {
		closeApp()
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, msg := range app.Notifications() {
			if err := enc.Encode(msg.Payload); err != nil {
				return fmt.Errorf("print event: %w", err)
			}
		}
	}
	return nil
}

// progressBar renders "#####---------------  25% region" for current of
// total finished regions.
func progressBar(current, total int, region string) string {
	pct, filled := 0, 0
	if total > 0 {
		pct = int(math.Round(float64(current) / float64(total) * 100))
		filled = int(math.Round(float64(progressBarWidth*current) / float64(total)))
	}
	filled = min(max(filled, 0), progressBarWidth)
	bar := strings.Repeat("#", filled) + strings.Repeat("-", progressBarWidth-filled)
	line := fmt.Sprintf("%s %3d%%", bar, pct)
	if region != "" {
		line += " " + region
	}
	return line
}

func printSummary(w io.Writer, job poi.Job, out bulk.Outcome) {
	fmt.Fprintf(w, "task:     %s\n", job.ID)
	fmt.Fprintf(w, "keyword:  %s\n", out.Keyword)
	fmt.Fprintf(w, "regions:  %d\n", len(out.Regions))
	fmt.Fprintf(w, "total:    %d\n", out.Total)
	fmt.Fprintf(w, "saved to: %s\n", out.Handle)
	for _, row := range out.Breakdown {
		fmt.Fprintf(w, "  %s\t%d\n", row.Region, row.Count)
	}
}

func writeAggregate(ctx context.Context, store poi.ResultStore, keyword string, day time.Time, path string) error {
	agg, err := store.Load(ctx, keyword, day)
	if err != nil {
		return fmt.Errorf("load saved aggregate: %w", err)
	}
	body, err := json.MarshalIndent(agg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode aggregate: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

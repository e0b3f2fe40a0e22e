package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/app"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/service"
)

const progressInterval = 200 * time.Millisecond

type crawlOptions struct {
	strategy   string
	maxPages   int
	maxDepth   int
	timeout    time.Duration
	urlFile    string
	noProgress bool
}

func newCrawlCmd(root *rootOptions) *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl [flags] URL...",
		Short: "Run a single crawl and print its result",
		Long: `Crawls from the given seed URLs in-process, shows a progress bar on stderr
and writes the final crawl snapshot as JSON to stdout. Interrupting the
command stops the crawl and still prints the partial result.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, root, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.strategy, "strategy", string(crawler.StrategySingleDomain), "SINGLE_DOMAIN or MULTI_DOMAIN")
	f.IntVar(&opts.maxPages, "max-pages", 0, "maximum pages to record (default from config)")
	f.IntVar(&opts.maxDepth, "max-depth", -1, "maximum link depth (default from config)")
	f.DurationVar(&opts.timeout, "timeout", 0, "crawl timeout (default from config)")
	f.StringVarP(&opts.urlFile, "file", "f", "", "read additional seed URLs from a file, one per line")
	f.BoolVar(&opts.noProgress, "no-progress", false, "disable the progress bar")
	return cmd
}

func runCrawl(cmd *cobra.Command, root *rootOptions, opts *crawlOptions, args []string) error {
	urls := append([]string(nil), args...)
	if opts.urlFile != "" {
		fromFile, err := readURLFile(opts.urlFile)
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return errors.New("at least one URL is required")
	}

	req := service.Request{
		URLs:     urls,
		Strategy: crawler.Strategy(opts.strategy),
		MaxPages: opts.maxPages,
		MaxDepth: opts.maxDepth,
		Timeout:  opts.timeout,
	}
	if req.MaxPages <= 0 {
		req.MaxPages = root.cfg.Crawl.DefaultMaxPages
	}
	if req.MaxDepth < 0 {
		req.MaxDepth = root.cfg.Crawl.DefaultMaxDepth
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, root.cfg, root.logger)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			root.logger.Warn("close application", zap.Error(cerr))
		}
	}()

	svc := a.Service()
	id, err := svc.StartCrawl(ctx, req)
	if err != nil {
		return fmt.Errorf("start crawl: %w", err)
	}

	var progressOut io.Writer = cmd.ErrOrStderr()
	if opts.noProgress {
		progressOut = io.Discard
	}
	snap, err := waitForCrawl(ctx, svc, id, progressOut)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if snap.Status == crawler.StatusFailed {
		return fmt.Errorf("crawl %s failed: %s", id, snap.Error)
	}
	return nil
}

// crawlWatcher is the part of the crawl service waitForCrawl polls.
type crawlWatcher interface {
	Status(ctx context.Context, id string) (crawler.Snapshot, error)
	Stop(ctx context.Context, id string) (bool, error)
	ActiveCount() int
}

var _ crawlWatcher = (*service.Service)(nil)

// waitForCrawl renders progress until the crawl is finalized and returns the
// snapshot read after finalization, which comes from the result store.
// Cancelling ctx stops the crawl instead of abandoning it.
func waitForCrawl(ctx context.Context, svc crawlWatcher, id string, out io.Writer) (crawler.Snapshot, error) {
	progress := mpb.New(mpb.WithOutput(out), mpb.WithWidth(48))
	bar := progress.AddBar(0,
		mpb.BarOptional(mpb.BarRemoveOnComplete(), false),
		mpb.PrependDecorators(
			decor.Name("crawl", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.CountersNoUnit("[%d / %d]", decor.WCSyncWidth),
			decor.Percentage(decor.WCSyncSpace),
			decor.OnComplete(
				decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace), "done",
			),
		),
	)

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	done := ctx.Done()
	for {
		// Sampled before Status so a finalized crawl is always read back from
		// the store rather than from the live scheduler.
		finalized := svc.ActiveCount() == 0
		snap, err := svc.Status(context.WithoutCancel(ctx), id)
		if err != nil {
			bar.Abort(false)
			progress.Wait()
			return crawler.Snapshot{}, fmt.Errorf("crawl status: %w", err)
		}
		bar.SetTotal(int64(snap.MaxPages), false)
		bar.SetCurrent(int64(snap.ProcessedPages))
		if finalized {
			bar.SetTotal(-1, true)
			progress.Wait()
			return snap, nil
		}

		select {
		case <-done:
			if _, err := svc.Stop(context.WithoutCancel(ctx), id); err != nil {
				zap.L().Warn("stop crawl", zap.String("crawl_id", id), zap.Error(err))
			}
			done = nil
		case <-ticker.C:
		}
	}
}

func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	urls, err := service.ParseURLList(f)
	if err != nil {
		return nil, fmt.Errorf("parse url file: %w", err)
	}
	return urls, nil
}

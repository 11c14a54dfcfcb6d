package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/timmy/mpcrawl/internal/app"
	"github.com/timmy/mpcrawl/internal/domain"
	"github.com/timmy/mpcrawl/internal/progress"
)

type runOptions struct {
	account           string
	delay             time.Duration
	maxRetries        int
	concurrency       int
	maxPages          int
	policy            string
	updateOnDuplicate bool
	quiet             bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl one account and wait for the task to finish",
		Long: `Run starts a crawl task for one account, prints progress events as they
arrive and a summary table at the end. Ctrl-C cancels the task.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.setup()
			if err != nil {
				return err
			}
			taskOpts := cfg.Crawler.TaskOptions()
			flags := cmd.Flags()
			if flags.Changed("delay") {
				taskOpts.CrawlDelay = opts.delay
			}
			if flags.Changed("max-retries") {
				taskOpts.MaxRetries = opts.maxRetries
			}
			if flags.Changed("concurrency") {
				taskOpts.MaxConcurrentRequests = opts.concurrency
			}
			if flags.Changed("max-pages") {
				taskOpts.MaxPages = opts.maxPages
			}
			if flags.Changed("policy") {
				taskOpts.FingerprintPolicy = domain.FingerprintPolicy(opts.policy)
			}
			if flags.Changed("update-on-duplicate") {
				taskOpts.UpdateOnDuplicate = opts.updateOnDuplicate
			}
			account := opts.account
			if account == "" {
				account = cfg.Crawler.DefaultAccount
			}

			ctx := log.WithContext(cmd.Context())
			application, err := app.New(ctx, cfg, log, app.Options{SkipScheduler: true})
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = application.Shutdown(shutdownCtx)
			}()

			task, err := runTask(ctx, application, account, taskOpts, progressWriter(cmd.OutOrStdout(), opts.quiet))
			if err != nil {
				return err
			}
			renderSummary(cmd.OutOrStdout(), task)
			if task.Status == domain.TaskStatusFailed {
				return fmt.Errorf("task %s failed", task.ID)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.account, "account", "a", "", "account to crawl (default crawler.default_account)")
	flags.DurationVar(&opts.delay, "delay", domain.DefaultCrawlDelay, "pause between requests")
	flags.IntVar(&opts.maxRetries, "max-retries", domain.DefaultMaxRetries, "attempts per request and consecutive failures tolerated")
	flags.IntVar(&opts.concurrency, "concurrency", domain.DefaultMaxConcurrentRequests, "article fetches in flight")
	flags.IntVar(&opts.maxPages, "max-pages", 0, "list pages to walk, 0 for all")
	flags.StringVar(&opts.policy, "policy", string(domain.FingerprintURL), "fingerprint policy: url or url_and_content")
	flags.BoolVar(&opts.updateOnDuplicate, "update-on-duplicate", false, "refresh counters of already stored articles")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "print only the summary")
	return cmd
}

// runTask starts a task, forwards its events to onEvent and returns the
// final task. Cancelling ctx stops the task.
func runTask(ctx context.Context, a *app.App, account string, opts domain.TaskOptions, onEvent func(domain.ProgressEvent)) (domain.Task, error) {
	sub := a.Events.Subscribe()
	defer sub.Close()

	id, err := a.Tasks.StartTask(ctx, account, opts)
	if err != nil {
		return domain.Task{}, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		forward(sub, id, onEvent)
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = a.Tasks.StopTask(id)
		case <-done:
		}
	}()

	// The terminal event is published before Wait returns, so closing the
	// subscription afterwards only ends the relay once it is drained.
	task, err := a.Tasks.Wait(context.WithoutCancel(ctx), id)
	sub.Close()
	<-done
	return task, err
}

// forward relays the events of one task until its terminal event.
func forward(sub *progress.Subscription, id string, onEvent func(domain.ProgressEvent)) {
	for ev := range sub.Events() {
		if ev.TaskID != id {
			continue
		}
		if onEvent != nil {
			onEvent(ev)
		}
		if ev.Kind.Terminal() {
			return
		}
	}
}

func progressWriter(w io.Writer, quiet bool) func(domain.ProgressEvent) {
	if quiet {
		return nil
	}
	return func(ev domain.ProgressEvent) {
		fmt.Fprintln(w, formatEvent(ev))
	}
}

func formatEvent(ev domain.ProgressEvent) string {
	p := ev.Payload
	counters := fmt.Sprintf("[%d ok / %d dup / %d err]", p.Processed, p.Duplicates, p.Errors)
	switch ev.Kind {
	case domain.EventItemProcessed:
		return fmt.Sprintf("%4d %s saved     %s (%s)", ev.Sequence, counters, p.Title, p.Category)
	case domain.EventItemDuplicate:
		return fmt.Sprintf("%4d %s duplicate %s", ev.Sequence, counters, p.Title)
	case domain.EventItemFailed:
		return fmt.Sprintf("%4d %s failed    %s: %s", ev.Sequence, counters, p.URL, p.Error)
	case domain.EventTaskFailed:
		return fmt.Sprintf("%4d %s task failed: %s", ev.Sequence, counters, p.Error)
	default:
		return fmt.Sprintf("%4d %s %s", ev.Sequence, counters, ev.Kind)
	}
}

func renderSummary(w io.Writer, task domain.Task) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Task", "Account", "Status", "Processed", "Duplicates", "Errors", "Duration"})

	duration := "-"
	if task.StartedAt != nil && task.EndedAt != nil {
		duration = task.EndedAt.Sub(*task.StartedAt).Round(time.Millisecond).String()
	}
	t.AppendRow(table.Row{
		task.ID,
		task.AccountName,
		task.Status,
		task.ProcessedCount,
		task.DuplicateCount,
		task.ErrorCount,
		duration,
	})
	if task.LastError != nil {
		t.AppendFooter(table.Row{"Last error", *task.LastError})
	}
	t.Render()
}

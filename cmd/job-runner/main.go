// Package main implements the job-runner CLI for running dispatch cycles by
// hand, bypassing the scheduler.
//
// This tool is intended for local development, backfilling a single podcast
// after fixing its credentials, and operational debugging.
//
// Usage:
//
//	go run ./cmd/job-runner --once
//	go run ./cmd/job-runner --account=42 --source=podigee
//	go run ./cmd/job-runner --list
//
// Configuration is read from the environment (or a .env file via godotenv),
// exactly as connector-manager reads it. Exit code 0 means every task
// succeeded or was skipped; 1 means configuration is missing, the collector
// is unavailable or at least one task failed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"podconnect/internal/app"
	"podconnect/internal/db"
	"podconnect/internal/scheduler"
)

type options struct {
	once      bool
	list      bool
	accountID int64
	source    string
}

func main() {
	var opts options
	flag.BoolVar(&opts.once, "once", false, "Run one full dispatch cycle")
	flag.BoolVar(&opts.list, "list", false, "List configured tasks and exit")
	flag.Int64Var(&opts.accountID, "account", 0, "Account id of a single task to run (requires --source)")
	flag.StringVar(&opts.source, "source", "", "Source of a single task to run (requires --account)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Run podcast connector tasks directly.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := opts.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func (o options) validate() error {
	targeted := o.accountID != 0 || o.source != ""
	modes := 0
	for _, set := range []bool{o.once, o.list, targeted} {
		if set {
			modes++
		}
	}
	switch {
	case modes == 0:
		return errors.New("one of --once, --list or --account/--source is required")
	case modes > 1:
		return errors.New("--once, --list and --account/--source are mutually exclusive")
	case targeted && (o.accountID <= 0 || o.source == ""):
		return errors.New("--account and --source must be given together")
	}
	return nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	cfg, logger, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.list {
		rows, err := a.Tasks.ListSources(ctx)
		if err != nil {
			return err
		}
		printTasks(out, rows)
		return nil
	}

	var report *scheduler.CycleReport
	if opts.once {
		report, err = a.Dispatcher.DispatchAll(ctx)
	} else {
		report, err = a.Dispatcher.DispatchOne(ctx, opts.accountID, opts.source)
	}
	if err != nil {
		return err
	}

	printReport(out, report)
	if report.Failed() {
		return app.ErrTasksFailed
	}
	return nil
}

// printTasks lists task identities only. Credentials are never decrypted.
func printTasks(w io.Writer, rows []db.SourceRow) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tSOURCE\tPODCAST\tSOURCE PODCAST ID")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.AccountID, r.SourceName, r.PodName, r.SourcePodcastID)
	}
	_ = tw.Flush()
}

func printReport(w io.Writer, report *scheduler.CycleReport) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tSOURCE\tSTATUS\tATTEMPTS\tPOSTED\tSKIPPED\tFAILED\tREASON")
	for _, o := range report.Outcomes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			o.AccountID, o.Source, o.Status, o.Attempts,
			o.Items.Posted, o.Items.Skipped, o.Items.Failed, o.Reason)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\ncycle %s: %d succeeded, %d failed, %d skipped in %s\n",
		report.CycleID, report.Summary.Succeeded, report.Summary.Failed, report.Summary.Skipped,
		report.Duration.Round(time.Millisecond))
}

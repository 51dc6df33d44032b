// Command ledgercheck verifies the stock ledger and manages background jobs.
//
//	ledgercheck [-json] [-all]             replay every scope and report mismatches
//	ledgercheck jobs trigger NAME [-bill ID] enqueue einvoice:sync or ledger:verify
//	ledgercheck jobs stats                  print queue depths
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/siddharthggs/mediggs-sub000/cmd/mediggs/cli"
	"github.com/siddharthggs/mediggs-sub000/internal/app"
	"github.com/siddharthggs/mediggs-sub000/internal/inventory"
	"github.com/siddharthggs/mediggs-sub000/internal/platform/db"
	"github.com/siddharthggs/mediggs-sub000/internal/platform/lock"
	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgercheck: load config: %v\n", err)
		return cli.ExitError
	}
	logger := app.NewLogger(cfg)

	if len(args) > 0 && args[0] == "jobs" {
		return runJobs(ctx, cfg, args[1:])
	}

	fs := flag.NewFlagSet("ledgercheck", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print a JSON summary")
	showAll := fs.Bool("all", false, "list every scope, not only failing ones")
	if err := fs.Parse(args); err != nil {
		return cli.ExitError
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return cli.ExitError
	}
	defer pool.Close()

	// Verification only reads; the locker is never taken.
	ledger := inventory.NewService(inventory.NewRepository(pool), lock.NewMemoryLocker(cfg.LockWait),
		shared.NewLogAuditor(logger), nil, logger)
	ledgerCLI, err := cli.NewLedgerCLI(ledger)
	if err != nil {
		logger.Error("init ledger cli", slog.Any("error", err))
		return cli.ExitError
	}
	return ledgerCLI.VerifyCommand(ctx, cli.VerifyOptions{JSONOutput: *jsonOut, ShowAll: *showAll})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ledgercheck jobs trigger NAME [-bill ID] | jobs stats")
		return cli.ExitError
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgercheck: %v\n", err)
		return cli.ExitError
	}
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: ledgercheck jobs trigger NAME [-bill ID]")
			return cli.ExitError
		}
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		billID := fs.Int64("bill", 0, "sync a single bill")
		if err := fs.Parse(args[2:]); err != nil {
			return cli.ExitError
		}
		info, err := jobsCLI.Trigger(ctx, args[1], *billID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ledgercheck: trigger %s: %v\n", args[1], err)
			return cli.ExitError
		}
		if info == nil {
			fmt.Printf("%s already pending\n", args[1])
			break
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ledgercheck: inspect queues: %v\n", err)
			return cli.ExitError
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY")
		for _, s := range stats {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
		}
		_ = tw.Flush()
	default:
		fmt.Fprintf(os.Stderr, "ledgercheck: unknown jobs command %q\n", args[0])
		return cli.ExitError
	}
	return cli.ExitOK
}

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/siddharthggs/mediggs-sub000/internal/inventory"
	"github.com/siddharthggs/mediggs-sub000/jobs"
)

// Exit codes of VerifyCommand.
const (
	ExitOK            = 0
	ExitError         = 1
	ExitDiscrepancies = 10
)

// LedgerCLI runs ledger maintenance commands.
type LedgerCLI struct {
	ledger jobs.LedgerVerifier
}

// NewLedgerCLI wraps a ledger verifier.
func NewLedgerCLI(ledger jobs.LedgerVerifier) (*LedgerCLI, error) {
	if ledger == nil {
		return nil, errors.New("ledger cli: verifier required")
	}
	return &LedgerCLI{ledger: ledger}, nil
}

// VerifyOptions defines available flags for the verify command.
type VerifyOptions struct {
	JSONOutput bool
	ShowAll    bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// VerifySummary is the JSON response of the verify command.
type VerifySummary struct {
	OK            bool           `json:"ok"`
	Scopes        int            `json:"scopes"`
	Discrepancies []ScopeProblem `json:"discrepancies"`
}

// ScopeProblem is one failing ledger scope.
type ScopeProblem struct {
	ProductID   int64    `json:"product_id"`
	BatchID     int64    `json:"batch_id"`
	WarehouseID int64    `json:"warehouse_id"`
	Entries     int      `json:"entries"`
	Sum         string   `json:"sum"`
	Balance     string   `json:"balance"`
	Problems    []string `json:"problems"`
}

// VerifyCommand replays every scope and prints the outcome. It returns
// ExitDiscrepancies when at least one scope fails.
func (c *LedgerCLI) VerifyCommand(ctx context.Context, opts VerifyOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	results, bad, err := jobs.Verify(ctx, c.ledger, nil)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger verify: %v\n", err)
		return ExitError
	}
	summary := buildVerifySummary(results, bad)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger verify: encode json: %v\n", err)
			return ExitError
		}
	} else {
		renderVerifyHuman(opts.Stdout, results, summary, opts.ShowAll)
	}
	if !summary.OK {
		return ExitDiscrepancies
	}
	return ExitOK
}

func buildVerifySummary(results, bad []inventory.Verification) VerifySummary {
	problems := make([]ScopeProblem, 0, len(bad))
	for _, v := range bad {
		problems = append(problems, ScopeProblem{
			ProductID:   v.Scope.ProductID,
			BatchID:     v.Scope.BatchID,
			WarehouseID: v.Scope.WarehouseID,
			Entries:     v.Entries,
			Sum:         v.Sum.String(),
			Balance:     v.Balance.String(),
			Problems:    v.Problems,
		})
	}
	sort.Slice(problems, func(i, j int) bool {
		a, b := problems[i], problems[j]
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		if a.WarehouseID != b.WarehouseID {
			return a.WarehouseID < b.WarehouseID
		}
		return a.BatchID < b.BatchID
	})
	return VerifySummary{OK: len(problems) == 0, Scopes: len(results), Discrepancies: problems}
}

func renderVerifyHuman(w io.Writer, results []inventory.Verification, summary VerifySummary, showAll bool) {
	if summary.OK {
		_, _ = fmt.Fprintf(w, "ledger OK: %d scopes verified\n", summary.Scopes)
	} else {
		_, _ = fmt.Fprintf(w, "ledger FAILED: %d of %d scopes inconsistent\n", len(summary.Discrepancies), summary.Scopes)
	}
	if !showAll && summary.OK {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PRODUCT\tBATCH\tWAREHOUSE\tENTRIES\tSUM\tBALANCE\tSTATUS")
	if showAll {
		for _, v := range results {
			status := "ok"
			if !v.OK() {
				status = "FAIL"
			}
			_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\t%s\t%s\n",
				v.Scope.ProductID, v.Scope.BatchID, v.Scope.WarehouseID, v.Entries, v.Sum, v.Balance, status)
		}
	} else {
		for _, p := range summary.Discrepancies {
			_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\t%s\tFAIL\n",
				p.ProductID, p.BatchID, p.WarehouseID, p.Entries, p.Sum, p.Balance)
		}
	}
	_ = tw.Flush()
	for _, p := range summary.Discrepancies {
		for _, msg := range p.Problems {
			_, _ = fmt.Fprintf(w, "  product %d batch %d warehouse %d: %s\n", p.ProductID, p.BatchID, p.WarehouseID, msg)
		}
	}
}

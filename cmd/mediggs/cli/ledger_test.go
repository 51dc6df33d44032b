package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siddharthggs/mediggs-sub000/internal/inventory"
	"github.com/siddharthggs/mediggs-sub000/jobs"
)

type stubLedger struct {
	results []inventory.Verification
	err     error
}

func (s stubLedger) VerifyAll(context.Context) ([]inventory.Verification, error) {
	return s.results, s.err
}

func scope(product, batch int64, sum, balance int64, problems ...string) inventory.Verification {
	return inventory.Verification{
		Scope:    inventory.Scope{ProductID: product, BatchID: batch, WarehouseID: 1},
		Entries:  2,
		Sum:      decimal.NewFromInt(sum),
		Balance:  decimal.NewFromInt(balance),
		Problems: problems,
	}
}

func TestVerifyCommandJSONSuccess(t *testing.T) {
	cli, err := NewLedgerCLI(stubLedger{results: []inventory.Verification{scope(1, 1, 5, 5), scope(2, 0, 3, 3)}})
	require.NoError(t, err)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := cli.VerifyCommand(context.Background(), VerifyOptions{JSONOutput: true, Stdout: stdout, Stderr: stderr})
	require.Equal(t, ExitOK, code, stderr.String())

	var summary VerifySummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	assert.True(t, summary.OK)
	assert.Equal(t, 2, summary.Scopes)
	assert.Empty(t, summary.Discrepancies)
}

func TestVerifyCommandReportsDiscrepancies(t *testing.T) {
	cli, err := NewLedgerCLI(stubLedger{results: []inventory.Verification{
		scope(3, 9, 4, 6, "sum 4 does not match balance 6"),
		scope(1, 1, 5, 5),
		scope(2, 7, -1, -1, "negative balance -1 at sequence 2"),
	}})
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	code := cli.VerifyCommand(context.Background(), VerifyOptions{Stdout: stdout, Stderr: new(bytes.Buffer)})
	assert.Equal(t, ExitDiscrepancies, code)
	out := stdout.String()
	assert.Contains(t, out, "ledger FAILED: 2 of 3 scopes inconsistent")
	assert.Contains(t, out, "product 3 batch 9 warehouse 1: sum 4 does not match balance 6")
	assert.Less(t, bytes.Index(stdout.Bytes(), []byte("product 2 batch 7")), bytes.Index(stdout.Bytes(), []byte("product 3 batch 9")))

	stdout.Reset()
	code = cli.VerifyCommand(context.Background(), VerifyOptions{JSONOutput: true, Stdout: stdout})
	assert.Equal(t, ExitDiscrepancies, code)
	var summary VerifySummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Len(t, summary.Discrepancies, 2)
	assert.Equal(t, int64(2), summary.Discrepancies[0].ProductID)
}

func TestVerifyCommandError(t *testing.T) {
	cli, err := NewLedgerCLI(stubLedger{err: errors.New("connection refused")})
	require.NoError(t, err)
	stderr := new(bytes.Buffer)
	code := cli.VerifyCommand(context.Background(), VerifyOptions{Stdout: new(bytes.Buffer), Stderr: stderr})
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr.String(), "connection refused")

	_, err = NewLedgerCLI(nil)
	assert.Error(t, err)
}

func TestTriggerRejectsUnknownJob(t *testing.T) {
	jobsCLI, err := NewJobsCLI("127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = jobsCLI.Close() }()

	_, err = jobsCLI.Trigger(context.Background(), "mail:send", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported job mail:send")

	var nilCLI *JobsCLI
	_, err = nilCLI.Trigger(context.Background(), jobs.TaskLedgerVerify, 0)
	assert.EqualError(t, err, "jobs cli: client not configured")
}

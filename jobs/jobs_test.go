package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siddharthggs/mediggs-sub000/internal/einvoice"
	"github.com/siddharthggs/mediggs-sub000/internal/inventory"
	jobmetrics "github.com/siddharthggs/mediggs-sub000/internal/jobs"
	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

var testTime = time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)

type fakeSyncer struct {
	report   einvoice.SyncReport
	syncErr  error
	billErr  error
	syncs    int
	billRuns []int64
}

func (f *fakeSyncer) Sync(context.Context) (einvoice.SyncReport, error) {
	f.syncs++
	return f.report, f.syncErr
}

func (f *fakeSyncer) SyncBill(_ context.Context, billID int64) (einvoice.Entry, error) {
	f.billRuns = append(f.billRuns, billID)
	return einvoice.Entry{BillID: billID, Status: einvoice.StatusSynced}, f.billErr
}

func TestEInvoiceSyncJobDrainsQueue(t *testing.T) {
	syncer := &fakeSyncer{report: einvoice.SyncReport{Claimed: 3, Synced: 2, Failed: 1}}
	job := NewEInvoiceSyncJob(syncer, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewEInvoiceSyncTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, syncer.syncs)
	assert.Empty(t, syncer.billRuns)
}

func TestEInvoiceSyncJobSingleBill(t *testing.T) {
	syncer := &fakeSyncer{}
	job := NewEInvoiceSyncJob(syncer, nil, nil)

	task, err := NewEInvoiceSyncTask(42)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, []int64{42}, syncer.billRuns)
	assert.Zero(t, syncer.syncs)

	// Submission failures live on the entry and must not trigger asynq retries.
	syncer.billErr = fmt.Errorf("irn down: %w", shared.ErrExternalSubmission)
	require.NoError(t, job.Handle(context.Background(), task))

	syncer.billErr = fmt.Errorf("bill 42: %w", shared.ErrNotFound)
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestEInvoiceSyncJobPropagatesQueueErrors(t *testing.T) {
	boom := errors.New("db down")
	job := NewEInvoiceSyncJob(&fakeSyncer{syncErr: boom}, nil, nil)
	task, err := NewEInvoiceSyncTask(0)
	require.NoError(t, err)
	assert.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestBadPayloadSkipsRetry(t *testing.T) {
	job := NewEInvoiceSyncJob(&fakeSyncer{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskEInvoiceSync, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	var nilJob *EInvoiceSyncJob
	assert.Error(t, nilJob.Handle(context.Background(), asynq.NewTask(TaskEInvoiceSync, nil)))
}

type fakeVerifier struct {
	results []inventory.Verification
	err     error
}

func (f fakeVerifier) VerifyAll(context.Context) ([]inventory.Verification, error) {
	return f.results, f.err
}

func TestLedgerVerifyJobReportsDiscrepancies(t *testing.T) {
	good := inventory.Verification{Scope: inventory.Scope{ProductID: 1, WarehouseID: 1}, Entries: 2,
		Sum: decimal.NewFromInt(5), Balance: decimal.NewFromInt(5)}
	bad := inventory.Verification{Scope: inventory.Scope{ProductID: 2, BatchID: 7, WarehouseID: 1}, Entries: 3,
		Sum: decimal.NewFromInt(4), Balance: decimal.NewFromInt(6), Problems: []string{"sum 4 != balance 6"}}

	results, failing, err := Verify(context.Background(), fakeVerifier{results: []inventory.Verification{good, bad}}, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	require.Len(t, failing, 1)
	assert.Equal(t, int64(7), failing[0].Scope.BatchID)

	job := NewLedgerVerifyJob(fakeVerifier{results: []inventory.Verification{good, bad}}, nil,
		jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewLedgerVerifyTask(testTime)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	boom := errors.New("scan failed")
	job = NewLedgerVerifyJob(fakeVerifier{err: boom}, nil, nil)
	assert.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestTaskPayloads(t *testing.T) {
	task, err := NewEInvoiceSyncTask(9)
	require.NoError(t, err)
	assert.Equal(t, TaskEInvoiceSync, task.Type())
	var payload EInvoiceSyncPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, int64(9), payload.BillID)

	task, err = NewEInvoiceSyncTask(0)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(task.Payload()))
}

type fakeInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	if info, ok := f.infos[queue]; ok {
		return info, nil
	}
	return nil, asynq.ErrQueueNotFound
}

func TestHealthHandler(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(fakeInspector{infos: map[string]*asynq.QueueInfo{
		QueueCritical: {Queue: QueueCritical, Pending: 4, Active: 1},
	}}, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var out []queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, queueHealth{Queue: QueueCritical, Pending: 4, Active: 1}, out[0])
	assert.Equal(t, queueHealth{Queue: QueueDefault}, out[1])

	r = chi.NewRouter()
	NewHandler(fakeInspector{err: errors.New("redis down")}, nil).MountRoutes(r)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

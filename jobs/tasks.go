package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries e-invoice submissions.
	QueueCritical = "critical"

	// TaskEInvoiceSync drains the e-invoice queue, or one bill when BillID is set.
	TaskEInvoiceSync = "einvoice:sync"
	// TaskLedgerVerify replays every ledger scope and reports mismatches.
	TaskLedgerVerify = "ledger:verify"
)

// EInvoiceSyncPayload scopes a sync run.
type EInvoiceSyncPayload struct {
	BillID int64 `json:"bill_id,omitempty"`
}

// LedgerVerifyPayload carries scheduling metadata.
type LedgerVerifyPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewEInvoiceSyncTask constructs the sync task. billID 0 drains the whole queue.
func NewEInvoiceSyncTask(billID int64) (*asynq.Task, error) {
	body, err := json.Marshal(EInvoiceSyncPayload{BillID: billID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEInvoiceSync, body, asynq.Queue(QueueCritical), asynq.MaxRetry(0)), nil
}

// NewLedgerVerifyTask constructs the verification task.
func NewLedgerVerifyTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerVerifyPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerVerify, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

func decodePayload(t *asynq.Task, v any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

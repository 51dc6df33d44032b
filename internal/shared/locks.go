package shared

import "fmt"

// StockScopeLockKey builds the lock key guarding every ledger scope of a product
// inside one warehouse.
func StockScopeLockKey(productID, warehouseID int64) string {
	return fmt.Sprintf("stock:product:%d:warehouse:%d", productID, warehouseID)
}

// EInvoiceSyncLockKey guards the queue drain so only one syncer claims at a time
// when several instances share the scheduler.
func EInvoiceSyncLockKey() string {
	return "einvoice:sync"
}

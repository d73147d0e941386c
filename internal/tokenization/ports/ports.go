// Package ports defines the external boundaries of the tokenization module.
package ports

import (
	"context"
	"errors"
)

// ReceiptStatus is the ledger's verdict on a submitted call.
type ReceiptStatus string

const (
	ReceiptConfirmed ReceiptStatus = "confirmed"
	ReceiptFailed    ReceiptStatus = "failed"
	ReceiptPending   ReceiptStatus = "pending"
)

// Ledger methods and events used by this module.
const (
	MethodMint   = "mint"
	MethodRevoke = "revoke"

	EventAssetTokenized = "AssetTokenized"
	EventTokenRevoked   = "TokenRevoked"
)

// Log is one event emitted while executing a ledger call.
type Log struct {
	Event  string            `json:"event"`
	Fields map[string]string `json:"fields"`
}

// Receipt is the ledger's record of an executed call.
type Receipt struct {
	TxHash      string        `json:"tx_hash"`
	Status      ReceiptStatus `json:"status"`
	BlockNumber uint64        `json:"block_number"`
	Logs        []Log         `json:"logs"`
}

// Confirmed reports whether the call was executed and finalized.
func (r *Receipt) Confirmed() bool {
	return r != nil && r.Status == ReceiptConfirmed
}

// FindLog returns the first log for event.
func (r *Receipt) FindLog(event string) (Log, bool) {
	if r == nil {
		return Log{}, false
	}
	for _, l := range r.Logs {
		if l.Event == event {
			return l, true
		}
	}
	return Log{}, false
}

// LedgerClient submits calls to the ledger contract at target. The ledger is
// opaque: Call returns once the receipt is available or ctx ends.
type LedgerClient interface {
	Call(ctx context.Context, target, method string, args map[string]string) (*Receipt, error)
}

// MetadataStore keeps documents content-addressed: the returned reference is
// derived from the bytes, so storing the same document twice is a no-op.
type MetadataStore interface {
	Put(ctx context.Context, doc []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// ErrLeaseHeld is returned by Lease.Acquire when another holder owns the key.
var ErrLeaseHeld = errors.New("lease held by another holder")

// Lease grants exclusive, non-blocking ownership of a key.
type Lease interface {
	// Acquire returns a release func, or ErrLeaseHeld without waiting.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

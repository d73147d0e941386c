// Package memory is an in-process ledger that executes mint and revoke calls
// and emits their events. It backs local development and tests.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	oraclemodels "attestra/internal/oracle/models"
	"attestra/internal/tokenization/ports"

	"github.com/google/uuid"
)

const defaultBufferSize = 64

var (
	ErrUnknownMethod = errors.New("unknown contract method")
	ErrInvalidArgs   = errors.New("invalid call arguments")
)

type token struct {
	id      string
	assetID string
	owner   string
	revoked bool
}

type subscriber struct {
	target    string
	eventName string
	filter    map[string]string
	ch        chan oraclemodels.Event
}

// Ledger simulates one contract per target. Each call is mined into its own
// block and confirmed immediately.
type Ledger struct {
	mu          sync.Mutex
	block       uint64
	nextToken   uint64
	tokens      map[string]map[string]*token // target -> token id
	subscribers map[*subscriber]struct{}
	fault       func(method string, args map[string]string) error

	bufferSize int
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithBufferSize sets the per-subscriber event buffer. Events for a full
// subscriber are dropped.
func WithBufferSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.bufferSize = n
		}
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		tokens:      make(map[string]map[string]*token),
		subscribers: make(map[*subscriber]struct{}),
		bufferSize:  defaultBufferSize,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetFault installs a hook consulted before every call; a non-nil error fails
// the call without executing it. Pass nil to clear.
func (l *Ledger) SetFault(fn func(method string, args map[string]string) error) {
	l.mu.Lock()
	l.fault = fn
	l.mu.Unlock()
}

// Call executes method against the contract at target.
func (l *Ledger) Call(ctx context.Context, target, method string, args map[string]string) (*ports.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fault != nil {
		if err := l.fault(method, args); err != nil {
			return nil, err
		}
	}

	switch method {
	case ports.MethodMint:
		return l.mintLocked(target, args)
	case ports.MethodRevoke:
		return l.revokeLocked(target, args)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
}

func (l *Ledger) mintLocked(target string, args map[string]string) (*ports.Receipt, error) {
	assetID, owner := args["assetId"], args["to"]
	if assetID == "" || owner == "" {
		return nil, fmt.Errorf("%w: mint requires assetId and to", ErrInvalidArgs)
	}
	contract := l.contractLocked(target)
	for _, t := range contract {
		if t.assetID == assetID && !t.revoked {
			return l.receiptLocked(ports.ReceiptFailed, nil), nil
		}
	}

	l.nextToken++
	t := &token{
		id:      strconv.FormatUint(l.nextToken, 10),
		assetID: assetID,
		owner:   owner,
	}
	contract[t.id] = t

	fields := map[string]string{
		"tokenId":        t.id,
		"assetId":        assetID,
		"dealId":         args["dealId"],
		"to":             owner,
		"metadataUri":    args["metadataUri"],
		"provenanceHash": args["provenanceHash"],
	}
	receipt := l.receiptLocked(ports.ReceiptConfirmed, []ports.Log{{Event: ports.EventAssetTokenized, Fields: fields}})
	l.emitLocked(target, ports.EventAssetTokenized, fields, receipt)
	return receipt, nil
}

func (l *Ledger) revokeLocked(target string, args map[string]string) (*ports.Receipt, error) {
	tokenID := args["tokenId"]
	if tokenID == "" {
		return nil, fmt.Errorf("%w: revoke requires tokenId", ErrInvalidArgs)
	}
	t, ok := l.contractLocked(target)[tokenID]
	if !ok || t.revoked {
		return l.receiptLocked(ports.ReceiptFailed, nil), nil
	}
	t.revoked = true

	fields := map[string]string{
		"tokenId": tokenID,
		"assetId": t.assetID,
		"reason":  args["reason"],
	}
	receipt := l.receiptLocked(ports.ReceiptConfirmed, []ports.Log{{Event: ports.EventTokenRevoked, Fields: fields}})
	l.emitLocked(target, ports.EventTokenRevoked, fields, receipt)
	return receipt, nil
}

// Revoked reports whether tokenID is revoked on the contract at target.
func (l *Ledger) Revoked(target, tokenID string) (revoked, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.contractLocked(target)[tokenID]
	if !ok {
		return false, false
	}
	return t.revoked, true
}

func (l *Ledger) contractLocked(target string) map[string]*token {
	contract, ok := l.tokens[target]
	if !ok {
		contract = make(map[string]*token)
		l.tokens[target] = contract
	}
	return contract
}

func (l *Ledger) receiptLocked(status ports.ReceiptStatus, logs []ports.Log) *ports.Receipt {
	l.block++
	sum := sha256.Sum256([]byte(uuid.NewString()))
	return &ports.Receipt{
		TxHash:      "0x" + hex.EncodeToString(sum[:]),
		Status:      status,
		BlockNumber: l.block,
		Logs:        logs,
	}
}

// Subscribe streams eventName events emitted by target. Events whose fields do
// not match every filter entry are skipped.
func (l *Ledger) Subscribe(ctx context.Context, target, eventName string, filter map[string]string) (<-chan oraclemodels.Event, func(), error) {
	if eventName == "" {
		return nil, nil, errors.New("event name is required")
	}
	sub := &subscriber{
		target:    target,
		eventName: eventName,
		filter:    filter,
		ch:        make(chan oraclemodels.Event, l.bufferSize),
	}
	l.mu.Lock()
	l.subscribers[sub] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subscribers, sub)
			close(sub.ch)
			l.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return sub.ch, stop, nil
}

func (l *Ledger) emitLocked(target, eventName string, fields map[string]string, receipt *ports.Receipt) {
	payload, err := json.Marshal(withTxHash(fields, receipt.TxHash))
	if err != nil {
		l.logger.Error("failed to encode ledger event", "event_name", eventName, "error", err)
		return
	}
	event := oraclemodels.Event{
		ID:          receipt.TxHash + ":0",
		Name:        eventName,
		Target:      target,
		BlockNumber: receipt.BlockNumber,
		Payload:     payload,
		EmittedAt:   l.now(),
	}
	for sub := range l.subscribers {
		if !sub.matches(target, eventName, fields) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			l.logger.Warn("ledger subscriber buffer full, dropping event",
				"event_name", eventName,
				"event_id", event.ID,
			)
		}
	}
}

func (s *subscriber) matches(target, eventName string, fields map[string]string) bool {
	if s.eventName != eventName {
		return false
	}
	if s.target != "" && s.target != target {
		return false
	}
	for k, v := range s.filter {
		if fields[k] != v {
			return false
		}
	}
	return true
}

func withTxHash(fields map[string]string, txHash string) map[string]string {
	out := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["txHash"] = txHash
	return out
}

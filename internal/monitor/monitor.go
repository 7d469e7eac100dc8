// Package monitor tracks submitted ledger transactions until they
// reach a terminal state.
package monitor

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/abdul-abdi/blockcreative-sub000/internal/blockchain"
	"github.com/abdul-abdi/blockcreative-sub000/internal/logger"
	"github.com/abdul-abdi/blockcreative-sub000/internal/metrics"
	"github.com/abdul-abdi/blockcreative-sub000/internal/model"
)

var ErrNotTracked = errors.New("transaction not tracked")

// droppedAfterMisses is how many consecutive not-found polls a
// previously seen transaction survives before it is declared dropped.
const droppedAfterMisses = 10

// ChainReader is the node surface the monitor polls.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Callback receives a snapshot whenever a tracked transaction changes
// state, and a final snapshot at the terminal state.
type Callback func(record *model.TransactionRecord)

// Config tunes the monitor.
type Config struct {
	// ConfirmationThreshold is the depth at which a confirmed
	// transaction counts as settled.
	ConfirmationThreshold int
	// PendingInterval is the poll cadence before inclusion.
	PendingInterval time.Duration
	// ConfirmingInterval is the cadence after inclusion while below
	// the threshold.
	ConfirmingInterval time.Duration
	// ErrorInterval is the cadence after a poll error.
	ErrorInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.ConfirmationThreshold == 0 {
		c.ConfirmationThreshold = 3
	}
	if c.PendingInterval == 0 {
		c.PendingInterval = 5 * time.Second
	}
	if c.ConfirmingInterval == 0 {
		c.ConfirmingInterval = 10 * time.Second
	}
	if c.ErrorInterval == 0 {
		c.ErrorInterval = 15 * time.Second
	}
}

// tracked pairs a record with its poller's cancel.
type tracked struct {
	record *model.TransactionRecord
	cancel context.CancelFunc
	// bumped on every not-found poll after the tx was seen at least
	// once, reset when it reappears
	misses int
	seen   bool
}

// Monitor polls tracked transactions, one goroutine per transaction.
// The map lock covers registration and snapshots; each record is
// mutated only by its own poller.
type Monitor struct {
	cfg   Config
	chain ChainReader

	mu      sync.RWMutex
	tracked map[string]*tracked

	wg     sync.WaitGroup
	closed bool
}

// NewMonitor creates a transaction monitor.
func NewMonitor(cfg Config, chain ChainReader) *Monitor {
	cfg.withDefaults()
	return &Monitor{
		cfg:     cfg,
		chain:   chain,
		tracked: make(map[string]*tracked),
	}
}

// Track registers a transaction and starts its poller. Tracking a hash
// that is already tracked is a no-op, so concurrent submitters cannot
// race two pollers onto one record.
func (m *Monitor) Track(ctx context.Context, txHash string, meta model.TransactionMetadata, cb Callback) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("monitor is shut down")
	}
	if _, exists := m.tracked[txHash]; exists {
		m.mu.Unlock()
		return nil
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	tr := &tracked{
		record: &model.TransactionRecord{
			TxHash:   txHash,
			State:    model.TxStateUnknown,
			Metadata: meta,
		},
		cancel: cancel,
	}
	m.tracked[txHash] = tr
	m.wg.Add(1)
	m.mu.Unlock()

	metrics.ActivePollersGauge.Inc()

	go m.poll(pollCtx, tr, cb)
	return nil
}

// poll drives one transaction to a terminal state. It performs an
// immediate check before the first pause so fast chains settle without
// waiting a full interval.
func (m *Monitor) poll(ctx context.Context, tr *tracked, cb Callback) {
	defer m.wg.Done()
	defer metrics.ActivePollersGauge.Dec()

	started := time.Now()
	for {
		interval := m.checkOnce(ctx, tr, cb)
		if interval == 0 {
			record := m.snapshot(tr)
			metrics.RecordTxSettled(
				string(record.Metadata.Operation),
				strings.ToLower(record.State.String()),
				time.Since(started).Seconds(),
			)
			if cb != nil {
				cb(record)
			}
			return
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// checkOnce runs one poll cycle and returns the next pause, or zero
// when the transaction reached a terminal state.
func (m *Monitor) checkOnce(ctx context.Context, tr *tracked, cb Callback) time.Duration {
	hash := common.HexToHash(tr.record.TxHash)

	receipt, err := m.chain.TransactionReceipt(ctx, hash)
	switch {
	case err == nil:
		return m.applyReceipt(ctx, tr, cb, receipt)
	case isNotFound(err):
		return m.applyMissing(ctx, tr, cb)
	default:
		logger.Warn("transaction poll failed",
			zap.String("tx_hash", tr.record.TxHash),
			zap.Error(err))
		metrics.PollCyclesTotal.WithLabelValues("error").Inc()
		m.setError(tr, err)
		return m.cfg.ErrorInterval
	}
}

// applyReceipt folds a receipt into the record.
func (m *Monitor) applyReceipt(ctx context.Context, tr *tracked, cb Callback, receipt *types.Receipt) time.Duration {
	head, err := m.chain.BlockNumber(ctx)
	if err != nil {
		metrics.PollCyclesTotal.WithLabelValues("error").Inc()
		m.setError(tr, err)
		return m.cfg.ErrorInterval
	}

	confirmations := 0
	if head >= receipt.BlockNumber.Uint64() {
		confirmations = int(head-receipt.BlockNumber.Uint64()) + 1
	}

	next := model.TxStateConfirmed
	if receipt.Status != types.ReceiptStatusSuccessful {
		next = model.TxStateFailed
	}

	m.mu.Lock()
	r := tr.record
	tr.seen = true
	tr.misses = 0
	if r.State.CanTransitionTo(next) {
		r.State = next
	}
	// confirmations only move forward
	if confirmations > r.Confirmations {
		r.Confirmations = confirmations
	}
	r.BlockNumber = receipt.BlockNumber.Uint64()
	r.GasUsed = receipt.GasUsed
	if receipt.EffectiveGasPrice != nil {
		r.GasPrice = receipt.EffectiveGasPrice.String()
		cost := new(big.Int).Mul(receipt.EffectiveGasPrice, new(big.Int).SetUint64(receipt.GasUsed))
		r.TotalCost = cost.String()
	}
	if r.IncludedAt.IsZero() {
		r.IncludedAt = time.Now()
	}
	r.LastError = ""
	settled := r.State == model.TxStateFailed || r.Settled(m.cfg.ConfirmationThreshold)
	m.mu.Unlock()

	if settled {
		outcome := "settled"
		if next == model.TxStateFailed {
			outcome = "failed"
		}
		metrics.PollCyclesTotal.WithLabelValues(outcome).Inc()
		return 0
	}

	metrics.PollCyclesTotal.WithLabelValues("confirming").Inc()
	m.notify(tr, cb)
	return m.cfg.ConfirmingInterval
}

// applyMissing handles a poll where the node has no receipt: the
// transaction is either still in the mempool, not yet propagated, or
// was evicted.
func (m *Monitor) applyMissing(ctx context.Context, tr *tracked, cb Callback) time.Duration {
	hash := common.HexToHash(tr.record.TxHash)
	_, _, err := m.chain.TransactionByHash(ctx, hash)

	switch {
	case err == nil:
		m.mu.Lock()
		tr.seen = true
		tr.misses = 0
		if tr.record.State.CanTransitionTo(model.TxStatePending) {
			tr.record.State = model.TxStatePending
		}
		tr.record.LastError = ""
		m.mu.Unlock()
		metrics.PollCyclesTotal.WithLabelValues("pending").Inc()
		m.notify(tr, cb)
		return m.cfg.PendingInterval

	case isNotFound(err):
		m.mu.Lock()
		dropped := false
		if tr.seen {
			tr.misses++
			if tr.misses >= droppedAfterMisses && tr.record.State.CanTransitionTo(model.TxStateDropped) {
				tr.record.State = model.TxStateDropped
				tr.record.LastError = "transaction evicted from the mempool"
				dropped = true
			}
		}
		m.mu.Unlock()
		if dropped {
			metrics.PollCyclesTotal.WithLabelValues("dropped").Inc()
			return 0
		}
		metrics.PollCyclesTotal.WithLabelValues("pending").Inc()
		return m.cfg.PendingInterval

	default:
		metrics.PollCyclesTotal.WithLabelValues("error").Inc()
		m.setError(tr, err)
		return m.cfg.ErrorInterval
	}
}

func (m *Monitor) setError(tr *tracked, err error) {
	m.mu.Lock()
	tr.record.LastError = err.Error()
	m.mu.Unlock()
}

func (m *Monitor) snapshot(tr *tracked) *model.TransactionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return tr.record.Clone()
}

// notify hands a progress snapshot to the callback.
func (m *Monitor) notify(tr *tracked, cb Callback) {
	if cb == nil {
		return
	}
	cb(m.snapshot(tr))
}

// GetStatus returns a snapshot of one tracked transaction.
func (m *Monitor) GetStatus(txHash string) (*model.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tr, ok := m.tracked[txHash]
	if !ok {
		return nil, ErrNotTracked
	}
	return tr.record.Clone(), nil
}

// BatchGetStatus returns snapshots for the given hashes, skipping
// unknown ones.
func (m *Monitor) BatchGetStatus(txHashes []string) []*model.TransactionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*model.TransactionRecord, 0, len(txHashes))
	for _, h := range txHashes {
		if tr, ok := m.tracked[h]; ok {
			records = append(records, tr.record.Clone())
		}
	}
	return records
}

// StopTracking cancels one poller. The record stays queryable.
func (m *Monitor) StopTracking(txHash string) error {
	m.mu.RLock()
	tr, ok := m.tracked[txHash]
	m.mu.RUnlock()

	if !ok {
		return ErrNotTracked
	}
	tr.cancel()
	return nil
}

// TrackedCount reports how many transactions are registered.
func (m *Monitor) TrackedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tracked)
}

// Shutdown cancels all pollers and waits for them to exit.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	m.closed = true
	for _, tr := range m.tracked {
		tr.cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ethereum.NotFound) || errors.Is(err, blockchain.ErrTxNotFound) {
		return true
	}
	return strings.Contains(err.Error(), "not found")
}

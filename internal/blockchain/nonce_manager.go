package blockchain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNonceLockFailed  = errors.New("failed to acquire nonce lock")
	ErrNonceNotAcquired = errors.New("nonce not acquired")
)

// pendingNonceReader provides the next account nonce from the node.
type pendingNonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager hands out hot wallet nonces under a Redis distributed
// lock so concurrent submitters (and replicas of this service) never
// reuse a slot.
type NonceManager struct {
	node        pendingNonceReader
	redis       *redis.Client
	wallet      common.Address
	chainID     int64
	lockTimeout time.Duration

	mu           sync.RWMutex
	lastSyncTime time.Time
	syncInterval time.Duration

	// in-flight tracking, nonce -> txHash
	pendingMu  sync.RWMutex
	pendingTxs map[uint64]string
}

// NonceManagerConfig configures a NonceManager.
type NonceManagerConfig struct {
	Wallet       common.Address
	ChainID      int64
	LockTimeout  time.Duration
	SyncInterval time.Duration
}

// NewNonceManager creates a nonce manager.
func NewNonceManager(node pendingNonceReader, rdb *redis.Client, cfg *NonceManagerConfig) *NonceManager {
	lockTimeout := cfg.LockTimeout
	if lockTimeout == 0 {
		lockTimeout = 30 * time.Second
	}

	syncInterval := cfg.SyncInterval
	if syncInterval == 0 {
		syncInterval = 5 * time.Minute
	}

	return &NonceManager{
		node:         node,
		redis:        rdb,
		wallet:       cfg.Wallet,
		chainID:      cfg.ChainID,
		lockTimeout:  lockTimeout,
		syncInterval: syncInterval,
		pendingTxs:   make(map[uint64]string),
	}
}

func (m *NonceManager) nonceKey() string {
	return fmt.Sprintf("blockcreative:chain:nonce:%s:%d", m.wallet.Hex(), m.chainID)
}

func (m *NonceManager) lockKey() string {
	return fmt.Sprintf("blockcreative:chain:nonce:lock:%s:%d", m.wallet.Hex(), m.chainID)
}

func (m *NonceManager) pendingKey() string {
	return fmt.Sprintf("blockcreative:chain:nonce:pending:%s:%d", m.wallet.Hex(), m.chainID)
}

// AcquireNonce reserves the next nonce slot. The caller must follow
// up with ConfirmNonce or ReleaseNonce.
func (m *NonceManager) AcquireNonce(ctx context.Context) (uint64, error) {
	locked, err := m.acquireLock(ctx)
	if err != nil {
		return 0, err
	}
	if !locked {
		return 0, ErrNonceLockFailed
	}
	defer m.releaseLock(ctx)

	if m.needsSync() {
		if err := m.syncFromChain(ctx); err != nil {
			return 0, err
		}
	}

	nonce, err := m.getCurrentNonce(ctx)
	if err != nil {
		return 0, err
	}

	if err := m.setCurrentNonce(ctx, nonce+1); err != nil {
		return 0, err
	}

	m.pendingMu.Lock()
	m.pendingTxs[nonce] = ""
	m.pendingMu.Unlock()

	return nonce, nil
}

// ConfirmNonce associates a broadcast transaction hash with a reserved
// nonce slot.
func (m *NonceManager) ConfirmNonce(ctx context.Context, nonce uint64, txHash string) error {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	if _, exists := m.pendingTxs[nonce]; !exists {
		return nil
	}

	m.pendingTxs[nonce] = txHash

	return m.redis.ZAdd(ctx, m.pendingKey(), redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: fmt.Sprintf("%d:%s", nonce, txHash),
	}).Err()
}

// ReleaseNonce abandons a reserved slot when transaction building
// failed before broadcast. The counter is not rewound: later slots may
// already be handed out, so the slot becomes a gap that the next chain
// sync resolves.
func (m *NonceManager) ReleaseNonce(ctx context.Context, nonce uint64) error {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	if _, exists := m.pendingTxs[nonce]; !exists {
		return ErrNonceNotAcquired
	}

	delete(m.pendingTxs, nonce)
	return nil
}

// OnTxSettled removes a slot from in-flight tracking once the
// transaction has reached a terminal state.
func (m *NonceManager) OnTxSettled(ctx context.Context, nonce uint64, txHash string) error {
	m.pendingMu.Lock()
	delete(m.pendingTxs, nonce)
	m.pendingMu.Unlock()

	return m.redis.ZRem(ctx, m.pendingKey(), fmt.Sprintf("%d:%s", nonce, txHash)).Err()
}

// SyncFromChain resets the counter to the node's pending nonce.
func (m *NonceManager) SyncFromChain(ctx context.Context) error {
	locked, err := m.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !locked {
		return ErrNonceLockFailed
	}
	defer m.releaseLock(ctx)

	return m.syncFromChain(ctx)
}

// syncFromChain requires the lock to be held.
func (m *NonceManager) syncFromChain(ctx context.Context) error {
	chainNonce, err := m.node.PendingNonceAt(ctx, m.wallet)
	if err != nil {
		return err
	}

	if err := m.setCurrentNonce(ctx, chainNonce); err != nil {
		return err
	}

	m.mu.Lock()
	m.lastSyncTime = time.Now()
	m.mu.Unlock()

	return nil
}

func (m *NonceManager) acquireLock(ctx context.Context) (bool, error) {
	return m.redis.SetNX(ctx, m.lockKey(), "1", m.lockTimeout).Result()
}

func (m *NonceManager) releaseLock(ctx context.Context) error {
	return m.redis.Del(ctx, m.lockKey()).Err()
}

func (m *NonceManager) getCurrentNonce(ctx context.Context) (uint64, error) {
	val, err := m.redis.Get(ctx, m.nonceKey()).Uint64()
	if err == redis.Nil {
		return m.node.PendingNonceAt(ctx, m.wallet)
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func (m *NonceManager) setCurrentNonce(ctx context.Context, nonce uint64) error {
	return m.redis.Set(ctx, m.nonceKey(), nonce, 0).Err()
}

func (m *NonceManager) needsSync() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.lastSyncTime) > m.syncInterval
}

// PendingCount reports how many reserved slots are still in flight.
func (m *NonceManager) PendingCount() int {
	m.pendingMu.RLock()
	defer m.pendingMu.RUnlock()
	return len(m.pendingTxs)
}

// CurrentNonce reads the counter without taking the lock. Query only.
func (m *NonceManager) CurrentNonce(ctx context.Context) (uint64, error) {
	return m.getCurrentNonce(ctx)
}

// HandleNonceTooLow resyncs after the node rejected a stale nonce.
func (m *NonceManager) HandleNonceTooLow(ctx context.Context) error {
	return m.SyncFromChain(ctx)
}

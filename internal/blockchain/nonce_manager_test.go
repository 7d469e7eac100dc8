package blockchain

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNonceReader struct {
	nonce uint64
	err   error
	calls int
}

func (f *fakeNonceReader) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.calls++
	return f.nonce, f.err
}

func newTestNonceManager(t *testing.T, node pendingNonceReader) (*NonceManager, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	nm := NewNonceManager(node, rdb, &NonceManagerConfig{
		Wallet:  common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		ChainID: 31337,
	})
	return nm, mr
}

func TestAcquireNonce(t *testing.T) {
	ctx := context.Background()

	t.Run("sequential acquires are consecutive", func(t *testing.T) {
		node := &fakeNonceReader{nonce: 42}
		nm, _ := newTestNonceManager(t, node)

		n1, err := nm.AcquireNonce(ctx)
		require.NoError(t, err)
		n2, err := nm.AcquireNonce(ctx)
		require.NoError(t, err)

		assert.Equal(t, uint64(42), n1)
		assert.Equal(t, uint64(43), n2)
		assert.Equal(t, 2, nm.PendingCount())
	})

	t.Run("held lock blocks acquire", func(t *testing.T) {
		node := &fakeNonceReader{nonce: 0}
		nm, mr := newTestNonceManager(t, node)

		require.NoError(t, mr.Set(nm.lockKey(), "1"))

		_, err := nm.AcquireNonce(ctx)
		assert.ErrorIs(t, err, ErrNonceLockFailed)
	})

	t.Run("first acquire seeds from chain", func(t *testing.T) {
		node := &fakeNonceReader{nonce: 7}
		nm, mr := newTestNonceManager(t, node)

		n, err := nm.AcquireNonce(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), n)

		val, err := mr.Get(nm.nonceKey())
		require.NoError(t, err)
		assert.Equal(t, "8", val)
	})
}

func TestReleaseNonce(t *testing.T) {
	ctx := context.Background()
	node := &fakeNonceReader{nonce: 10}
	nm, _ := newTestNonceManager(t, node)

	n, err := nm.AcquireNonce(ctx)
	require.NoError(t, err)

	require.NoError(t, nm.ReleaseNonce(ctx, n))
	assert.Zero(t, nm.PendingCount())

	// releasing a slot we never held
	assert.ErrorIs(t, nm.ReleaseNonce(ctx, 999), ErrNonceNotAcquired)

	// the counter is not rewound
	next, err := nm.AcquireNonce(ctx)
	require.NoError(t, err)
	assert.Equal(t, n+1, next)
}

func TestConfirmAndSettle(t *testing.T) {
	ctx := context.Background()
	node := &fakeNonceReader{nonce: 0}
	nm, mr := newTestNonceManager(t, node)

	n, err := nm.AcquireNonce(ctx)
	require.NoError(t, err)

	txHash := "0xabc123"
	require.NoError(t, nm.ConfirmNonce(ctx, n, txHash))
	assert.Equal(t, 1, nm.PendingCount())

	members, err := mr.ZMembers(nm.pendingKey())
	require.NoError(t, err)
	assert.Len(t, members, 1)

	require.NoError(t, nm.OnTxSettled(ctx, n, txHash))
	assert.Zero(t, nm.PendingCount())

	// confirming an unknown slot is a no-op
	require.NoError(t, nm.ConfirmNonce(ctx, 999, "0xdead"))
}

func TestSyncFromChain(t *testing.T) {
	ctx := context.Background()
	node := &fakeNonceReader{nonce: 5}
	nm, mr := newTestNonceManager(t, node)

	_, err := nm.AcquireNonce(ctx)
	require.NoError(t, err)

	// the node moved on, e.g. another wallet user
	node.nonce = 100
	require.NoError(t, nm.HandleNonceTooLow(ctx))

	val, err := mr.Get(nm.nonceKey())
	require.NoError(t, err)
	assert.Equal(t, "100", val)

	n, err := nm.AcquireNonce(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), n)
}

package gateway

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-abdi/blockcreative-sub000/internal/blockchain"
	"github.com/abdul-abdi/blockcreative-sub000/internal/contract"
	"github.com/abdul-abdi/blockcreative-sub000/internal/model"
)

type fakeBackend struct {
	key     *ecdsa.PrivateKey
	chainID int64

	sent     []*types.Transaction
	sendErr  error
	receipts map[common.Hash]*types.Receipt
	balance  *big.Int
	// onSend runs synchronously after a successful broadcast, before
	// the gateway starts waiting for the receipt
	onSend func(tx *types.Transaction)
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeBackend{
		key:      key,
		chainID:  31337,
		receipts: make(map[common.Hash]*types.Receipt),
		balance:  big.NewInt(1e18),
	}
}

// includeOnSend installs a successful inclusion receipt for every
// broadcast transaction.
func (f *fakeBackend) includeOnSend(gasUsed uint64) {
	f.onSend = func(tx *types.Transaction) {
		f.receipts[tx.Hash()] = &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(10),
			TxHash:      tx.Hash(),
			GasUsed:     gasUsed,
		}
	}
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) Address() common.Address {
	return crypto.PubkeyToAddress(f.key.PublicKey)
}

func (f *fakeBackend) ChainID() int64 { return f.chainID }

func (f *fakeBackend) HasSigner() bool { return f.key != nil }

func (f *fakeBackend) SignTransaction(tx *types.Transaction) (*types.Transaction, error) {
	if f.key == nil {
		return nil, blockchain.ErrNoPrivateKey
	}
	signer := types.LatestSignerForChainID(big.NewInt(f.chainID))
	return types.SignTx(tx, signer, f.key)
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	if f.onSend != nil {
		f.onSend(tx)
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if r, ok := f.receipts[txHash]; ok {
		return r, nil
	}
	return nil, blockchain.ErrTxNotFound
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeBackend) Status() blockchain.ConnStatus {
	return blockchain.ConnStatus{Connected: true, ChainID: f.chainID}
}

type fakeEstimator struct {
	eip1559 bool
	err     error
}

func (f *fakeEstimator) Estimate(ctx context.Context, op model.OperationType, from, to common.Address, data []byte, value *big.Int, strategy contract.GasStrategy) (*contract.GasEstimate, error) {
	if f.err != nil {
		return nil, f.err
	}
	price := &contract.GasPriceInfo{Strategy: strategy}
	if f.eip1559 {
		price.GasTipCap = big.NewInt(2e9)
		price.GasFeeCap = big.NewInt(12e9)
		price.BaseFee = big.NewInt(10e9)
	} else {
		price.GasPrice = big.NewInt(10e9)
	}
	return &contract.GasEstimate{
		GasLimit:  200_000,
		GasPrice:  price,
		IsEIP1559: f.eip1559,
	}, nil
}

type fakeNonces struct {
	next      uint64
	acquired  []uint64
	confirmed map[uint64]string
	released  []uint64
	err       error
}

func newFakeNonces() *fakeNonces {
	return &fakeNonces{next: 7, confirmed: make(map[uint64]string)}
}

func (f *fakeNonces) AcquireNonce(ctx context.Context) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	n := f.next
	f.next++
	f.acquired = append(f.acquired, n)
	return n, nil
}

func (f *fakeNonces) ConfirmNonce(ctx context.Context, nonce uint64, txHash string) error {
	f.confirmed[nonce] = txHash
	return nil
}

func (f *fakeNonces) ReleaseNonce(ctx context.Context, nonce uint64) error {
	f.released = append(f.released, nonce)
	return nil
}

func newTestGateway(t *testing.T, cfg Config, backend ChainBackend, est Estimator, nonces NonceSource) *Gateway {
	t.Helper()

	registry, err := contract.NewRegistryContract(common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), backend)
	require.NoError(t, err)
	nft, err := contract.NewScriptNFTContract(common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), backend)
	require.NoError(t, err)
	escrow, err := contract.NewEscrowContract(common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"), backend)
	require.NoError(t, err)

	return New(cfg, backend, est, nonces, registry, nft, escrow)
}

const writerAddr = "0x2222222222222222222222222222222222222222"

func TestDisabledGateway(t *testing.T) {
	// nil backend proves the mock path performs no node I/O
	g := newTestGateway(t, Config{Disabled: true}, nil, nil, nil)
	ctx := context.Background()

	r1, err := g.RegisterProject(ctx, &RegisterProjectRequest{ProjectID: "proj-1", Owner: writerAddr})
	require.NoError(t, err)
	assert.True(t, r1.Mock)
	assert.Len(t, r1.TxHash, 66)

	// same inputs, same synthetic id
	r2, err := g.RegisterProject(ctx, &RegisterProjectRequest{ProjectID: "proj-1", Owner: writerAddr})
	require.NoError(t, err)
	assert.Equal(t, r1.TxHash, r2.TxHash)

	// different inputs diverge
	r3, err := g.RegisterProject(ctx, &RegisterProjectRequest{ProjectID: "proj-2", Owner: writerAddr})
	require.NoError(t, err)
	assert.NotEqual(t, r1.TxHash, r3.TxHash)

	mint, err := g.MintScriptNFT(ctx, &MintScriptNFTRequest{To: writerAddr, ChainProjectID: big.NewInt(1), TokenURI: "ipfs://x"})
	require.NoError(t, err)
	assert.True(t, mint.Mock)

	fund, err := g.FundEscrow(ctx, &FundEscrowRequest{ChainProjectID: big.NewInt(1), AmountWei: big.NewInt(1)})
	require.NoError(t, err)
	assert.True(t, fund.Mock)

	bal, err := g.WalletBalance(ctx)
	require.NoError(t, err)
	assert.Zero(t, bal.Sign())

	st := g.Status()
	assert.True(t, st.Disabled)
}

func TestRegisterProject(t *testing.T) {
	ctx := context.Background()

	t.Run("legacy pipeline", func(t *testing.T) {
		backend := newFakeBackend(t)
		backend.includeOnSend(123_456)
		nonces := newFakeNonces()
		g := newTestGateway(t, Config{}, backend, &fakeEstimator{}, nonces)

		res, err := g.RegisterProject(ctx, &RegisterProjectRequest{ProjectID: "proj-1", Owner: writerAddr})
		require.NoError(t, err)

		require.Len(t, backend.sent, 1)
		sent := backend.sent[0]
		assert.Equal(t, uint64(7), sent.Nonce())
		assert.Equal(t, uint64(200_000), sent.Gas())
		assert.Equal(t, big.NewInt(10e9), sent.GasPrice())
		assert.Equal(t, types.LegacyTxType, int(sent.Type()))
		assert.Equal(t, sent.Hash().Hex(), res.TxHash)
		assert.Equal(t, uint64(123_456), res.GasUsed)
		assert.Equal(t, res.TxHash, nonces.confirmed[7])
		assert.Empty(t, nonces.released)
	})

	t.Run("dynamic fee pipeline", func(t *testing.T) {
		backend := newFakeBackend(t)
		backend.includeOnSend(123_456)
		g := newTestGateway(t, Config{}, backend, &fakeEstimator{eip1559: true}, newFakeNonces())

		_, err := g.RegisterProject(ctx, &RegisterProjectRequest{ProjectID: "proj-1", Owner: writerAddr})
		require.NoError(t, err)

		require.Len(t, backend.sent, 1)
		sent := backend.sent[0]
		assert.Equal(t, types.DynamicFeeTxType, int(sent.Type()))
		assert.Equal(t, big.NewInt(2e9), sent.GasTipCap())
		assert.Equal(t, big.NewInt(12e9), sent.GasFeeCap())
	})

	t.Run("inclusion timeout keeps the nonce confirmed", func(t *testing.T) {
		backend := newFakeBackend(t)
		nonces := newFakeNonces()
		fast := Config{ReceiptTimeout: 10 * time.Millisecond, ReceiptInterval: time.Millisecond}
		g := newTestGateway(t, fast, backend, &fakeEstimator{}, nonces)

		_, err := g.RegisterProject(ctx, &RegisterProjectRequest{ProjectID: "proj-1", Owner: writerAddr})
		assert.ErrorIs(t, err, ErrReceiptTimeout)
		require.Len(t, backend.sent, 1)
		assert.Equal(t, backend.sent[0].Hash().Hex(), nonces.confirmed[7])
		assert.Empty(t, nonces.released)
	})

	t.Run("broadcast failure releases the nonce", func(t *testing.T) {
		backend := newFakeBackend(t)
		backend.sendErr = errors.New("connection refused")
		nonces := newFakeNonces()
		g := newTestGateway(t, Config{}, backend, &fakeEstimator{}, nonces)

		_, err := g.RegisterProject(ctx, &RegisterProjectRequest{ProjectID: "proj-1", Owner: writerAddr})
		assert.Error(t, err)
		assert.Equal(t, []uint64{7}, nonces.released)
		assert.Empty(t, nonces.confirmed)
	})

	t.Run("estimation failure stops before the nonce", func(t *testing.T) {
		backend := newFakeBackend(t)
		nonces := newFakeNonces()
		g := newTestGateway(t, Config{}, backend, &fakeEstimator{err: contract.ErrGasPriceTooHigh}, nonces)

		_, err := g.RegisterProject(ctx, &RegisterProjectRequest{ProjectID: "proj-1", Owner: writerAddr})
		assert.ErrorIs(t, err, contract.ErrGasPriceTooHigh)
		assert.Empty(t, nonces.acquired)
	})

	t.Run("bad owner address", func(t *testing.T) {
		g := newTestGateway(t, Config{}, newFakeBackend(t), &fakeEstimator{}, newFakeNonces())
		_, err := g.RegisterProject(ctx, &RegisterProjectRequest{ProjectID: "proj-1", Owner: "not-an-address"})
		assert.ErrorIs(t, err, ErrInvalidRecipient)
	})
}

func TestMintScriptNFT(t *testing.T) {
	ctx := context.Background()
	fast := Config{ReceiptTimeout: 50 * time.Millisecond, ReceiptInterval: time.Millisecond}

	mintReceipt := func(g *Gateway, txHash common.Hash, withEvent bool, status uint64) *types.Receipt {
		receipt := &types.Receipt{
			Status:      status,
			BlockNumber: big.NewInt(10),
			TxHash:      txHash,
		}
		if withEvent {
			nftAddr := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
			receipt.Logs = []*types.Log{{
				Address: nftAddr,
				Topics: []common.Hash{
					g.nft.ScriptMintedTopic(),
					common.BigToHash(big.NewInt(42)),
					common.BigToHash(big.NewInt(7)),
				},
				// non-indexed `address to`, abi-encoded
				Data: common.LeftPadBytes(common.HexToAddress(writerAddr).Bytes(), 32),
			}}
		}
		return receipt
	}

	t.Run("token id decoded from receipt", func(t *testing.T) {
		backend := newFakeBackend(t)
		g := newTestGateway(t, fast, backend, &fakeEstimator{}, newFakeNonces())
		backend.onSend = func(tx *types.Transaction) {
			backend.receipts[tx.Hash()] = mintReceipt(g, tx.Hash(), true, types.ReceiptStatusSuccessful)
		}

		res, err := g.MintScriptNFT(ctx, &MintScriptNFTRequest{
			To:             writerAddr,
			ChainProjectID: big.NewInt(7),
			TokenURI:       "ipfs://script-cid",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(42), res.TokenID.Int64())
	})

	t.Run("receipt without mint event hard-fails", func(t *testing.T) {
		backend := newFakeBackend(t)
		g := newTestGateway(t, fast, backend, &fakeEstimator{}, newFakeNonces())
		backend.onSend = func(tx *types.Transaction) {
			backend.receipts[tx.Hash()] = mintReceipt(g, tx.Hash(), false, types.ReceiptStatusSuccessful)
		}

		_, err := g.MintScriptNFT(ctx, &MintScriptNFTRequest{
			To:             writerAddr,
			ChainProjectID: big.NewInt(7),
			TokenURI:       "ipfs://script-cid",
		})
		assert.ErrorIs(t, err, contract.ErrMintEventAbsent)
	})

	t.Run("reverted mint fails", func(t *testing.T) {
		backend := newFakeBackend(t)
		g := newTestGateway(t, fast, backend, &fakeEstimator{}, newFakeNonces())
		backend.onSend = func(tx *types.Transaction) {
			backend.receipts[tx.Hash()] = mintReceipt(g, tx.Hash(), false, types.ReceiptStatusFailed)
		}

		_, err := g.MintScriptNFT(ctx, &MintScriptNFTRequest{
			To:             writerAddr,
			ChainProjectID: big.NewInt(7),
			TokenURI:       "ipfs://script-cid",
		})
		assert.ErrorIs(t, err, ErrTxReverted)
	})

	t.Run("inclusion timeout", func(t *testing.T) {
		backend := newFakeBackend(t)
		g := newTestGateway(t, fast, backend, &fakeEstimator{}, newFakeNonces())

		_, err := g.MintScriptNFT(ctx, &MintScriptNFTRequest{
			To:             writerAddr,
			ChainProjectID: big.NewInt(7),
			TokenURI:       "ipfs://script-cid",
		})
		assert.ErrorIs(t, err, ErrReceiptTimeout)
	})
}

func TestChainProjectID(t *testing.T) {
	ctx := context.Background()

	registrationReceipt := func(g *Gateway, txHash common.Hash, withEvent bool) *types.Receipt {
		receipt := &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(10),
			TxHash:      txHash,
		}
		if withEvent {
			registryAddr := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
			receipt.Logs = []*types.Log{{
				Address: registryAddr,
				Topics: []common.Hash{
					g.registry.ProjectRegisteredTopic(),
					common.BigToHash(big.NewInt(99)),
					common.HexToHash(writerAddr),
				},
				// non-indexed `bytes32 projectHash`
				Data: common.HexToHash("0x01").Bytes(),
			}}
		}
		return receipt
	}

	t.Run("project id decoded from receipt", func(t *testing.T) {
		backend := newFakeBackend(t)
		g := newTestGateway(t, Config{}, backend, &fakeEstimator{}, newFakeNonces())
		txHash := common.HexToHash("0xd1")
		backend.receipts[txHash] = registrationReceipt(g, txHash, true)

		id, err := g.ChainProjectID(ctx, txHash.Hex())
		require.NoError(t, err)
		assert.Equal(t, int64(99), id.Int64())
	})

	t.Run("receipt without registration event", func(t *testing.T) {
		backend := newFakeBackend(t)
		g := newTestGateway(t, Config{}, backend, &fakeEstimator{}, newFakeNonces())
		txHash := common.HexToHash("0xd2")
		backend.receipts[txHash] = registrationReceipt(g, txHash, false)

		_, err := g.ChainProjectID(ctx, txHash.Hex())
		assert.ErrorIs(t, err, contract.ErrRegisterEventAbsent)
	})

	t.Run("disabled gateway returns zero", func(t *testing.T) {
		g := newTestGateway(t, Config{Disabled: true}, newFakeBackend(t), &fakeEstimator{}, newFakeNonces())
		id, err := g.ChainProjectID(ctx, "0xd3")
		require.NoError(t, err)
		assert.Zero(t, id.Int64())
	})
}

func TestEscrowOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("fund carries the amount as value", func(t *testing.T) {
		backend := newFakeBackend(t)
		backend.includeOnSend(90_000)
		g := newTestGateway(t, Config{}, backend, &fakeEstimator{}, newFakeNonces())

		amount := big.NewInt(5e17)
		_, err := g.FundEscrow(ctx, &FundEscrowRequest{ChainProjectID: big.NewInt(7), AmountWei: amount})
		require.NoError(t, err)

		require.Len(t, backend.sent, 1)
		assert.Equal(t, amount, backend.sent[0].Value())
	})

	t.Run("fund rejects zero amount", func(t *testing.T) {
		g := newTestGateway(t, Config{}, newFakeBackend(t), &fakeEstimator{}, newFakeNonces())
		_, err := g.FundEscrow(ctx, &FundEscrowRequest{ChainProjectID: big.NewInt(7), AmountWei: big.NewInt(0)})
		assert.ErrorIs(t, err, contract.ErrZeroAmount)
	})

	t.Run("release payment", func(t *testing.T) {
		backend := newFakeBackend(t)
		backend.includeOnSend(70_000)
		g := newTestGateway(t, Config{}, backend, &fakeEstimator{}, newFakeNonces())

		res, err := g.ReleasePayment(ctx, &ReleasePaymentRequest{
			ChainProjectID: big.NewInt(7),
			Recipient:      writerAddr,
			AmountWei:      big.NewInt(3e17),
		})
		require.NoError(t, err)
		assert.Equal(t, model.OperationPaymentRelease, res.Operation)
		assert.Len(t, backend.sent, 1)
		assert.Zero(t, backend.sent[0].Value().Sign())
	})
}

func TestTransferNFT(t *testing.T) {
	backend := newFakeBackend(t)
	backend.includeOnSend(60_000)
	g := newTestGateway(t, Config{}, backend, &fakeEstimator{}, newFakeNonces())

	res, err := g.TransferNFT(context.Background(), &TransferNFTRequest{
		From:    writerAddr,
		To:      "0x3333333333333333333333333333333333333333",
		TokenID: big.NewInt(42),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OperationNFTTransfer, res.Operation)
	assert.Len(t, backend.sent, 1)
}

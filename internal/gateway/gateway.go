// Package gateway submits marketplace operations to the ledger.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/abdul-abdi/blockcreative-sub000/internal/blockchain"
	"github.com/abdul-abdi/blockcreative-sub000/internal/contract"
	"github.com/abdul-abdi/blockcreative-sub000/internal/logger"
	"github.com/abdul-abdi/blockcreative-sub000/internal/metrics"
	"github.com/abdul-abdi/blockcreative-sub000/internal/model"
)

var (
	ErrGatewayDisabled  = errors.New("gateway is disabled")
	ErrNoSigningKey     = errors.New("gateway has no signing key")
	ErrReceiptTimeout   = errors.New("timed out waiting for inclusion")
	ErrTxReverted       = errors.New("transaction reverted")
	ErrInvalidRecipient = errors.New("invalid recipient address")
)

// ChainBackend is the node surface the gateway submits through.
// *blockchain.Client satisfies it.
type ChainBackend interface {
	contract.ContractCaller
	Address() common.Address
	ChainID() int64
	HasSigner() bool
	SignTransaction(tx *types.Transaction) (*types.Transaction, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Status() blockchain.ConnStatus
}

// Estimator produces fee and limit recommendations.
type Estimator interface {
	Estimate(ctx context.Context, op model.OperationType, from, to common.Address, data []byte, value *big.Int, strategy contract.GasStrategy) (*contract.GasEstimate, error)
}

// NonceSource reserves hot wallet nonce slots.
type NonceSource interface {
	AcquireNonce(ctx context.Context) (uint64, error)
	ConfirmNonce(ctx context.Context, nonce uint64, txHash string) error
	ReleaseNonce(ctx context.Context, nonce uint64) error
}

// Config tunes the gateway.
type Config struct {
	// Disabled short-circuits every operation into a deterministic
	// synthetic transaction id without touching the node.
	Disabled bool
	// DefaultStrategy applies when a request names none.
	DefaultStrategy contract.GasStrategy
	// ReceiptTimeout bounds the inclusion wait on operations that
	// need the receipt (mint).
	ReceiptTimeout time.Duration
	// ReceiptInterval is the receipt poll cadence.
	ReceiptInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = contract.StrategyStandard
	}
	if c.ReceiptTimeout == 0 {
		c.ReceiptTimeout = 2 * time.Minute
	}
	if c.ReceiptInterval == 0 {
		c.ReceiptInterval = 2 * time.Second
	}
}

// SubmitResult is the outcome of a broadcast operation.
type SubmitResult struct {
	TxHash    string              `json:"tx_hash"`
	Operation model.OperationType `json:"operation"`
	Nonce     uint64              `json:"nonce"`
	GasLimit  uint64              `json:"gas_limit"`
	GasUsed   uint64              `json:"gas_used"`
	// Mock marks synthetic results from a disabled gateway.
	Mock bool `json:"mock,omitempty"`
}

// MintResult extends SubmitResult with the token id decoded from the
// mint receipt.
type MintResult struct {
	SubmitResult
	TokenID *big.Int `json:"token_id"`
}

// Gateway turns marketplace intents into signed ledger transactions.
type Gateway struct {
	cfg       Config
	backend   ChainBackend
	estimator Estimator
	nonces    NonceSource

	registry *contract.RegistryContract
	nft      *contract.ScriptNFTContract
	escrow   *contract.EscrowContract
}

// New creates a gateway.
func New(cfg Config, backend ChainBackend, estimator Estimator, nonces NonceSource,
	registry *contract.RegistryContract, nft *contract.ScriptNFTContract, escrow *contract.EscrowContract) *Gateway {
	cfg.withDefaults()
	return &Gateway{
		cfg:       cfg,
		backend:   backend,
		estimator: estimator,
		nonces:    nonces,
		registry:  registry,
		nft:       nft,
		escrow:    escrow,
	}
}

// RegisterProjectRequest registers a marketplace project on the
// ledger.
type RegisterProjectRequest struct {
	ProjectID string
	Owner     string
	Strategy  contract.GasStrategy
}

// RegisterProject submits a registerProject transaction.
func (g *Gateway) RegisterProject(ctx context.Context, req *RegisterProjectRequest) (*SubmitResult, error) {
	if g.cfg.Disabled {
		return g.mockResult(model.OperationProjectRegistration, req.ProjectID, req.Owner), nil
	}

	owner, err := parseAddress(req.Owner)
	if err != nil {
		return nil, err
	}

	data, err := g.registry.PackRegisterProject(owner, contract.StringToBytes32(req.ProjectID))
	if err != nil {
		return nil, err
	}

	sr, _, err := g.submit(ctx, model.OperationProjectRegistration, g.registry.Address(), data, nil, req.Strategy)
	return sr, err
}

// ChainProjectID resolves the on-chain project id assigned by a
// confirmed registration transaction, decoded from its receipt.
func (g *Gateway) ChainProjectID(ctx context.Context, txHash string) (*big.Int, error) {
	if g.cfg.Disabled {
		return big.NewInt(0), nil
	}

	receipt, err := g.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, fmt.Errorf("receipt for %s: %w", txHash, err)
	}
	return g.registry.RegisteredProjectID(receipt)
}

// MintScriptNFTRequest mints a script NFT for a published project.
type MintScriptNFTRequest struct {
	To             string
	ChainProjectID *big.Int
	TokenURI       string
	Strategy       contract.GasStrategy
}

// MintScriptNFT submits a mintScript transaction and waits for
// inclusion so the token id can be read from the receipt. A receipt
// without a ScriptMinted event fails the whole operation even when the
// transaction itself succeeded.
func (g *Gateway) MintScriptNFT(ctx context.Context, req *MintScriptNFTRequest) (*MintResult, error) {
	if g.cfg.Disabled {
		sr := g.mockResult(model.OperationScriptNFTMint, req.To, req.TokenURI)
		return &MintResult{SubmitResult: *sr, TokenID: big.NewInt(0)}, nil
	}

	to, err := parseAddress(req.To)
	if err != nil {
		return nil, err
	}

	data, err := g.nft.PackMintScript(to, req.ChainProjectID, req.TokenURI)
	if err != nil {
		return nil, err
	}

	sr, receipt, err := g.submit(ctx, model.OperationScriptNFTMint, g.nft.Address(), data, nil, req.Strategy)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("mint %s: %w", sr.TxHash, ErrTxReverted)
	}

	tokenID, err := g.nft.MintedTokenID(receipt)
	if err != nil {
		return nil, fmt.Errorf("mint %s: %w", sr.TxHash, err)
	}

	return &MintResult{SubmitResult: *sr, TokenID: tokenID}, nil
}

// TransferNFTRequest moves a script NFT between wallets.
type TransferNFTRequest struct {
	From     string
	To       string
	TokenID  *big.Int
	Strategy contract.GasStrategy
}

// TransferNFT submits a transferScript transaction.
func (g *Gateway) TransferNFT(ctx context.Context, req *TransferNFTRequest) (*SubmitResult, error) {
	if g.cfg.Disabled {
		return g.mockResult(model.OperationNFTTransfer, req.From, req.To, req.TokenID.String()), nil
	}

	from, err := parseAddress(req.From)
	if err != nil {
		return nil, err
	}
	to, err := parseAddress(req.To)
	if err != nil {
		return nil, err
	}

	data, err := g.nft.PackTransferScript(from, to, req.TokenID)
	if err != nil {
		return nil, err
	}

	sr, _, err := g.submit(ctx, model.OperationNFTTransfer, g.nft.Address(), data, nil, req.Strategy)
	return sr, err
}

// FundEscrowRequest locks funds against a project.
type FundEscrowRequest struct {
	ChainProjectID *big.Int
	// AmountWei rides in the transaction value.
	AmountWei *big.Int
	Strategy  contract.GasStrategy
}

// FundEscrow submits a payable fundProject transaction.
func (g *Gateway) FundEscrow(ctx context.Context, req *FundEscrowRequest) (*SubmitResult, error) {
	if g.cfg.Disabled {
		return g.mockResult(model.OperationEscrowFunding, req.ChainProjectID.String(), req.AmountWei.String()), nil
	}

	if req.AmountWei == nil || req.AmountWei.Sign() <= 0 {
		return nil, contract.ErrZeroAmount
	}

	data, err := g.escrow.PackFundProject(req.ChainProjectID)
	if err != nil {
		return nil, err
	}

	sr, _, err := g.submit(ctx, model.OperationEscrowFunding, g.escrow.Address(), data, req.AmountWei, req.Strategy)
	return sr, err
}

// ReleasePaymentRequest pays a writer out of project escrow.
type ReleasePaymentRequest struct {
	ChainProjectID *big.Int
	Recipient      string
	AmountWei      *big.Int
	Strategy       contract.GasStrategy
}

// ReleasePayment submits a releasePayment transaction.
func (g *Gateway) ReleasePayment(ctx context.Context, req *ReleasePaymentRequest) (*SubmitResult, error) {
	if g.cfg.Disabled {
		return g.mockResult(model.OperationPaymentRelease, req.ChainProjectID.String(), req.Recipient, req.AmountWei.String()), nil
	}

	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		return nil, err
	}

	data, err := g.escrow.PackReleasePayment(req.ChainProjectID, recipient, req.AmountWei)
	if err != nil {
		return nil, err
	}

	sr, _, err := g.submit(ctx, model.OperationPaymentRelease, g.escrow.Address(), data, nil, req.Strategy)
	return sr, err
}

// submit runs the shared pipeline: estimate, reserve a nonce, build,
// sign, broadcast, wait for the inclusion receipt. A nonce reserved
// for a transaction that never made it to the node is released; a
// broadcast one is confirmed. The wait stops at inclusion, not at any
// confirmation depth; settlement is the monitor's job.
func (g *Gateway) submit(ctx context.Context, op model.OperationType, to common.Address, data []byte, value *big.Int, strategy contract.GasStrategy) (*SubmitResult, *types.Receipt, error) {
	if !g.backend.HasSigner() {
		return nil, nil, ErrNoSigningKey
	}
	if strategy == "" {
		strategy = g.cfg.DefaultStrategy
	}

	est, err := g.estimator.Estimate(ctx, op, g.backend.Address(), to, data, value, strategy)
	if err != nil {
		return nil, nil, fmt.Errorf("estimate %s: %w", op, err)
	}
	metrics.RecordGasEstimate(string(op), est.UsedFallback)

	nonce, err := g.nonces.AcquireNonce(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire nonce: %w", err)
	}

	tx := g.buildTx(nonce, to, data, value, est)

	signed, err := g.backend.SignTransaction(tx)
	if err != nil {
		_ = g.nonces.ReleaseNonce(ctx, nonce)
		return nil, nil, fmt.Errorf("sign %s: %w", op, err)
	}

	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		_ = g.nonces.ReleaseNonce(ctx, nonce)
		return nil, nil, fmt.Errorf("broadcast %s: %w", op, err)
	}

	txHash := signed.Hash().Hex()
	_ = g.nonces.ConfirmNonce(ctx, nonce, txHash)

	metrics.RecordTxSubmitted(string(op))
	metrics.UpdateGasPrice(weiToGwei(est.GasPrice.EffectivePrice()))
	metrics.UpdateNonce(nonce)

	logger.Info("transaction broadcast",
		zap.String("operation", string(op)),
		zap.String("tx_hash", txHash),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", est.GasLimit),
		zap.Bool("gas_fallback", est.UsedFallback))

	receipt, err := g.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, nil, fmt.Errorf("inclusion %s: %w", op, err)
	}
	metrics.RecordGasUsage(string(op), est.GasLimit, receipt.GasUsed)

	logger.Info("transaction included",
		zap.String("operation", string(op)),
		zap.String("tx_hash", txHash),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
		zap.Uint64("gas_requested", est.GasLimit),
		zap.Uint64("gas_used", receipt.GasUsed))

	return &SubmitResult{
		TxHash:    txHash,
		Operation: op,
		Nonce:     nonce,
		GasLimit:  est.GasLimit,
		GasUsed:   receipt.GasUsed,
	}, receipt, nil
}

// buildTx produces a dynamic-fee transaction on EIP-1559 chains and a
// legacy one elsewhere.
func (g *Gateway) buildTx(nonce uint64, to common.Address, data []byte, value *big.Int, est *contract.GasEstimate) *types.Transaction {
	if value == nil {
		value = big.NewInt(0)
	}

	if est.IsEIP1559 {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   big.NewInt(g.backend.ChainID()),
			Nonce:     nonce,
			GasTipCap: est.GasPrice.GasTipCap,
			GasFeeCap: est.GasPrice.GasFeeCap,
			Gas:       est.GasLimit,
			To:        &to,
			Value:     value,
			Data:      data,
		})
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: est.GasPrice.GasPrice,
		Gas:      est.GasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	})
}

// waitReceipt polls until the transaction is included or the timeout
// elapses.
func (g *Gateway) waitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(g.cfg.ReceiptTimeout)

	for {
		receipt, err := g.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, blockchain.ErrTxNotFound) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrReceiptTimeout
		}

		timer := time.NewTimer(g.cfg.ReceiptInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// mockResult derives a deterministic synthetic transaction id from the
// operation and its arguments. No node I/O happens on this path.
func (g *Gateway) mockResult(op model.OperationType, args ...string) *SubmitResult {
	payload := []byte("mock:" + string(op))
	for _, a := range args {
		payload = append(payload, ':')
		payload = append(payload, a...)
	}
	hash := crypto.Keccak256Hash(payload)

	metrics.TxMockTotal.Inc()

	return &SubmitResult{
		TxHash:    hash.Hex(),
		Operation: op,
		Mock:      true,
	}
}

// WalletBalance returns the hot wallet's native balance in wei.
func (g *Gateway) WalletBalance(ctx context.Context) (*big.Int, error) {
	if g.cfg.Disabled {
		return big.NewInt(0), nil
	}
	return g.backend.BalanceAt(ctx, g.backend.Address(), nil)
}

// Status reports gateway and node connectivity state.
type Status struct {
	Disabled bool                  `json:"disabled"`
	Node     blockchain.ConnStatus `json:"node"`
}

// Status returns the gateway status snapshot.
func (g *Gateway) Status() Status {
	return Status{
		Disabled: g.cfg.Disabled,
		Node:     g.backend.Status(),
	}
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidRecipient, s)
	}
	return common.HexToAddress(s), nil
}

func weiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	return f
}

// Package blockchain wraps the ledger node connection for the
// blockcreative-chain service.
package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	ErrNoHealthyRPC        = errors.New("no healthy RPC endpoint available")
	ErrReconnectExhausted  = errors.New("reconnection attempt budget exhausted")
	ErrReconnectCoolingOff = errors.New("reconnection cooling off")
	ErrTxNotFound          = errors.New("transaction not found")
	ErrTxFailed            = errors.New("transaction failed")
	ErrNoPrivateKey        = errors.New("private key not configured")
)

// RPCEndpoint tracks the health of one configured endpoint.
type RPCEndpoint struct {
	URL        string
	IsHealthy  bool
	ErrorCount int
	LastCheck  time.Time
}

// ConnStatus is a point-in-time connectivity snapshot.
type ConnStatus struct {
	Connected         bool      `json:"connected"`
	Endpoint          string    `json:"endpoint"`
	ChainID           int64     `json:"chain_id"`
	Wallet            string    `json:"wallet"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	LastReconnect     time.Time `json:"last_reconnect"`
}

// Client owns the shared connection handle to the ledger node plus the
// signing key. The handle is built lazily on first use; reconnection is
// gated by an attempt budget and a cooldown so an unreachable node does
// not cause a reconnection storm.
type Client struct {
	chainID    int64
	privateKey *ecdsa.PrivateKey
	address    common.Address

	endpoints  []*RPCEndpoint
	currentIdx int
	mu         sync.RWMutex

	client *ethclient.Client

	maxReconnects     int
	reconnectCooldown time.Duration
	reconnectAttempts int
	lastReconnect     time.Time
}

// ClientConfig configures the client.
type ClientConfig struct {
	ChainID           int64
	PrivateKey        string
	RPCURLs           []string
	MaxReconnects     int
	ReconnectCooldown time.Duration
	// Lazy skips dialing in the constructor; the handle is built on the
	// first call that needs it.
	Lazy bool
}

// NewClient creates a ledger client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	var privateKey *ecdsa.PrivateKey
	var address common.Address

	if cfg.PrivateKey != "" {
		var err error
		privateKey, err = crypto.HexToECDSA(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}

	endpoints := make([]*RPCEndpoint, len(cfg.RPCURLs))
	for i, url := range cfg.RPCURLs {
		endpoints[i] = &RPCEndpoint{
			URL:       url,
			IsHealthy: true,
		}
	}

	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = 3
	}

	cooldown := cfg.ReconnectCooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}

	c := &Client{
		chainID:           cfg.ChainID,
		privateKey:        privateKey,
		address:           address,
		endpoints:         endpoints,
		maxReconnects:     maxReconnects,
		reconnectCooldown: cooldown,
	}

	if !cfg.Lazy {
		if err := c.connect(context.Background()); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// connect dials the first reachable endpoint. Holding no lock is the
// caller's responsibility to avoid: it locks internally.
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	for i := range c.endpoints {
		idx := (c.currentIdx + i) % len(c.endpoints)
		ep := c.endpoints[idx]

		client, err := ethclient.DialContext(ctx, ep.URL)
		if err != nil {
			ep.IsHealthy = false
			ep.ErrorCount++
			ep.LastCheck = time.Now()
			continue
		}

		// Verify the node answers and is on the expected network.
		chainID, err := client.ChainID(ctx)
		if err != nil || (c.chainID != 0 && chainID.Int64() != c.chainID) {
			client.Close()
			ep.IsHealthy = false
			ep.ErrorCount++
			ep.LastCheck = time.Now()
			continue
		}

		if c.client != nil {
			c.client.Close()
		}

		c.client = client
		c.currentIdx = idx
		ep.IsHealthy = true
		ep.ErrorCount = 0
		ep.LastCheck = time.Now()
		c.reconnectAttempts = 0
		return nil
	}

	return ErrNoHealthyRPC
}

// Reconnect rebuilds the handle, gated by the attempt budget and the
// cooldown timer. Both limiters act independently: hitting either one
// returns without touching the network. The budget resets on success.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reconnectAttempts >= c.maxReconnects {
		return ErrReconnectExhausted
	}
	if !c.lastReconnect.IsZero() && time.Since(c.lastReconnect) < c.reconnectCooldown {
		return ErrReconnectCoolingOff
	}

	c.reconnectAttempts++
	c.lastReconnect = time.Now()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}

	return c.connectLocked(ctx)
}

// ResetReconnectBudget restores the attempt budget, e.g. after operator
// intervention.
func (c *Client) ResetReconnectBudget() {
	c.mu.Lock()
	c.reconnectAttempts = 0
	c.lastReconnect = time.Time{}
	c.mu.Unlock()
}

// getClient returns the handle, lazily building it on first use.
func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client != nil {
		return client, nil
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client, nil
}

// call runs one RPC operation, attempting a gated reconnect once when
// the handle is broken. Reconnection being refused by a limiter is not
// retried here; the caller sees the original error.
func (c *Client) call(ctx context.Context, fn func(*ethclient.Client) error) error {
	client, err := c.getClient(ctx)
	if err != nil {
		return err
	}

	err = fn(client)
	if err == nil {
		return nil
	}

	if isConnectivityError(err) {
		if rerr := c.Reconnect(ctx); rerr == nil {
			if client, cerr := c.getClient(ctx); cerr == nil {
				return fn(client)
			}
		}
	}

	return err
}

// isConnectivityError distinguishes transport failures from node-level
// answers such as "not found".
func isConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ethereum.NotFound) {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection reset", "no such host", "timeout", "EOF", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Address returns the hot wallet address.
func (c *Client) Address() common.Address {
	return c.address
}

// ChainID returns the configured chain id.
func (c *Client) ChainID() int64 {
	return c.chainID
}

// HasSigner reports whether a signing key is configured.
func (c *Client) HasSigner() bool {
	return c.privateKey != nil
}

// Status returns a connectivity snapshot.
func (c *Client) Status() ConnStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := ConnStatus{
		Connected:         c.client != nil,
		ChainID:           c.chainID,
		Wallet:            c.address.Hex(),
		ReconnectAttempts: c.reconnectAttempts,
		LastReconnect:     c.lastReconnect,
	}
	if c.currentIdx < len(c.endpoints) {
		st.Endpoint = c.endpoints[c.currentIdx].URL
	}
	return st
}

// BlockNumber returns the current block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var blockNum uint64
	err := c.call(ctx, func(client *ethclient.Client) error {
		var err error
		blockNum, err = client.BlockNumber(ctx)
		return err
	})
	return blockNum, err
}

// HeaderByNumber returns a block header; nil number means latest.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.call(ctx, func(client *ethclient.Client) error {
		var err error
		header, err = client.HeaderByNumber(ctx, number)
		return err
	})
	return header, err
}

// TransactionByHash looks a transaction up by hash.
func (c *Client) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	var tx *types.Transaction
	var pending bool
	err := c.call(ctx, func(client *ethclient.Client) error {
		var err error
		tx, pending, err = client.TransactionByHash(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			return ErrTxNotFound
		}
		return err
	})
	return tx, pending, err
}

// TransactionReceipt looks a receipt up by transaction hash.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.call(ctx, func(client *ethclient.Client) error {
		var err error
		receipt, err = client.TransactionReceipt(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			return ErrTxNotFound
		}
		return err
	})
	return receipt, err
}

// PendingNonceAt returns the next nonce for an account.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.call(ctx, func(client *ethclient.Client) error {
		var err error
		nonce, err = client.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// SuggestGasPrice returns the node's suggested legacy gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var gasPrice *big.Int
	err := c.call(ctx, func(client *ethclient.Client) error {
		var err error
		gasPrice, err = client.SuggestGasPrice(ctx)
		return err
	})
	return gasPrice, err
}

// SuggestGasTipCap returns the suggested priority fee (EIP-1559).
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var gasTip *big.Int
	err := c.call(ctx, func(client *ethclient.Client) error {
		var err error
		gasTip, err = client.SuggestGasTipCap(ctx)
		return err
	})
	return gasTip, err
}

// EstimateGas runs the node's dry-run estimator.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := c.call(ctx, func(client *ethclient.Client) error {
		var err error
		gas, err = client.EstimateGas(ctx, msg)
		return err
	})
	return gas, err
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.call(ctx, func(client *ethclient.Client) error {
		return client.SendTransaction(ctx, tx)
	})
}

// CallContract executes a read-only contract call.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var result []byte
	err := c.call(ctx, func(client *ethclient.Client) error {
		var err error
		result, err = client.CallContract(ctx, msg, blockNumber)
		return err
	})
	return result, err
}

// BalanceAt returns the native balance of an account.
func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	var balance *big.Int
	err := c.call(ctx, func(client *ethclient.Client) error {
		var err error
		balance, err = client.BalanceAt(ctx, account, blockNumber)
		return err
	})
	return balance, err
}

// SignTransaction signs a transaction with the hot wallet key.
func (c *Client) SignTransaction(tx *types.Transaction) (*types.Transaction, error) {
	if c.privateKey == nil {
		return nil, ErrNoPrivateKey
	}

	signer := types.LatestSignerForChainID(big.NewInt(c.chainID))
	return types.SignTx(tx, signer, c.privateKey)
}

// Close releases the connection handle.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// HealthCheck verifies the node answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

// GetHealthyEndpoints lists endpoints currently marked healthy. The
// returned entries are copies; callers cannot reach the client's
// health state through them.
func (c *Client) GetHealthyEndpoints() []RPCEndpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var healthy []RPCEndpoint
	for _, ep := range c.endpoints {
		if ep.IsHealthy {
			healthy = append(healthy, *ep)
		}
	}
	return healthy
}

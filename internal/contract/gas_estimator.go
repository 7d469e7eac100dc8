// Package contract provides smart contract bindings and gas utilities.
package contract

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/abdul-abdi/blockcreative-sub000/internal/model"
)

// Gas estimation errors
var (
	ErrGasEstimationFailed = errors.New("gas estimation failed")
	ErrGasPriceTooHigh     = errors.New("gas price exceeds maximum")
	ErrGasLimitTooHigh     = errors.New("gas limit exceeds maximum")
	ErrUnknownStrategy     = errors.New("unknown gas strategy")
	ErrUnknownOperation    = errors.New("unknown operation type")
)

// GasStrategy selects how aggressively a transaction bids for block
// space.
type GasStrategy string

const (
	StrategyEconomical GasStrategy = "economical"
	StrategyStandard   GasStrategy = "standard"
	StrategyFast       GasStrategy = "fast"
	StrategyAggressive GasStrategy = "aggressive"
)

// strategyParams holds the fee multiplier and the inclusion estimate
// surfaced to callers.
type strategyParams struct {
	multiplier float64
	eta        string
}

var strategies = map[GasStrategy]strategyParams{
	StrategyEconomical: {multiplier: 0.9, eta: "1-5 min"},
	StrategyStandard:   {multiplier: 1.0, eta: "30-60 sec"},
	StrategyFast:       {multiplier: 1.5, eta: "15-30 sec"},
	StrategyAggressive: {multiplier: 2.0, eta: "<15 sec"},
}

// Valid reports whether s names a known strategy.
func (s GasStrategy) Valid() bool {
	_, ok := strategies[s]
	return ok
}

// Multiplier returns the fee multiplier for the strategy.
func (s GasStrategy) Multiplier() float64 {
	return strategies[s].multiplier
}

// ETA returns a human readable inclusion estimate.
func (s GasStrategy) ETA() string {
	return strategies[s].eta
}

// OptimizationLevel trades the gas limit safety margin against the
// risk of out-of-gas reverts.
type OptimizationLevel string

const (
	OptimizeNone       OptimizationLevel = "none"
	OptimizeModerate   OptimizationLevel = "moderate"
	OptimizeAggressive OptimizationLevel = "aggressive"
)

// safetyMargin returns the dry-run result multiplier for the level.
func (l OptimizationLevel) safetyMargin() float64 {
	switch l {
	case OptimizeAggressive:
		return 1.1
	case OptimizeModerate:
		return 1.2
	default:
		return 1.3
	}
}

// Hard per-operation limits, sized from mainnet traces of each
// contract call. Used verbatim when the node's dry-run estimator is
// unreachable, and as the floor under every margined dry-run result.
var defaultGasLimits = map[model.OperationType]uint64{
	model.OperationProjectRegistration: 250_000,
	model.OperationScriptNFTMint:       300_000,
	model.OperationNFTTransfer:         100_000,
	model.OperationEscrowFunding:       150_000,
	model.OperationPaymentRelease:      120_000,
}

// GasEstimatorConfig is the configuration for the gas estimator.
type GasEstimatorConfig struct {
	// MaxGasPrice is the maximum effective gas price in wei.
	MaxGasPrice *big.Int
	// MaxGasLimit is the maximum gas limit.
	MaxGasLimit uint64
	// CacheTTL is the time-to-live for cached market conditions.
	CacheTTL time.Duration
	// DryRunAttempts bounds the node-side estimation retries.
	DryRunAttempts int
	// DryRunBackoff is multiplied by the attempt number between
	// retries.
	DryRunBackoff time.Duration
	// DefaultStrategy is used when callers pass an empty strategy.
	DefaultStrategy GasStrategy
	// OptimizationLevel selects the gas limit safety margin.
	OptimizationLevel OptimizationLevel
}

// GasPriceInfo contains market fee conditions for one strategy.
type GasPriceInfo struct {
	// Legacy gas price (for non-EIP-1559 chains).
	GasPrice *big.Int
	// EIP-1559 fields.
	BaseFee   *big.Int
	GasTipCap *big.Int
	GasFeeCap *big.Int
	// Strategy that produced these numbers.
	Strategy GasStrategy
	// Estimated time to inclusion.
	ETA string
	// Timestamp when the underlying market sample was fetched.
	FetchedAt time.Time
}

// EffectivePrice returns the price used for cost projection: the fee
// cap on EIP-1559 chains, the legacy price elsewhere.
func (p *GasPriceInfo) EffectivePrice() *big.Int {
	if p.GasFeeCap != nil {
		return p.GasFeeCap
	}
	return p.GasPrice
}

// marketSample is the raw node view cached between estimates. Strategy
// multipliers are applied per request on top of it.
type marketSample struct {
	gasPrice  *big.Int
	baseFee   *big.Int
	gasTipCap *big.Int
	isEIP1559 bool
	fetchedAt time.Time
}

// GasEstimate is the result of a full estimation.
type GasEstimate struct {
	// Final gas limit after margin and floor.
	GasLimit uint64
	// Raw dry-run result, zero when the fallback was used.
	DryRunGas uint64
	// Whether the hard default was used instead of a dry run.
	UsedFallback bool
	// Fee recommendation.
	GasPrice *GasPriceInfo
	// Projected worst-case cost in wei.
	EstimatedCost *big.Int
	// Whether EIP-1559 pricing is in effect.
	IsEIP1559 bool
}

// EthBackend is the node surface the estimator needs.
type EthBackend interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// GasEstimator turns operation intents into fee and limit
// recommendations.
type GasEstimator struct {
	cfg     *GasEstimatorConfig
	backend EthBackend

	// injected for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	cached *marketSample
}

// NewGasEstimator creates a gas estimator.
func NewGasEstimator(cfg *GasEstimatorConfig, backend EthBackend) *GasEstimator {
	if cfg == nil {
		cfg = &GasEstimatorConfig{}
	}

	if cfg.MaxGasPrice == nil {
		cfg.MaxGasPrice = big.NewInt(500e9) // 500 Gwei
	}
	if cfg.MaxGasLimit == 0 {
		cfg.MaxGasLimit = 10_000_000
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.DryRunAttempts == 0 {
		cfg.DryRunAttempts = 3
	}
	if cfg.DryRunBackoff == 0 {
		cfg.DryRunBackoff = time.Second
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = StrategyStandard
	}
	if cfg.OptimizationLevel == "" {
		cfg.OptimizationLevel = OptimizeModerate
	}

	return &GasEstimator{
		cfg:     cfg,
		backend: backend,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PriceFor returns the fee recommendation for a strategy. The
// underlying market sample is cached; the strategy multiplier is
// applied per call so different strategies share one node round trip.
func (e *GasEstimator) PriceFor(ctx context.Context, strategy GasStrategy) (*GasPriceInfo, error) {
	if strategy == "" {
		strategy = e.cfg.DefaultStrategy
	}
	params, ok := strategies[strategy]
	if !ok {
		return nil, ErrUnknownStrategy
	}

	sample, err := e.market(ctx)
	if err != nil {
		return nil, err
	}

	info := &GasPriceInfo{
		Strategy:  strategy,
		ETA:       params.eta,
		FetchedAt: sample.fetchedAt,
	}

	if sample.isEIP1559 {
		// tip scales with urgency; the cap absorbs the current base
		// fee plus the scaled tip
		info.BaseFee = new(big.Int).Set(sample.baseFee)
		info.GasTipCap = mulFloat(sample.gasTipCap, params.multiplier)
		info.GasFeeCap = new(big.Int).Add(info.BaseFee, info.GasTipCap)
	} else {
		info.GasPrice = mulFloat(sample.gasPrice, params.multiplier)
	}

	if info.EffectivePrice().Cmp(e.cfg.MaxGasPrice) > 0 {
		return nil, ErrGasPriceTooHigh
	}

	return info, nil
}

// market returns the cached node sample, refreshing it past the TTL.
func (e *GasEstimator) market(ctx context.Context) (*marketSample, error) {
	e.mu.RLock()
	if e.cached != nil && e.now().Sub(e.cached.fetchedAt) < e.cfg.CacheTTL {
		cached := e.cached
		e.mu.RUnlock()
		return cached, nil
	}
	e.mu.RUnlock()

	return e.fetchMarket(ctx)
}

func (e *GasEstimator) fetchMarket(ctx context.Context) (*marketSample, error) {
	sample := &marketSample{fetchedAt: e.now()}

	gasTipCap, err := e.backend.SuggestGasTipCap(ctx)
	if err == nil && gasTipCap != nil && gasTipCap.Sign() > 0 {
		header, herr := e.backend.HeaderByNumber(ctx, nil)
		if herr == nil && header != nil && header.BaseFee != nil {
			sample.isEIP1559 = true
			sample.gasTipCap = gasTipCap
			sample.baseFee = header.BaseFee
		}
	}

	if !sample.isEIP1559 {
		gasPrice, err := e.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, err
		}
		sample.gasPrice = gasPrice
	}

	e.mu.Lock()
	e.cached = sample
	e.mu.Unlock()

	return sample, nil
}

// Estimate produces the full fee and limit recommendation for one
// operation. The dry run is retried a bounded number of times with a
// linearly growing backoff; on exhaustion the per-operation hard
// default takes over so callers always get a usable answer.
func (e *GasEstimator) Estimate(ctx context.Context, op model.OperationType, from, to common.Address, data []byte, value *big.Int, strategy GasStrategy) (*GasEstimate, error) {
	defaultGas, ok := defaultGasLimits[op]
	if !ok {
		return nil, ErrUnknownOperation
	}

	est := &GasEstimate{}

	dryRun, err := e.dryRun(ctx, from, to, data, value)
	if err != nil {
		est.UsedFallback = true
		est.GasLimit = defaultGas
	} else {
		est.DryRunGas = dryRun
		margined := uint64(float64(dryRun) * e.cfg.OptimizationLevel.safetyMargin())
		// the hard default is also the floor: a suspiciously small dry
		// run never undercuts it
		if margined < defaultGas {
			margined = defaultGas
		}
		est.GasLimit = margined
	}

	if est.GasLimit > e.cfg.MaxGasLimit {
		return nil, ErrGasLimitTooHigh
	}

	price, err := e.PriceFor(ctx, strategy)
	if err != nil {
		return nil, err
	}
	est.GasPrice = price
	est.IsEIP1559 = price.GasFeeCap != nil
	est.EstimatedCost = new(big.Int).Mul(price.EffectivePrice(), new(big.Int).SetUint64(est.GasLimit))

	return est, nil
}

// dryRun asks the node to simulate the call, retrying transient
// failures with attempt*backoff pauses.
func (e *GasEstimator) dryRun(ctx context.Context, from, to common.Address, data []byte, value *big.Int) (uint64, error) {
	msg := ethereum.CallMsg{
		From:  from,
		To:    &to,
		Data:  data,
		Value: value,
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.DryRunAttempts; attempt++ {
		gas, err := e.backend.EstimateGas(ctx, msg)
		if err == nil {
			return gas, nil
		}
		lastErr = err

		if attempt < e.cfg.DryRunAttempts {
			if serr := e.sleep(ctx, time.Duration(attempt)*e.cfg.DryRunBackoff); serr != nil {
				return 0, serr
			}
		}
	}

	return 0, errors.Join(ErrGasEstimationFailed, lastErr)
}

// DefaultGasLimit exposes the hard fallback for an operation.
func DefaultGasLimit(op model.OperationType) (uint64, bool) {
	v, ok := defaultGasLimits[op]
	return v, ok
}

// InvalidateCache drops the cached market sample.
func (e *GasEstimator) InvalidateCache() {
	e.mu.Lock()
	e.cached = nil
	e.mu.Unlock()
}

// IsEIP1559Supported reports the pricing mode of the last sample.
func (e *GasEstimator) IsEIP1559Supported() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cached != nil && e.cached.isEIP1559
}

// mulFloat multiplies a wei amount by a small float factor.
func mulFloat(v *big.Int, factor float64) *big.Int {
	f := new(big.Float).SetInt(v)
	f.Mul(f, big.NewFloat(factor))
	out, _ := f.Int(nil)
	return out
}

// Package service keeps the marketplace mirror store consistent with
// what actually happened on chain.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/abdul-abdi/blockcreative-sub000/internal/contract"
	"github.com/abdul-abdi/blockcreative-sub000/internal/gateway"
	"github.com/abdul-abdi/blockcreative-sub000/internal/logger"
	"github.com/abdul-abdi/blockcreative-sub000/internal/metrics"
	"github.com/abdul-abdi/blockcreative-sub000/internal/model"
	"github.com/abdul-abdi/blockcreative-sub000/internal/monitor"
	"github.com/abdul-abdi/blockcreative-sub000/internal/repository"
)

var (
	ErrMissingProjectID = errors.New("project id is required")
	ErrMissingTxHash    = errors.New("transaction hash is required")
	ErrInvalidAmount    = errors.New("amount must be positive")
)

// Submitter is the gateway surface the service submits through.
type Submitter interface {
	RegisterProject(ctx context.Context, req *gateway.RegisterProjectRequest) (*gateway.SubmitResult, error)
	MintScriptNFT(ctx context.Context, req *gateway.MintScriptNFTRequest) (*gateway.MintResult, error)
	TransferNFT(ctx context.Context, req *gateway.TransferNFTRequest) (*gateway.SubmitResult, error)
	FundEscrow(ctx context.Context, req *gateway.FundEscrowRequest) (*gateway.SubmitResult, error)
	ReleasePayment(ctx context.Context, req *gateway.ReleasePaymentRequest) (*gateway.SubmitResult, error)
	ChainProjectID(ctx context.Context, txHash string) (*big.Int, error)
}

// Tracker is the monitor surface the service attaches callbacks to.
type Tracker interface {
	Track(ctx context.Context, txHash string, meta model.TransactionMetadata, cb monitor.Callback) error
	GetStatus(txHash string) (*model.TransactionRecord, error)
}

// Publisher pushes terminal outcomes back to the marketplace backend.
type Publisher interface {
	PublishRegistrationConfirmed(ctx context.Context, event *model.RegistrationConfirmation) error
	PublishPaymentConfirmed(ctx context.Context, event *model.PaymentConfirmation) error
}

// Config tunes the reconciliation service.
type Config struct {
	// ConfirmationThreshold is the depth at which a confirmed
	// transaction counts as settled. Must match the monitor's.
	ConfirmationThreshold int
	// SweepInterval is the cadence of the pending-row backstop sweep.
	// Zero disables the sweep.
	SweepInterval time.Duration
	// SweepBatchSize caps how many pending rows one sweep re-attaches.
	SweepBatchSize int
}

func (c *Config) withDefaults() {
	if c.ConfirmationThreshold <= 0 {
		c.ConfirmationThreshold = 1
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = 100
	}
}

// ReconciliationService submits marketplace intents through the
// gateway, mirrors every submission into the store, and folds terminal
// monitor states back onto the project rows. The mirror transaction
// row is written before tracking starts so a crash between broadcast
// and confirmation leaves a pending row the sweep can pick up.
type ReconciliationService struct {
	cfg       Config
	projects  repository.ProjectRepository
	txs       repository.TransactionRepository
	gateway   Submitter
	monitor   Tracker
	publisher Publisher

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewReconciliationService creates the service. publisher may be nil
// when no confirmation topic is configured.
func NewReconciliationService(cfg Config, projects repository.ProjectRepository, txs repository.TransactionRepository,
	gw Submitter, mon Tracker, publisher Publisher) *ReconciliationService {
	cfg.withDefaults()
	return &ReconciliationService{
		cfg:       cfg,
		projects:  projects,
		txs:       txs,
		gateway:   gw,
		monitor:   mon,
		publisher: publisher,
		stopCh:    make(chan struct{}),
	}
}

// RegisterProjectCommand asks for a project to be registered on chain.
type RegisterProjectCommand struct {
	ProjectID    string
	OwnerID      string
	OwnerAddress string
	Strategy     string
}

// RegisterProject broadcasts the registration and starts mirroring it.
func (s *ReconciliationService) RegisterProject(ctx context.Context, cmd *RegisterProjectCommand) (*gateway.SubmitResult, error) {
	if cmd.ProjectID == "" {
		return nil, ErrMissingProjectID
	}

	result, err := s.gateway.RegisterProject(ctx, &gateway.RegisterProjectRequest{
		ProjectID: cmd.ProjectID,
		Owner:     cmd.OwnerAddress,
		Strategy:  contractStrategy(cmd.Strategy),
	})
	if err != nil {
		return nil, fmt.Errorf("register project %s: %w", cmd.ProjectID, err)
	}

	meta := model.TransactionMetadata{
		Operation: model.OperationProjectRegistration,
		UserID:    cmd.OwnerID,
		ProjectID: cmd.ProjectID,
	}
	if result.Mock {
		// synthetic hashes never appear on the node, so they must not
		// reach the monitor; settle the mirror state right here
		if err := s.ensureMirrorRow(ctx, result.TxHash, &meta, decimal.Zero); err != nil {
			return nil, err
		}
		s.registrationCallback(cmd.ProjectID)(s.mockRecord(result.TxHash, meta))
		return result, nil
	}
	if err := s.TrackRegistration(ctx, cmd.ProjectID, result.TxHash, meta); err != nil {
		logger.Error("track registration failed",
			zap.String("project_id", cmd.ProjectID),
			zap.String("tx_hash", result.TxHash),
			zap.Error(err))
	}
	return result, nil
}

// TrackRegistration writes the optimistic pending mirror row and
// attaches the registration callback to the monitor. Safe to call for
// a hash that is already tracked.
func (s *ReconciliationService) TrackRegistration(ctx context.Context, projectID, txHash string, meta model.TransactionMetadata) error {
	if projectID == "" {
		return ErrMissingProjectID
	}
	if txHash == "" {
		return ErrMissingTxHash
	}
	meta.Operation = model.OperationProjectRegistration
	meta.ProjectID = projectID

	if err := s.ensureMirrorRow(ctx, txHash, &meta, decimal.Zero); err != nil {
		return err
	}
	return s.monitor.Track(ctx, txHash, meta, s.registrationCallback(projectID))
}

// FundEscrow handles an escrow funding request from the marketplace
// backend.
func (s *ReconciliationService) FundEscrow(ctx context.Context, req *model.FundEscrowRequest) (*gateway.SubmitResult, error) {
	if req.ProjectID == "" {
		return nil, ErrMissingProjectID
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	chainID, err := s.chainProjectID(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	result, err := s.gateway.FundEscrow(ctx, &gateway.FundEscrowRequest{
		ChainProjectID: chainID,
		AmountWei:      req.Amount.Shift(18).BigInt(),
	})
	if err != nil {
		return nil, fmt.Errorf("fund escrow for project %s: %w", req.ProjectID, err)
	}

	meta := model.TransactionMetadata{
		Operation: model.OperationEscrowFunding,
		UserID:    req.FunderID,
		ProjectID: req.ProjectID,
		Amount:    req.Amount.String(),
		Extra:     map[string]string{"request_id": req.RequestID},
	}
	return result, s.trackPayment(ctx, result, meta, req.Amount)
}

// ReleasePayment handles a payment release request from the marketplace
// backend.
func (s *ReconciliationService) ReleasePayment(ctx context.Context, req *model.ReleasePaymentRequest) (*gateway.SubmitResult, error) {
	if req.ProjectID == "" {
		return nil, ErrMissingProjectID
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	chainID, err := s.chainProjectID(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	result, err := s.gateway.ReleasePayment(ctx, &gateway.ReleasePaymentRequest{
		ChainProjectID: chainID,
		Recipient:      req.Recipient,
		AmountWei:      req.Amount.Shift(18).BigInt(),
	})
	if err != nil {
		return nil, fmt.Errorf("release payment for project %s: %w", req.ProjectID, err)
	}

	meta := model.TransactionMetadata{
		Operation: model.OperationPaymentRelease,
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		Recipient: req.Recipient,
		Amount:    req.Amount.String(),
		Extra:     map[string]string{"request_id": req.RequestID},
	}
	return result, s.trackPayment(ctx, result, meta, req.Amount)
}

// HandleFundEscrow adapts FundEscrow to the kafka consumer surface.
func (s *ReconciliationService) HandleFundEscrow(ctx context.Context, req *model.FundEscrowRequest) error {
	_, err := s.FundEscrow(ctx, req)
	return err
}

// HandleReleasePayment adapts ReleasePayment to the kafka consumer
// surface.
func (s *ReconciliationService) HandleReleasePayment(ctx context.Context, req *model.ReleasePaymentRequest) error {
	_, err := s.ReleasePayment(ctx, req)
	return err
}

// MintScriptNFTCommand asks for a script NFT to be minted.
type MintScriptNFTCommand struct {
	ProjectID string
	WriterID  string
	To        string
	TokenURI  string
}

// MintScriptNFT mints through the gateway and mirrors the transaction.
// The gateway already waited for the receipt, so the monitor resolves
// the row quickly.
func (s *ReconciliationService) MintScriptNFT(ctx context.Context, cmd *MintScriptNFTCommand) (*gateway.MintResult, error) {
	if cmd.ProjectID == "" {
		return nil, ErrMissingProjectID
	}

	chainID, err := s.chainProjectID(ctx, cmd.ProjectID)
	if err != nil {
		return nil, err
	}
	result, err := s.gateway.MintScriptNFT(ctx, &gateway.MintScriptNFTRequest{
		To:             cmd.To,
		ChainProjectID: chainID,
		TokenURI:       cmd.TokenURI,
	})
	if err != nil {
		return nil, fmt.Errorf("mint script nft for project %s: %w", cmd.ProjectID, err)
	}

	meta := model.TransactionMetadata{
		Operation: model.OperationScriptNFTMint,
		UserID:    cmd.WriterID,
		ProjectID: cmd.ProjectID,
		Recipient: cmd.To,
	}
	if result.TokenID != nil {
		meta.TokenID = result.TokenID.String()
	}
	return result, s.trackPayment(ctx, &result.SubmitResult, meta, decimal.Zero)
}

// trackPayment mirrors a non-registration submission and attaches the
// payment callback. Mock submissions settle immediately instead of
// being tracked; their hashes never appear on the node.
func (s *ReconciliationService) trackPayment(ctx context.Context, result *gateway.SubmitResult, meta model.TransactionMetadata, amount decimal.Decimal) error {
	if err := s.ensureMirrorRow(ctx, result.TxHash, &meta, amount); err != nil {
		return err
	}
	if result.Mock {
		s.paymentCallback(amount)(s.mockRecord(result.TxHash, meta))
		return nil
	}
	return s.monitor.Track(ctx, result.TxHash, meta, s.paymentCallback(amount))
}

// mockRecord synthesizes a settled snapshot for a synthetic
// submission.
func (s *ReconciliationService) mockRecord(txHash string, meta model.TransactionMetadata) *model.TransactionRecord {
	return &model.TransactionRecord{
		TxHash:        txHash,
		State:         model.TxStateConfirmed,
		Confirmations: s.cfg.ConfirmationThreshold,
		Metadata:      meta,
	}
}

// ensureMirrorRow creates the pending mirror row, tolerating an
// existing row for the same hash.
func (s *ReconciliationService) ensureMirrorRow(ctx context.Context, txHash string, meta *model.TransactionMetadata, amount decimal.Decimal) error {
	row := &model.ChainTransaction{
		ID:        uuid.New().String(),
		TxHash:    txHash,
		Type:      meta.Operation,
		UserID:    meta.UserID,
		ProjectID: meta.ProjectID,
		Amount:    amount,
	}
	if err := row.SetMetadata(meta); err != nil {
		return err
	}
	err := s.txs.Create(ctx, row)
	if errors.Is(err, repository.ErrDuplicateTransaction) {
		return nil
	}
	if err != nil {
		metrics.RecordMirrorWrite("transaction", "error")
		return fmt.Errorf("create mirror row for %s: %w", txHash, err)
	}
	metrics.RecordMirrorWrite("transaction", "pending")
	return nil
}

// registrationCallback folds monitor state for a registration onto the
// project and transaction rows. Confirmed snapshots below the
// settlement threshold are progress reports, not outcomes.
func (s *ReconciliationService) registrationCallback(projectID string) monitor.Callback {
	return func(record *model.TransactionRecord) {
		settled := record.Settled(s.cfg.ConfirmationThreshold)
		failed := record.State == model.TxStateFailed || record.State == model.TxStateDropped
		if !settled && !failed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if settled {
			s.confirmRegistration(ctx, projectID, record)
		} else {
			s.failRegistration(ctx, projectID, record)
		}
	}
}

func (s *ReconciliationService) confirmRegistration(ctx context.Context, projectID string, record *model.TransactionRecord) {
	chainID := record.Metadata.Extra["chain_project_id"]
	if chainID == "" {
		id, err := s.gateway.ChainProjectID(ctx, record.TxHash)
		if err != nil {
			logger.Warn("chain project id not resolved from receipt",
				zap.String("project_id", projectID),
				zap.String("tx_hash", record.TxHash),
				zap.Error(err))
		} else {
			chainID = id.String()
		}
	}

	now := time.Now().UnixMilli()
	data := &model.BlockchainData{
		ChainProjectID:   chainID,
		ContractAddress:  record.To,
		TxHash:           record.TxHash,
		Confirmations:    record.Confirmations,
		Confirmed:        true,
		Timestamp:        now,
		ConfirmationTime: now,
	}

	err := s.projects.MarkOnChain(ctx, projectID, data)
	switch {
	case errors.Is(err, repository.ErrAlreadyOnChain):
		// a concurrent callback won the flip, nothing left to mirror
	case errors.Is(err, repository.ErrProjectNotFound):
		logger.Warn("confirmed registration for unknown project",
			zap.String("project_id", projectID),
			zap.String("tx_hash", record.TxHash))
	case err != nil:
		metrics.RecordMirrorWrite("project", "error")
		logger.Error("mark project on-chain failed",
			zap.String("project_id", projectID),
			zap.String("tx_hash", record.TxHash),
			zap.Error(err))
		return
	default:
		metrics.RecordMirrorWrite("project", "on_chain")
		if err := s.projects.PromoteStatus(ctx, projectID, model.ProjectStatusPublished); err != nil {
			logger.Error("promote project status failed",
				zap.String("project_id", projectID),
				zap.Error(err))
		}
	}

	s.completeMirrorRow(ctx, record)
	s.publishRegistration(ctx, projectID, chainID, record, "")

	logger.Info("project registration confirmed",
		zap.String("project_id", projectID),
		zap.String("tx_hash", record.TxHash),
		zap.Int("confirmations", record.Confirmations))
}

func (s *ReconciliationService) failRegistration(ctx context.Context, projectID string, record *model.TransactionRecord) {
	reason := record.LastError
	if reason == "" {
		reason = "transaction " + record.State.String()
	}
	data := &model.BlockchainData{
		TxHash:    record.TxHash,
		Confirmed: false,
		Timestamp: time.Now().UnixMilli(),
		FailedAt:  time.Now().UnixMilli(),
		Error:     reason,
	}
	if err := s.projects.RecordChainFailure(ctx, projectID, data); err != nil {
		logger.Error("record chain failure failed",
			zap.String("project_id", projectID),
			zap.Error(err))
	}

	s.failMirrorRow(ctx, record, reason)
	s.publishRegistration(ctx, projectID, record.Metadata.Extra["chain_project_id"], record, reason)

	logger.Warn("project registration failed on chain",
		zap.String("project_id", projectID),
		zap.String("tx_hash", record.TxHash),
		zap.String("state", record.State.String()),
		zap.String("reason", reason))
}

// paymentCallback folds monitor state for escrow/payment/mint/transfer
// submissions onto the transaction row.
func (s *ReconciliationService) paymentCallback(amount decimal.Decimal) monitor.Callback {
	return func(record *model.TransactionRecord) {
		settled := record.Settled(s.cfg.ConfirmationThreshold)
		failed := record.State == model.TxStateFailed || record.State == model.TxStateDropped
		if !settled && !failed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var reason string
		if settled {
			s.completeMirrorRow(ctx, record)
		} else {
			reason = record.LastError
			if reason == "" {
				reason = "transaction " + record.State.String()
			}
			s.failMirrorRow(ctx, record, reason)
		}
		s.publishPayment(ctx, record, amount, reason)
	}
}

// completeMirrorRow marks the mirror row completed, creating it first
// when the submission-time write was lost.
func (s *ReconciliationService) completeMirrorRow(ctx context.Context, record *model.TransactionRecord) {
	err := s.txs.Complete(ctx, record.TxHash)
	if errors.Is(err, repository.ErrTransactionNotFound) {
		if err := s.ensureMirrorRow(ctx, record.TxHash, &record.Metadata, decimal.Zero); err != nil {
			logger.Error("recreate mirror row failed", zap.String("tx_hash", record.TxHash), zap.Error(err))
			return
		}
		err = s.txs.Complete(ctx, record.TxHash)
	}
	if err != nil {
		metrics.RecordMirrorWrite("transaction", "error")
		logger.Error("complete mirror row failed", zap.String("tx_hash", record.TxHash), zap.Error(err))
		return
	}
	metrics.RecordMirrorWrite("transaction", "completed")
}

func (s *ReconciliationService) failMirrorRow(ctx context.Context, record *model.TransactionRecord, reason string) {
	err := s.txs.Fail(ctx, record.TxHash, reason)
	if errors.Is(err, repository.ErrTransactionNotFound) {
		if err := s.ensureMirrorRow(ctx, record.TxHash, &record.Metadata, decimal.Zero); err != nil {
			logger.Error("recreate mirror row failed", zap.String("tx_hash", record.TxHash), zap.Error(err))
			return
		}
		err = s.txs.Fail(ctx, record.TxHash, reason)
	}
	if err != nil {
		metrics.RecordMirrorWrite("transaction", "error")
		logger.Error("fail mirror row failed", zap.String("tx_hash", record.TxHash), zap.Error(err))
		return
	}
	metrics.RecordMirrorWrite("transaction", "failed")
}

func (s *ReconciliationService) publishRegistration(ctx context.Context, projectID, chainID string, record *model.TransactionRecord, reason string) {
	if s.publisher == nil {
		return
	}
	event := &model.RegistrationConfirmation{
		ProjectID:      projectID,
		ChainProjectID: chainID,
		TxHash:         record.TxHash,
		Confirmations:  record.Confirmations,
		Status:         record.State.String(),
		Error:          reason,
		ConfirmedAt:    time.Now().UnixMilli(),
	}
	if err := s.publisher.PublishRegistrationConfirmed(ctx, event); err != nil {
		logger.Error("publish registration confirmation failed",
			zap.String("project_id", projectID),
			zap.String("tx_hash", record.TxHash),
			zap.Error(err))
	}
}

func (s *ReconciliationService) publishPayment(ctx context.Context, record *model.TransactionRecord, amount decimal.Decimal, reason string) {
	if s.publisher == nil {
		return
	}
	event := &model.PaymentConfirmation{
		RequestID:   record.Metadata.Extra["request_id"],
		ProjectID:   record.Metadata.ProjectID,
		TxHash:      record.TxHash,
		Amount:      amount,
		Operation:   record.Metadata.Operation,
		Status:      record.State.String(),
		Error:       reason,
		ConfirmedAt: time.Now().UnixMilli(),
	}
	if err := s.publisher.PublishPaymentConfirmed(ctx, event); err != nil {
		logger.Error("publish payment confirmation failed",
			zap.String("tx_hash", record.TxHash),
			zap.Error(err))
	}
}

// Start launches the background sweep that re-attaches pending mirror
// rows to the monitor after a restart.
func (s *ReconciliationService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				if err := s.SweepPending(context.Background()); err != nil {
					logger.Error("pending sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop halts the background sweep.
func (s *ReconciliationService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// SweepPending re-attaches every pending mirror row that the monitor
// lost track of, typically after a process restart.
func (s *ReconciliationService) SweepPending(ctx context.Context) error {
	rows, err := s.txs.ListPending(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		return fmt.Errorf("list pending mirror rows: %w", err)
	}

	reattached := 0
	for _, row := range rows {
		if _, err := s.monitor.GetStatus(row.TxHash); err == nil {
			continue // still tracked
		}
		meta, err := row.GetMetadata()
		if err != nil {
			logger.Warn("pending row has unreadable metadata",
				zap.String("tx_hash", row.TxHash), zap.Error(err))
			meta = &model.TransactionMetadata{Operation: row.Type, UserID: row.UserID, ProjectID: row.ProjectID}
		}

		var cb monitor.Callback
		if row.Type == model.OperationProjectRegistration {
			cb = s.registrationCallback(row.ProjectID)
		} else {
			cb = s.paymentCallback(row.Amount)
		}
		if err := s.monitor.Track(ctx, row.TxHash, *meta, cb); err != nil {
			logger.Error("re-attach pending transaction failed",
				zap.String("tx_hash", row.TxHash), zap.Error(err))
			continue
		}
		reattached++
	}

	if reattached > 0 {
		logger.Info("pending sweep re-attached transactions",
			zap.Int("count", reattached), zap.Int("pending", len(rows)))
	}
	return nil
}

// chainProjectID resolves the on-chain numeric project id recorded at
// registration time.
func (s *ReconciliationService) chainProjectID(ctx context.Context, projectID string) (*big.Int, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	data, err := project.GetBlockchainData()
	if err != nil {
		return nil, fmt.Errorf("parse blockchain data for project %s: %w", projectID, err)
	}
	if data.ChainProjectID == "" {
		// mock registrations carry no on-chain id
		return big.NewInt(0), nil
	}
	id, ok := new(big.Int).SetString(data.ChainProjectID, 10)
	if !ok {
		return nil, fmt.Errorf("malformed chain project id %q for project %s", data.ChainProjectID, projectID)
	}
	return id, nil
}

// contractStrategy maps an API strategy name onto a gas strategy,
// leaving the gateway default in place for unknown values.
func contractStrategy(name string) contract.GasStrategy {
	switch contract.GasStrategy(name) {
	case contract.StrategyEconomical, contract.StrategyStandard, contract.StrategyFast, contract.StrategyAggressive:
		return contract.GasStrategy(name)
	default:
		return ""
	}
}

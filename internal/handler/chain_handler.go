// Package handler exposes the HTTP status and operations surface.
package handler

import (
	"context"
	"errors"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/abdul-abdi/blockcreative-sub000/internal/contract"
	"github.com/abdul-abdi/blockcreative-sub000/internal/gateway"
	"github.com/abdul-abdi/blockcreative-sub000/internal/logger"
	"github.com/abdul-abdi/blockcreative-sub000/internal/model"
	"github.com/abdul-abdi/blockcreative-sub000/internal/monitor"
	"github.com/abdul-abdi/blockcreative-sub000/internal/repository"
	"github.com/abdul-abdi/blockcreative-sub000/internal/service"
)

// StatusReader is the monitor query surface.
type StatusReader interface {
	GetStatus(txHash string) (*model.TransactionRecord, error)
	BatchGetStatus(txHashes []string) []*model.TransactionRecord
	TrackedCount() int
}

// PriceReader previews gas prices without submitting anything.
type PriceReader interface {
	PriceFor(ctx context.Context, strategy contract.GasStrategy) (*contract.GasPriceInfo, error)
}

// GatewayReader is the gateway introspection surface.
type GatewayReader interface {
	Status() gateway.Status
	WalletBalance(ctx context.Context) (*big.Int, error)
}

// RegistrationService starts on-chain project registrations.
type RegistrationService interface {
	RegisterProject(ctx context.Context, cmd *service.RegisterProjectCommand) (*gateway.SubmitResult, error)
	MintScriptNFT(ctx context.Context, cmd *service.MintScriptNFTCommand) (*gateway.MintResult, error)
}

// ChainHandler serves transaction status, gas previews, and manual
// operation triggers.
type ChainHandler struct {
	statuses StatusReader
	prices   PriceReader
	gateway  GatewayReader
	svc      RegistrationService
	txs      repository.TransactionRepository
}

// NewChainHandler creates the handler.
func NewChainHandler(statuses StatusReader, prices PriceReader, gw GatewayReader,
	svc RegistrationService, txs repository.TransactionRepository) *ChainHandler {
	return &ChainHandler{
		statuses: statuses,
		prices:   prices,
		gateway:  gw,
		svc:      svc,
		txs:      txs,
	}
}

// TransactionStatusResponse is the monitor view of one transaction.
type TransactionStatusResponse struct {
	TxHash        string `json:"tx_hash"`
	State         string `json:"state"`
	Confirmations int    `json:"confirmations"`
	BlockNumber   uint64 `json:"block_number,omitempty"`
	GasUsed       uint64 `json:"gas_used,omitempty"`
	GasPrice      string `json:"gas_price,omitempty"`
	TotalCost     string `json:"total_cost,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	Operation     string `json:"operation,omitempty"`
	ProjectID     string `json:"project_id,omitempty"`
	// Source tells whether the answer came from live tracking or the
	// mirror store.
	Source string `json:"source"`
}

func statusFromRecord(record *model.TransactionRecord) *TransactionStatusResponse {
	return &TransactionStatusResponse{
		TxHash:        record.TxHash,
		State:         record.State.String(),
		Confirmations: record.Confirmations,
		BlockNumber:   record.BlockNumber,
		GasUsed:       record.GasUsed,
		GasPrice:      record.GasPrice,
		TotalCost:     record.TotalCost,
		LastError:     record.LastError,
		Operation:     string(record.Metadata.Operation),
		ProjectID:     record.Metadata.ProjectID,
		Source:        "monitor",
	}
}

func statusFromRow(row *model.ChainTransaction) *TransactionStatusResponse {
	state := "PENDING"
	switch row.Status {
	case model.MirrorTxStatusCompleted:
		state = "CONFIRMED"
	case model.MirrorTxStatusFailed:
		state = "FAILED"
	}
	return &TransactionStatusResponse{
		TxHash:    row.TxHash,
		State:     state,
		LastError: row.Error,
		Operation: string(row.Type),
		ProjectID: row.ProjectID,
		Source:    "store",
	}
}

// GetTransaction returns the status of one transaction, consulting the
// monitor first and falling back to the mirror store for transactions
// the monitor no longer tracks.
// GET /api/v1/transactions/:hash
func (h *ChainHandler) GetTransaction(c *gin.Context) {
	hash := c.Param("hash")
	if hash == "" {
		BadRequest(c, "transaction hash is required")
		return
	}

	if record, err := h.statuses.GetStatus(hash); err == nil {
		Success(c, statusFromRecord(record))
		return
	} else if !errors.Is(err, monitor.ErrNotTracked) {
		InternalError(c)
		return
	}

	row, err := h.txs.GetByTxHash(c.Request.Context(), hash)
	if errors.Is(err, repository.ErrTransactionNotFound) {
		NotFound(c, "transaction not found")
		return
	}
	if err != nil {
		logger.Error("failed to load mirror transaction", zap.String("tx_hash", hash), zap.Error(err))
		InternalError(c)
		return
	}
	Success(c, statusFromRow(row))
}

// BatchStatusRequest asks for the status of several transactions.
type BatchStatusRequest struct {
	TxHashes []string `json:"tx_hashes" binding:"required,min=1,max=100"`
}

// BatchGetTransactions returns monitor statuses for a batch of hashes.
// Hashes the monitor does not track come back with state UNKNOWN.
// POST /api/v1/transactions/batch
func (h *ChainHandler) BatchGetTransactions(c *gin.Context) {
	var req BatchStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	records := h.statuses.BatchGetStatus(req.TxHashes)
	out := make([]*TransactionStatusResponse, 0, len(records))
	for _, record := range records {
		out = append(out, statusFromRecord(record))
	}
	Success(c, out)
}

// ListProjectTransactions returns the mirror rows for one project.
// GET /api/v1/projects/:id/transactions
func (h *ChainHandler) ListProjectTransactions(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		BadRequest(c, "project id is required")
		return
	}

	page := ParsePagination(c)
	rows, err := h.txs.ListByProject(c.Request.Context(), projectID, page)
	if err != nil {
		logger.Error("failed to list project transactions", zap.String("project_id", projectID), zap.Error(err))
		InternalError(c)
		return
	}
	SuccessWithPagination(c, rows, page.Total, page.Page, page.PageSize)
}

// GasPriceResponse is a fee preview for one strategy.
type GasPriceResponse struct {
	Strategy  string `json:"strategy"`
	ETA       string `json:"eta"`
	GasPrice  string `json:"gas_price,omitempty"`
	BaseFee   string `json:"base_fee,omitempty"`
	GasTipCap string `json:"gas_tip_cap,omitempty"`
	GasFeeCap string `json:"gas_fee_cap,omitempty"`
}

// GetGasPrice previews the current fee recommendation.
// GET /api/v1/gas/price?strategy=standard
func (h *ChainHandler) GetGasPrice(c *gin.Context) {
	strategy := contract.GasStrategy(c.DefaultQuery("strategy", ""))

	info, err := h.prices.PriceFor(c.Request.Context(), strategy)
	if errors.Is(err, contract.ErrUnknownStrategy) {
		BadRequest(c, "unknown gas strategy")
		return
	}
	if err != nil {
		logger.Error("gas price preview failed", zap.Error(err))
		InternalError(c)
		return
	}

	resp := &GasPriceResponse{
		Strategy: string(info.Strategy),
		ETA:      info.ETA,
	}
	if info.GasPrice != nil {
		resp.GasPrice = info.GasPrice.String()
	}
	if info.BaseFee != nil {
		resp.BaseFee = info.BaseFee.String()
	}
	if info.GasTipCap != nil {
		resp.GasTipCap = info.GasTipCap.String()
	}
	if info.GasFeeCap != nil {
		resp.GasFeeCap = info.GasFeeCap.String()
	}
	Success(c, resp)
}

// GatewayStatusResponse combines gateway and node state.
type GatewayStatusResponse struct {
	gateway.Status
	WalletBalance string `json:"wallet_balance"`
	TrackedCount  int    `json:"tracked_count"`
}

// GetGatewayStatus reports connectivity, wallet balance, and the
// number of actively tracked transactions.
// GET /api/v1/gateway/status
func (h *ChainHandler) GetGatewayStatus(c *gin.Context) {
	resp := &GatewayStatusResponse{
		Status:       h.gateway.Status(),
		TrackedCount: h.statuses.TrackedCount(),
	}
	if balance, err := h.gateway.WalletBalance(c.Request.Context()); err == nil {
		resp.WalletBalance = balance.String()
	}
	Success(c, resp)
}

// RegisterProjectRequest triggers an on-chain project registration.
type RegisterProjectRequest struct {
	OwnerID      string `json:"owner_id" binding:"required"`
	OwnerAddress string `json:"owner_address" binding:"required"`
	Strategy     string `json:"strategy"`
}

// RegisterProject submits a project registration.
// POST /api/v1/projects/:id/register
func (h *ChainHandler) RegisterProject(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		BadRequest(c, "project id is required")
		return
	}

	var req RegisterProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	result, err := h.svc.RegisterProject(c.Request.Context(), &service.RegisterProjectCommand{
		ProjectID:    projectID,
		OwnerID:      req.OwnerID,
		OwnerAddress: req.OwnerAddress,
		Strategy:     req.Strategy,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	Success(c, result)
}

// MintScriptRequest triggers a script NFT mint.
type MintScriptRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
	WriterID  string `json:"writer_id" binding:"required"`
	To        string `json:"to" binding:"required"`
	TokenURI  string `json:"token_uri" binding:"required"`
}

// MintScript mints a script NFT for an accepted submission.
// POST /api/v1/scripts/mint
func (h *ChainHandler) MintScript(c *gin.Context) {
	var req MintScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	result, err := h.svc.MintScriptNFT(c.Request.Context(), &service.MintScriptNFTCommand{
		ProjectID: req.ProjectID,
		WriterID:  req.WriterID,
		To:        req.To,
		TokenURI:  req.TokenURI,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	Success(c, result)
}

func handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrMissingProjectID),
		errors.Is(err, service.ErrMissingTxHash),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, gateway.ErrInvalidRecipient):
		BadRequest(c, err.Error())
	case errors.Is(err, repository.ErrProjectNotFound):
		NotFound(c, "project not found")
	case errors.Is(err, gateway.ErrGatewayDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": codeUnavailable, "message": "gateway disabled"})
	default:
		logger.Error("chain operation failed", zap.Error(err))
		InternalError(c)
	}
}

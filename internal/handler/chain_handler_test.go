package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-abdi/blockcreative-sub000/internal/blockchain"
	"github.com/abdul-abdi/blockcreative-sub000/internal/contract"
	"github.com/abdul-abdi/blockcreative-sub000/internal/gateway"
	"github.com/abdul-abdi/blockcreative-sub000/internal/model"
	"github.com/abdul-abdi/blockcreative-sub000/internal/monitor"
	"github.com/abdul-abdi/blockcreative-sub000/internal/repository"
	"github.com/abdul-abdi/blockcreative-sub000/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStatuses struct {
	records map[string]*model.TransactionRecord
}

func (f *fakeStatuses) GetStatus(txHash string) (*model.TransactionRecord, error) {
	if record, ok := f.records[txHash]; ok {
		return record, nil
	}
	return nil, monitor.ErrNotTracked
}

func (f *fakeStatuses) BatchGetStatus(txHashes []string) []*model.TransactionRecord {
	out := make([]*model.TransactionRecord, 0, len(txHashes))
	for _, hash := range txHashes {
		if record, ok := f.records[hash]; ok {
			out = append(out, record)
		} else {
			out = append(out, &model.TransactionRecord{TxHash: hash, State: model.TxStateUnknown})
		}
	}
	return out
}

func (f *fakeStatuses) TrackedCount() int { return len(f.records) }

type fakePrices struct {
	info *contract.GasPriceInfo
	err  error
}

func (f *fakePrices) PriceFor(_ context.Context, strategy contract.GasStrategy) (*contract.GasPriceInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info := *f.info
	if strategy != "" {
		info.Strategy = strategy
	}
	return &info, nil
}

type fakeGatewayReader struct{}

func (f *fakeGatewayReader) Status() gateway.Status {
	return gateway.Status{Node: blockchain.ConnStatus{Connected: true, ChainID: 31337}}
}

func (f *fakeGatewayReader) WalletBalance(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

type fakeRegistrationService struct {
	registerErr error
	lastCmd     *service.RegisterProjectCommand
}

func (f *fakeRegistrationService) RegisterProject(_ context.Context, cmd *service.RegisterProjectCommand) (*gateway.SubmitResult, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	f.lastCmd = cmd
	return &gateway.SubmitResult{TxHash: "0xsubmitted", Operation: model.OperationProjectRegistration}, nil
}

func (f *fakeRegistrationService) MintScriptNFT(_ context.Context, _ *service.MintScriptNFTCommand) (*gateway.MintResult, error) {
	return &gateway.MintResult{
		SubmitResult: gateway.SubmitResult{TxHash: "0xminted", Operation: model.OperationScriptNFTMint},
		TokenID:      big.NewInt(42),
	}, nil
}

type fakeTxRepo struct {
	rows map[string]*model.ChainTransaction
}

func (f *fakeTxRepo) Create(context.Context, *model.ChainTransaction) error { return nil }

func (f *fakeTxRepo) GetByTxHash(_ context.Context, txHash string) (*model.ChainTransaction, error) {
	if row, ok := f.rows[txHash]; ok {
		return row, nil
	}
	return nil, repository.ErrTransactionNotFound
}

func (f *fakeTxRepo) Complete(context.Context, string) error     { return nil }
func (f *fakeTxRepo) Fail(context.Context, string, string) error { return nil }

func (f *fakeTxRepo) ListByProject(_ context.Context, projectID string, page *repository.Pagination) ([]*model.ChainTransaction, error) {
	var out []*model.ChainTransaction
	for _, row := range f.rows {
		if row.ProjectID == projectID {
			out = append(out, row)
		}
	}
	if page != nil {
		page.Total = int64(len(out))
	}
	return out, nil
}

func (f *fakeTxRepo) ListByUser(context.Context, string, *repository.Pagination) ([]*model.ChainTransaction, error) {
	return nil, nil
}

func (f *fakeTxRepo) ListPending(context.Context, int) ([]*model.ChainTransaction, error) {
	return nil, nil
}

func (f *fakeTxRepo) CountByStatus(context.Context, model.MirrorTxStatus) (int64, error) {
	return 0, nil
}

func newTestHandler() *ChainHandler {
	statuses := &fakeStatuses{records: map[string]*model.TransactionRecord{
		"0xtracked": {
			TxHash:        "0xtracked",
			State:         model.TxStateConfirmed,
			Confirmations: 3,
			GasUsed:       21000,
			Metadata: model.TransactionMetadata{
				Operation: model.OperationProjectRegistration,
				ProjectID: "proj-1",
			},
		},
	}}
	prices := &fakePrices{info: &contract.GasPriceInfo{
		Strategy:  contract.StrategyStandard,
		ETA:       "30-60 sec",
		BaseFee:   big.NewInt(10_000_000_000),
		GasTipCap: big.NewInt(2_000_000_000),
		GasFeeCap: big.NewInt(12_000_000_000),
	}}
	txs := &fakeTxRepo{rows: map[string]*model.ChainTransaction{
		"0xstored": {
			TxHash:    "0xstored",
			Type:      model.OperationEscrowFunding,
			ProjectID: "proj-1",
			Status:    model.MirrorTxStatusCompleted,
		},
	}}
	return NewChainHandler(statuses, prices, &fakeGatewayReader{}, &fakeRegistrationService{}, txs)
}

func serve(h *ChainHandler, method, target string, body interface{}) *httptest.ResponseRecorder {
	health := NewHealthHandler(nil)
	health.SetReady(true)
	engine := NewEngine(h, health)

	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp struct {
		Code int             `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	return data
}

func TestGetTransaction(t *testing.T) {
	h := newTestHandler()

	t.Run("tracked by monitor", func(t *testing.T) {
		w := serve(h, http.MethodGet, "/api/v1/transactions/0xtracked", nil)
		require.Equal(t, http.StatusOK, w.Code)

		data := decodeData(t, w)
		assert.Equal(t, "CONFIRMED", data["state"])
		assert.Equal(t, "monitor", data["source"])
		assert.Equal(t, float64(3), data["confirmations"])
	})

	t.Run("falls back to mirror store", func(t *testing.T) {
		w := serve(h, http.MethodGet, "/api/v1/transactions/0xstored", nil)
		require.Equal(t, http.StatusOK, w.Code)

		data := decodeData(t, w)
		assert.Equal(t, "CONFIRMED", data["state"])
		assert.Equal(t, "store", data["source"])
		assert.Equal(t, "escrow_funding", data["operation"])
	})

	t.Run("unknown everywhere", func(t *testing.T) {
		w := serve(h, http.MethodGet, "/api/v1/transactions/0xnope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestBatchGetTransactions(t *testing.T) {
	h := newTestHandler()

	t.Run("mixed batch", func(t *testing.T) {
		w := serve(h, http.MethodPost, "/api/v1/transactions/batch", &BatchStatusRequest{
			TxHashes: []string{"0xtracked", "0xmissing"},
		})
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data []TransactionStatusResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 2)
		assert.Equal(t, "CONFIRMED", resp.Data[0].State)
		assert.Equal(t, "UNKNOWN", resp.Data[1].State)
	})

	t.Run("empty batch rejected", func(t *testing.T) {
		w := serve(h, http.MethodPost, "/api/v1/transactions/batch", &BatchStatusRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetGasPrice(t *testing.T) {
	h := newTestHandler()

	w := serve(h, http.MethodGet, "/api/v1/gas/price?strategy=fast", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	assert.Equal(t, "fast", data["strategy"])
	assert.Equal(t, "12000000000", data["gas_fee_cap"])
}

func TestGetGatewayStatus(t *testing.T) {
	h := newTestHandler()

	w := serve(h, http.MethodGet, "/api/v1/gateway/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	assert.Equal(t, "1000000", data["wallet_balance"])
	assert.Equal(t, float64(1), data["tracked_count"])
}

func TestRegisterProjectEndpoint(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := &fakeRegistrationService{}
		h := newTestHandler()
		h.svc = svc

		w := serve(h, http.MethodPost, "/api/v1/projects/proj-9/register", &RegisterProjectRequest{
			OwnerID:      "owner-1",
			OwnerAddress: "0x0000000000000000000000000000000000000001",
		})
		require.Equal(t, http.StatusOK, w.Code)

		data := decodeData(t, w)
		assert.Equal(t, "0xsubmitted", data["tx_hash"])
		require.NotNil(t, svc.lastCmd)
		assert.Equal(t, "proj-9", svc.lastCmd.ProjectID)
	})

	t.Run("missing body fields", func(t *testing.T) {
		h := newTestHandler()
		w := serve(h, http.MethodPost, "/api/v1/projects/proj-9/register", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown project maps to 404", func(t *testing.T) {
		h := newTestHandler()
		h.svc = &fakeRegistrationService{registerErr: repository.ErrProjectNotFound}

		w := serve(h, http.MethodPost, "/api/v1/projects/ghost/register", &RegisterProjectRequest{
			OwnerID:      "owner-1",
			OwnerAddress: "0x0000000000000000000000000000000000000001",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("internal failure maps to 500", func(t *testing.T) {
		h := newTestHandler()
		h.svc = &fakeRegistrationService{registerErr: errors.New("node exploded")}

		w := serve(h, http.MethodPost, "/api/v1/projects/proj-9/register", &RegisterProjectRequest{
			OwnerID:      "owner-1",
			OwnerAddress: "0x0000000000000000000000000000000000000001",
		})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestMintScriptEndpoint(t *testing.T) {
	h := newTestHandler()

	w := serve(h, http.MethodPost, "/api/v1/scripts/mint", &MintScriptRequest{
		ProjectID: "proj-1",
		WriterID:  "writer-1",
		To:        "0x0000000000000000000000000000000000000003",
		TokenURI:  "ipfs://script-1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	assert.Equal(t, "0xminted", data["tx_hash"])
	assert.Equal(t, float64(42), data["token_id"])
}

func TestListProjectTransactions(t *testing.T) {
	h := newTestHandler()

	w := serve(h, http.MethodGet, "/api/v1/projects/proj-1/transactions?page=1&page_size=10", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	assert.Equal(t, float64(1), data["total"])
}

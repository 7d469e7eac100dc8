package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-abdi/blockcreative-sub000/internal/model"
)

type fakeHandler struct {
	funds    []*model.FundEscrowRequest
	releases []*model.ReleasePaymentRequest
	err      error
}

func (f *fakeHandler) HandleFundEscrow(_ context.Context, req *model.FundEscrowRequest) error {
	if f.err != nil {
		return f.err
	}
	f.funds = append(f.funds, req)
	return nil
}

func (f *fakeHandler) HandleReleasePayment(_ context.Context, req *model.ReleasePaymentRequest) error {
	if f.err != nil {
		return f.err
	}
	f.releases = append(f.releases, req)
	return nil
}

func TestDispatch(t *testing.T) {
	t.Run("escrow funding", func(t *testing.T) {
		fake := &fakeHandler{}
		h := &groupHandler{handler: fake}

		payload := `{
			"request_id": "req-1",
			"project_id": "proj-1",
			"funder_id": "producer-1",
			"amount": "2.5",
			"created_at": 1700000000000
		}`
		require.NoError(t, h.dispatch(context.Background(), TopicEscrowFunding, []byte(payload)))

		require.Len(t, fake.funds, 1)
		req := fake.funds[0]
		assert.Equal(t, "req-1", req.RequestID)
		assert.Equal(t, "proj-1", req.ProjectID)
		assert.True(t, req.Amount.Equal(decimal.RequireFromString("2.5")))
	})

	t.Run("payment release", func(t *testing.T) {
		fake := &fakeHandler{}
		h := &groupHandler{handler: fake}

		payload := `{
			"request_id": "req-2",
			"project_id": "proj-1",
			"user_id": "writer-1",
			"recipient": "0x0000000000000000000000000000000000000002",
			"amount": "0.75"
		}`
		require.NoError(t, h.dispatch(context.Background(), TopicPaymentRelease, []byte(payload)))

		require.Len(t, fake.releases, 1)
		req := fake.releases[0]
		assert.Equal(t, "req-2", req.RequestID)
		assert.Equal(t, "0x0000000000000000000000000000000000000002", req.Recipient)
	})

	t.Run("malformed payload", func(t *testing.T) {
		h := &groupHandler{handler: &fakeHandler{}}
		err := h.dispatch(context.Background(), TopicEscrowFunding, []byte("{not json"))
		assert.Error(t, err)
	})

	t.Run("handler error propagates", func(t *testing.T) {
		wantErr := errors.New("gateway down")
		h := &groupHandler{handler: &fakeHandler{err: wantErr}}

		payload, _ := json.Marshal(&model.FundEscrowRequest{ProjectID: "proj-1", Amount: decimal.NewFromInt(1)})
		assert.ErrorIs(t, h.dispatch(context.Background(), TopicEscrowFunding, payload), wantErr)
	})

	t.Run("unknown topic ignored", func(t *testing.T) {
		h := &groupHandler{handler: &fakeHandler{}}
		assert.NoError(t, h.dispatch(context.Background(), "mystery-topic", []byte("{}")))
	})
}

func TestConsumerConfig(t *testing.T) {
	cfg := &ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "blockcreative-chain",
	}
	assert.Len(t, cfg.Brokers, 1)
	assert.Equal(t, "blockcreative-chain", cfg.GroupID)
}

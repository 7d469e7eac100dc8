package model

import "github.com/shopspring/decimal"

// FundEscrowRequest is consumed from Kafka when the marketplace backend
// asks for an escrow to be funded on-chain.
type FundEscrowRequest struct {
	RequestID string          `json:"request_id"`
	ProjectID string          `json:"project_id"`
	FunderID  string          `json:"funder_id"`
	Amount    decimal.Decimal `json:"amount"` // native token units
	CreatedAt int64           `json:"created_at"`
}

// ReleasePaymentRequest is consumed from Kafka when the marketplace
// backend asks for an escrow payment to be released to a writer.
type ReleasePaymentRequest struct {
	RequestID string          `json:"request_id"`
	ProjectID string          `json:"project_id"`
	UserID    string          `json:"user_id"`
	Recipient string          `json:"recipient"` // payout wallet address
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt int64           `json:"created_at"`
}

// RegistrationConfirmation is published to Kafka when a project
// registration reaches a terminal monitor state.
type RegistrationConfirmation struct {
	ProjectID      string `json:"project_id"`
	ChainProjectID string `json:"chain_project_id,omitempty"`
	TxHash         string `json:"tx_hash"`
	Confirmations  int    `json:"confirmations"`
	Status         string `json:"status"` // CONFIRMED/FAILED
	Error          string `json:"error,omitempty"`
	ConfirmedAt    int64  `json:"confirmed_at"`
}

// PaymentConfirmation is published to Kafka when an escrow funding or
// payment release reaches a terminal monitor state.
type PaymentConfirmation struct {
	RequestID   string          `json:"request_id"`
	ProjectID   string          `json:"project_id"`
	TxHash      string          `json:"tx_hash"`
	Amount      decimal.Decimal `json:"amount"`
	Operation   OperationType   `json:"operation"`
	Status      string          `json:"status"` // CONFIRMED/FAILED
	Error       string          `json:"error,omitempty"`
	ConfirmedAt int64           `json:"confirmed_at"`
}

package model

import (
	"time"
)

// OperationType identifies the kind of ledger-mutating operation a
// transaction performs.
type OperationType string

const (
	OperationProjectRegistration OperationType = "project_registration"
	OperationScriptNFTMint       OperationType = "script_nft_mint"
	OperationNFTTransfer         OperationType = "nft_transfer"
	OperationEscrowFunding       OperationType = "escrow_funding"
	OperationPaymentRelease      OperationType = "payment_release"
)

// Valid reports whether the operation type is one of the known kinds.
func (o OperationType) Valid() bool {
	switch o {
	case OperationProjectRegistration, OperationScriptNFTMint, OperationNFTTransfer,
		OperationEscrowFunding, OperationPaymentRelease:
		return true
	}
	return false
}

// TxState is the observed state of a submitted transaction.
type TxState int8

const (
	TxStateUnknown   TxState = 0 // not found on the node (pre-broadcast or dropped)
	TxStatePending   TxState = 1 // known to the node, no receipt yet
	TxStateConfirmed TxState = 2 // receipt present, status success
	TxStateFailed    TxState = 3 // receipt present, status failure
	TxStateDropped   TxState = 4 // evicted from the mempool
)

func (s TxState) String() string {
	switch s {
	case TxStateUnknown:
		return "UNKNOWN"
	case TxStatePending:
		return "PENDING"
	case TxStateConfirmed:
		return "CONFIRMED"
	case TxStateFailed:
		return "FAILED"
	case TxStateDropped:
		return "DROPPED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further state change is possible.
func (s TxState) IsTerminal() bool {
	return s == TxStateConfirmed || s == TxStateFailed || s == TxStateDropped
}

// CanTransitionTo enforces forward-only movement through the state
// machine: UNKNOWN → PENDING → {CONFIRMED, FAILED, DROPPED}. A record in
// CONFIRMED may only stay CONFIRMED (confirmation count increments).
func (s TxState) CanTransitionTo(next TxState) bool {
	if s == next {
		return true
	}
	switch s {
	case TxStateUnknown:
		return true
	case TxStatePending:
		return next == TxStateConfirmed || next == TxStateFailed || next == TxStateDropped
	default:
		return false
	}
}

// TransactionMetadata is the immutable descriptor attached to a
// transaction at submission time. It is handed to the monitor by value
// and never mutated afterwards.
type TransactionMetadata struct {
	Operation    OperationType     `json:"operation"`
	UserID       string            `json:"user_id"`
	ProjectID    string            `json:"project_id,omitempty"`
	SubmissionID string            `json:"submission_id,omitempty"`
	Recipient    string            `json:"recipient,omitempty"`
	Amount       string            `json:"amount,omitempty"`
	TokenID      string            `json:"token_id,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// TransactionRecord is the monitor's view of a tracked transaction,
// keyed by transaction hash. Readers receive copies; only the record's
// own poller mutates it.
type TransactionRecord struct {
	TxHash        string              `json:"tx_hash"`
	State         TxState             `json:"state"`
	Confirmations int                 `json:"confirmations"`
	BlockNumber   uint64              `json:"block_number"`
	From          string              `json:"from"`
	To            string              `json:"to"`
	GasUsed       uint64              `json:"gas_used"`
	GasPrice      string              `json:"gas_price"`  // effective price paid, wei
	TotalCost     string              `json:"total_cost"` // gas_used * gas_price, wei
	IncludedAt    time.Time           `json:"included_at"`
	LastError     string              `json:"last_error,omitempty"`
	Metadata      TransactionMetadata `json:"metadata"`
}

// Settled reports whether the record has reached the given confirmation
// threshold.
func (r *TransactionRecord) Settled(threshold int) bool {
	return r.State == TxStateConfirmed && r.Confirmations >= threshold
}

// Clone returns a copy safe to hand to readers.
func (r *TransactionRecord) Clone() *TransactionRecord {
	cp := *r
	if r.Metadata.Extra != nil {
		cp.Metadata.Extra = make(map[string]string, len(r.Metadata.Extra))
		for k, v := range r.Metadata.Extra {
			cp.Metadata.Extra[k] = v
		}
	}
	return &cp
}

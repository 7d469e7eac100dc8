package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ProjectStatus is the marketplace lifecycle status of a project.
type ProjectStatus string

const (
	ProjectStatusDraft        ProjectStatus = "draft"
	ProjectStatusPublished    ProjectStatus = "published"
	ProjectStatusInProduction ProjectStatus = "in_production"
	ProjectStatusCompleted    ProjectStatus = "completed"
)

// Rank orders statuses so reconciliation can promote but never demote.
func (s ProjectStatus) Rank() int {
	switch s {
	case ProjectStatusDraft:
		return 0
	case ProjectStatusPublished:
		return 1
	case ProjectStatusInProduction:
		return 2
	case ProjectStatusCompleted:
		return 3
	default:
		return -1
	}
}

// BlockchainData is the on-chain snapshot persisted onto a project row.
type BlockchainData struct {
	ChainProjectID   string `json:"chain_project_id,omitempty"`
	ContractAddress  string `json:"contract_address,omitempty"`
	TxHash           string `json:"tx_hash"`
	Confirmations    int    `json:"confirmations"`
	Confirmed        bool   `json:"confirmed"`
	Timestamp        int64  `json:"timestamp"`
	ConfirmationTime int64  `json:"confirmation_time,omitempty"`
	FailedAt         int64  `json:"failed_at,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Project is the mirror row for a marketplace project.
type Project struct {
	ID              string        `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	Title           string        `gorm:"column:title;type:varchar(255)" json:"title"`
	OwnerID         string        `gorm:"column:owner_id;type:varchar(64);index" json:"owner_id"`
	Status          ProjectStatus `gorm:"column:status;type:varchar(20);index;not null;default:draft" json:"status"`
	OnChain         bool          `gorm:"column:on_chain;not null;default:false" json:"on_chain"`
	ContractAddress string        `gorm:"column:contract_address;type:varchar(42)" json:"contract_address"`
	BlockchainData  string        `gorm:"column:blockchain_data;type:text" json:"blockchain_data"` // JSON
	CreatedAt       int64         `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt       int64         `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName returns the table name.
func (Project) TableName() string {
	return "chain_projects"
}

// GetBlockchainData parses the JSON snapshot.
func (p *Project) GetBlockchainData() (*BlockchainData, error) {
	if p.BlockchainData == "" {
		return &BlockchainData{}, nil
	}
	var data BlockchainData
	if err := json.Unmarshal([]byte(p.BlockchainData), &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// SetBlockchainData serializes the JSON snapshot.
func (p *Project) SetBlockchainData(data *BlockchainData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	p.BlockchainData = string(raw)
	return nil
}

// MirrorTxStatus is the progress status of a mirror transaction row.
type MirrorTxStatus string

const (
	MirrorTxStatusPending   MirrorTxStatus = "pending"
	MirrorTxStatusCompleted MirrorTxStatus = "completed"
	MirrorTxStatusFailed    MirrorTxStatus = "failed"
)

// ChainTransaction is the mirror row for a submitted ledger operation.
// Created optimistically at submission time in "pending" status; it is
// the durability backstop for the monitor's in-memory tracking.
type ChainTransaction struct {
	ID        string          `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	TxHash    string          `gorm:"column:tx_hash;type:varchar(66);uniqueIndex;not null" json:"tx_hash"`
	Type      OperationType   `gorm:"column:type;type:varchar(32);index;not null" json:"type"`
	UserID    string          `gorm:"column:user_id;type:varchar(64);index" json:"user_id"`
	ProjectID string          `gorm:"column:project_id;type:varchar(64);index" json:"project_id"`
	Amount    decimal.Decimal `gorm:"column:amount;type:decimal(36,18);not null;default:0" json:"amount"`
	Status    MirrorTxStatus  `gorm:"column:status;type:varchar(16);index;not null;default:pending" json:"status"`
	Error     string          `gorm:"column:error;type:varchar(500)" json:"error"`
	Metadata  string          `gorm:"column:metadata;type:text" json:"metadata"` // JSON TransactionMetadata
	CreatedAt int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName returns the table name.
func (ChainTransaction) TableName() string {
	return "chain_transactions"
}

// SetMetadata serializes the submission metadata onto the row.
func (t *ChainTransaction) SetMetadata(meta *TransactionMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	t.Metadata = string(raw)
	return nil
}

// GetMetadata parses the submission metadata.
func (t *ChainTransaction) GetMetadata() (*TransactionMetadata, error) {
	if t.Metadata == "" {
		return &TransactionMetadata{}, nil
	}
	var meta TransactionMetadata
	if err := json.Unmarshal([]byte(t.Metadata), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

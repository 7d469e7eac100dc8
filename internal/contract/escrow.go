package contract

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrZeroAmount = errors.New("zero escrow amount")
)

// EscrowABI is the ABI of the Escrow smart contract.
// This matches the Solidity contract interface:
//
//	function fundProject(uint256 projectId) external payable;
//	function releasePayment(uint256 projectId, address recipient, uint256 amount) external;
//	function escrowBalance(uint256 projectId) external view returns (uint256);
//	event EscrowFunded(uint256 indexed projectId, address indexed funder, uint256 amount);
//	event PaymentReleased(uint256 indexed projectId, address indexed recipient, uint256 amount);
const EscrowABI = `[
	{
		"type": "function",
		"name": "fundProject",
		"inputs": [
			{"name": "projectId", "type": "uint256"}
		],
		"outputs": [],
		"stateMutability": "payable"
	},
	{
		"type": "function",
		"name": "releasePayment",
		"inputs": [
			{"name": "projectId", "type": "uint256"},
			{"name": "recipient", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "escrowBalance",
		"inputs": [
			{"name": "projectId", "type": "uint256"}
		],
		"outputs": [
			{"name": "balance", "type": "uint256"}
		],
		"stateMutability": "view"
	},
	{
		"type": "event",
		"name": "EscrowFunded",
		"inputs": [
			{"name": "projectId", "type": "uint256", "indexed": true},
			{"name": "funder", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "PaymentReleased",
		"inputs": [
			{"name": "projectId", "type": "uint256", "indexed": true},
			{"name": "recipient", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false}
		]
	}
]`

// EscrowFundedEvent is the decoded EscrowFunded log.
type EscrowFundedEvent struct {
	ProjectID *big.Int       `json:"projectId"`
	Funder    common.Address `json:"funder"`
	Amount    *big.Int       `json:"amount"`
	Raw       types.Log
}

// PaymentReleasedEvent is the decoded PaymentReleased log.
type PaymentReleasedEvent struct {
	ProjectID *big.Int       `json:"projectId"`
	Recipient common.Address `json:"recipient"`
	Amount    *big.Int       `json:"amount"`
	Raw       types.Log
}

// EscrowContract wraps the Escrow smart contract.
type EscrowContract struct {
	address common.Address
	abi     abi.ABI
	caller  ContractCaller
}

// NewEscrowContract creates an Escrow binding.
func NewEscrowContract(address common.Address, caller ContractCaller) (*EscrowContract, error) {
	parsed, err := abi.JSON(strings.NewReader(EscrowABI))
	if err != nil {
		return nil, err
	}

	return &EscrowContract{
		address: address,
		abi:     parsed,
		caller:  caller,
	}, nil
}

// Address returns the contract address.
func (c *EscrowContract) Address() common.Address {
	return c.address
}

// PackFundProject packs the fundProject call data. The amount rides in
// the transaction value, not the calldata.
func (c *EscrowContract) PackFundProject(projectID *big.Int) ([]byte, error) {
	return c.abi.Pack("fundProject", projectID)
}

// PackReleasePayment packs the releasePayment call data.
func (c *EscrowContract) PackReleasePayment(projectID *big.Int, recipient common.Address, amount *big.Int) ([]byte, error) {
	if recipient == (common.Address{}) {
		return nil, ErrZeroRecipient
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	return c.abi.Pack("releasePayment", projectID, recipient, amount)
}

// EscrowBalance queries the held balance for a project.
func (c *EscrowContract) EscrowBalance(ctx context.Context, projectID *big.Int) (*big.Int, error) {
	data, err := c.abi.Pack("escrowBalance", projectID)
	if err != nil {
		return nil, err
	}

	result, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Balance *big.Int
	}
	if err := c.abi.UnpackIntoInterface(&out, "escrowBalance", result); err != nil {
		return nil, err
	}
	return out.Balance, nil
}

// ParseEscrowFunded decodes an EscrowFunded event from a log.
func (c *EscrowContract) ParseEscrowFunded(log types.Log) (*EscrowFundedEvent, error) {
	if len(log.Topics) < 3 {
		return nil, ErrEventTopicMissing
	}

	ev := &EscrowFundedEvent{Raw: log}
	ev.ProjectID = new(big.Int).SetBytes(log.Topics[1].Bytes())
	ev.Funder = common.BytesToAddress(log.Topics[2].Bytes())

	if err := c.abi.UnpackIntoInterface(ev, "EscrowFunded", log.Data); err != nil {
		return nil, err
	}
	return ev, nil
}

// ParsePaymentReleased decodes a PaymentReleased event from a log.
func (c *EscrowContract) ParsePaymentReleased(log types.Log) (*PaymentReleasedEvent, error) {
	if len(log.Topics) < 3 {
		return nil, ErrEventTopicMissing
	}

	ev := &PaymentReleasedEvent{Raw: log}
	ev.ProjectID = new(big.Int).SetBytes(log.Topics[1].Bytes())
	ev.Recipient = common.BytesToAddress(log.Topics[2].Bytes())

	if err := c.abi.UnpackIntoInterface(ev, "PaymentReleased", log.Data); err != nil {
		return nil, err
	}
	return ev, nil
}

// EscrowFundedTopic returns the topic hash of EscrowFunded.
func (c *EscrowContract) EscrowFundedTopic() common.Hash {
	return c.abi.Events["EscrowFunded"].ID
}

// PaymentReleasedTopic returns the topic hash of PaymentReleased.
func (c *EscrowContract) PaymentReleasedTopic() common.Hash {
	return c.abi.Events["PaymentReleased"].ID
}

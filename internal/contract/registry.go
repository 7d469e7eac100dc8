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
	ErrEmptyProjectHash    = errors.New("empty project hash")
	ErrEventTopicMissing   = errors.New("log is missing indexed topics")
	ErrRegisterEventAbsent = errors.New("receipt contains no ProjectRegistered event")
)

// ContractCaller is the read-only node surface the bindings use.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ProjectRegistryABI is the ABI of the ProjectRegistry smart contract.
// This matches the Solidity contract interface:
//
//	function registerProject(address owner, bytes32 projectHash) external returns (uint256);
//	function getProject(uint256 projectId) external view returns (address, bytes32, uint256);
//	event ProjectRegistered(uint256 indexed projectId, address indexed owner, bytes32 projectHash);
const ProjectRegistryABI = `[
	{
		"type": "function",
		"name": "registerProject",
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "projectHash", "type": "bytes32"}
		],
		"outputs": [
			{"name": "projectId", "type": "uint256"}
		],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "getProject",
		"inputs": [
			{"name": "projectId", "type": "uint256"}
		],
		"outputs": [
			{
				"name": "project",
				"type": "tuple",
				"components": [
					{"name": "owner", "type": "address"},
					{"name": "projectHash", "type": "bytes32"},
					{"name": "registeredAt", "type": "uint256"}
				]
			}
		],
		"stateMutability": "view"
	},
	{
		"type": "event",
		"name": "ProjectRegistered",
		"inputs": [
			{"name": "projectId", "type": "uint256", "indexed": true},
			{"name": "owner", "type": "address", "indexed": true},
			{"name": "projectHash", "type": "bytes32", "indexed": false}
		]
	}
]`

// ProjectInfo is the on-chain view of a registered project.
type ProjectInfo struct {
	Owner        common.Address `json:"owner"`
	ProjectHash  [32]byte       `json:"projectHash"`
	RegisteredAt *big.Int       `json:"registeredAt"`
}

// ProjectRegisteredEvent is the decoded ProjectRegistered log.
type ProjectRegisteredEvent struct {
	ProjectID   *big.Int       `json:"projectId"`
	Owner       common.Address `json:"owner"`
	ProjectHash [32]byte       `json:"projectHash"`
	Raw         types.Log
}

// RegistryContract wraps the ProjectRegistry smart contract.
type RegistryContract struct {
	address common.Address
	abi     abi.ABI
	caller  ContractCaller
}

// NewRegistryContract creates a ProjectRegistry binding.
func NewRegistryContract(address common.Address, caller ContractCaller) (*RegistryContract, error) {
	parsed, err := abi.JSON(strings.NewReader(ProjectRegistryABI))
	if err != nil {
		return nil, err
	}

	return &RegistryContract{
		address: address,
		abi:     parsed,
		caller:  caller,
	}, nil
}

// Address returns the contract address.
func (c *RegistryContract) Address() common.Address {
	return c.address
}

// PackRegisterProject packs the registerProject call data.
func (c *RegistryContract) PackRegisterProject(owner common.Address, projectHash [32]byte) ([]byte, error) {
	if projectHash == ([32]byte{}) {
		return nil, ErrEmptyProjectHash
	}
	return c.abi.Pack("registerProject", owner, projectHash)
}

// GetProject queries the on-chain record of a project.
func (c *RegistryContract) GetProject(ctx context.Context, projectID *big.Int) (*ProjectInfo, error) {
	data, err := c.abi.Pack("getProject", projectID)
	if err != nil {
		return nil, err
	}

	result, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, err
	}

	var info ProjectInfo
	if err := c.abi.UnpackIntoInterface(&info, "getProject", result); err != nil {
		return nil, err
	}
	return &info, nil
}

// ParseProjectRegistered decodes a ProjectRegistered event from a log.
func (c *RegistryContract) ParseProjectRegistered(log types.Log) (*ProjectRegisteredEvent, error) {
	if len(log.Topics) < 3 {
		return nil, ErrEventTopicMissing
	}

	ev := &ProjectRegisteredEvent{Raw: log}
	ev.ProjectID = new(big.Int).SetBytes(log.Topics[1].Bytes())
	ev.Owner = common.BytesToAddress(log.Topics[2].Bytes())

	if err := c.abi.UnpackIntoInterface(ev, "ProjectRegistered", log.Data); err != nil {
		return nil, err
	}
	return ev, nil
}

// RegisteredProjectID extracts the on-chain project id from a
// registration receipt. The id is only assigned inside the
// ProjectRegistered event, so a receipt without one is an error even
// when the transaction itself succeeded.
func (c *RegistryContract) RegisteredProjectID(receipt *types.Receipt) (*big.Int, error) {
	topic := c.ProjectRegisteredTopic()
	for _, log := range receipt.Logs {
		if log.Address != c.address || len(log.Topics) == 0 || log.Topics[0] != topic {
			continue
		}
		ev, err := c.ParseProjectRegistered(*log)
		if err != nil {
			return nil, err
		}
		return ev.ProjectID, nil
	}
	return nil, ErrRegisterEventAbsent
}

// ProjectRegisteredTopic returns the topic hash of ProjectRegistered.
func (c *RegistryContract) ProjectRegisteredTopic() common.Hash {
	return c.abi.Events["ProjectRegistered"].ID
}

// StringToBytes32 converts a string to a [32]byte array.
func StringToBytes32(s string) [32]byte {
	var result [32]byte
	copy(result[:], []byte(s))
	return result
}

// Bytes32ToString converts a [32]byte array back, trimming null bytes.
func Bytes32ToString(b [32]byte) string {
	n := 0
	for n < 32 && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

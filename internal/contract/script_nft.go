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
	ErrEmptyTokenURI   = errors.New("empty token URI")
	ErrZeroRecipient   = errors.New("zero recipient address")
	ErrMintEventAbsent = errors.New("mint receipt contains no ScriptMinted event")
)

// ScriptNFTABI is the ABI of the ScriptNFT smart contract.
// This matches the Solidity contract interface:
//
//	function mintScript(address to, uint256 projectId, string tokenURI) external returns (uint256);
//	function transferScript(address from, address to, uint256 tokenId) external;
//	function ownerOf(uint256 tokenId) external view returns (address);
//	event ScriptMinted(uint256 indexed tokenId, uint256 indexed projectId, address to);
//	event ScriptTransferred(uint256 indexed tokenId, address indexed from, address to);
const ScriptNFTABI = `[
	{
		"type": "function",
		"name": "mintScript",
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "projectId", "type": "uint256"},
			{"name": "tokenURI", "type": "string"}
		],
		"outputs": [
			{"name": "tokenId", "type": "uint256"}
		],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "transferScript",
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "tokenId", "type": "uint256"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "ownerOf",
		"inputs": [
			{"name": "tokenId", "type": "uint256"}
		],
		"outputs": [
			{"name": "owner", "type": "address"}
		],
		"stateMutability": "view"
	},
	{
		"type": "event",
		"name": "ScriptMinted",
		"inputs": [
			{"name": "tokenId", "type": "uint256", "indexed": true},
			{"name": "projectId", "type": "uint256", "indexed": true},
			{"name": "to", "type": "address", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "ScriptTransferred",
		"inputs": [
			{"name": "tokenId", "type": "uint256", "indexed": true},
			{"name": "from", "type": "address", "indexed": true},
			{"name": "to", "type": "address", "indexed": false}
		]
	}
]`

// ScriptMintedEvent is the decoded ScriptMinted log.
type ScriptMintedEvent struct {
	TokenID   *big.Int       `json:"tokenId"`
	ProjectID *big.Int       `json:"projectId"`
	To        common.Address `json:"to"`
	Raw       types.Log
}

// ScriptTransferredEvent is the decoded ScriptTransferred log.
type ScriptTransferredEvent struct {
	TokenID *big.Int       `json:"tokenId"`
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	Raw     types.Log
}

// ScriptNFTContract wraps the ScriptNFT smart contract.
type ScriptNFTContract struct {
	address common.Address
	abi     abi.ABI
	caller  ContractCaller
}

// NewScriptNFTContract creates a ScriptNFT binding.
func NewScriptNFTContract(address common.Address, caller ContractCaller) (*ScriptNFTContract, error) {
	parsed, err := abi.JSON(strings.NewReader(ScriptNFTABI))
	if err != nil {
		return nil, err
	}

	return &ScriptNFTContract{
		address: address,
		abi:     parsed,
		caller:  caller,
	}, nil
}

// Address returns the contract address.
func (c *ScriptNFTContract) Address() common.Address {
	return c.address
}

// PackMintScript packs the mintScript call data.
func (c *ScriptNFTContract) PackMintScript(to common.Address, projectID *big.Int, tokenURI string) ([]byte, error) {
	if to == (common.Address{}) {
		return nil, ErrZeroRecipient
	}
	if tokenURI == "" {
		return nil, ErrEmptyTokenURI
	}
	return c.abi.Pack("mintScript", to, projectID, tokenURI)
}

// PackTransferScript packs the transferScript call data.
func (c *ScriptNFTContract) PackTransferScript(from, to common.Address, tokenID *big.Int) ([]byte, error) {
	if to == (common.Address{}) {
		return nil, ErrZeroRecipient
	}
	return c.abi.Pack("transferScript", from, to, tokenID)
}

// OwnerOf queries the current owner of a token.
func (c *ScriptNFTContract) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	data, err := c.abi.Pack("ownerOf", tokenID)
	if err != nil {
		return common.Address{}, err
	}

	result, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return common.Address{}, err
	}

	var out struct {
		Owner common.Address
	}
	if err := c.abi.UnpackIntoInterface(&out, "ownerOf", result); err != nil {
		return common.Address{}, err
	}
	return out.Owner, nil
}

// ParseScriptMinted decodes a ScriptMinted event from a log.
func (c *ScriptNFTContract) ParseScriptMinted(log types.Log) (*ScriptMintedEvent, error) {
	if len(log.Topics) < 3 {
		return nil, ErrEventTopicMissing
	}

	ev := &ScriptMintedEvent{Raw: log}
	ev.TokenID = new(big.Int).SetBytes(log.Topics[1].Bytes())
	ev.ProjectID = new(big.Int).SetBytes(log.Topics[2].Bytes())

	if err := c.abi.UnpackIntoInterface(ev, "ScriptMinted", log.Data); err != nil {
		return nil, err
	}
	return ev, nil
}

// MintedTokenID extracts the minted token id from a receipt. The token
// id only exists in the ScriptMinted event, so a receipt without one
// is an error even when the transaction itself succeeded.
func (c *ScriptNFTContract) MintedTokenID(receipt *types.Receipt) (*big.Int, error) {
	topic := c.ScriptMintedTopic()
	for _, log := range receipt.Logs {
		if log.Address != c.address || len(log.Topics) == 0 || log.Topics[0] != topic {
			continue
		}
		ev, err := c.ParseScriptMinted(*log)
		if err != nil {
			return nil, err
		}
		return ev.TokenID, nil
	}
	return nil, ErrMintEventAbsent
}

// ParseScriptTransferred decodes a ScriptTransferred event from a log.
func (c *ScriptNFTContract) ParseScriptTransferred(log types.Log) (*ScriptTransferredEvent, error) {
	if len(log.Topics) < 3 {
		return nil, ErrEventTopicMissing
	}

	ev := &ScriptTransferredEvent{Raw: log}
	ev.TokenID = new(big.Int).SetBytes(log.Topics[1].Bytes())
	ev.From = common.BytesToAddress(log.Topics[2].Bytes())

	if err := c.abi.UnpackIntoInterface(ev, "ScriptTransferred", log.Data); err != nil {
		return nil, err
	}
	return ev, nil
}

// ScriptMintedTopic returns the topic hash of ScriptMinted.
func (c *ScriptNFTContract) ScriptMintedTopic() common.Hash {
	return c.abi.Events["ScriptMinted"].ID
}

// ScriptTransferredTopic returns the topic hash of ScriptTransferred.
func (c *ScriptNFTContract) ScriptTransferredTopic() common.Hash {
	return c.abi.Events["ScriptTransferred"].ID
}

package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// credentialABI covers the two contract members the service touches: the
// mint function and the event that reports the assigned token id.
const credentialABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "to", "type": "address"},
			{"internalType": "string", "name": "skillName", "type": "string"},
			{"internalType": "string", "name": "category", "type": "string"},
			{"internalType": "uint256", "name": "verificationScore", "type": "uint256"},
			{"internalType": "string", "name": "metadataURI", "type": "string"}
		],
		"name": "mintSkill",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "tokenId", "type": "uint256"},
			{"indexed": true, "internalType": "address", "name": "to", "type": "address"},
			{"indexed": false, "internalType": "string", "name": "skillName", "type": "string"},
			{"indexed": false, "internalType": "string", "name": "category", "type": "string"},
			{"indexed": false, "internalType": "uint256", "name": "verificationScore", "type": "uint256"}
		],
		"name": "SkillMinted",
		"type": "event"
	}
]`

const (
	mintMethod  = "mintSkill"
	mintedEvent = "SkillMinted"
)

// contract binds the parsed ABI to a deployed address.
type contract struct {
	address common.Address
	abi     abi.ABI
}

func newContract(address common.Address) (*contract, error) {
	parsed, err := abi.JSON(strings.NewReader(credentialABI))
	if err != nil {
		return nil, fmt.Errorf("parse credential ABI: %w", err)
	}
	return &contract{address: address, abi: parsed}, nil
}

func (c *contract) packMint(req MintRequest) ([]byte, error) {
	return c.abi.Pack(mintMethod,
		req.To,
		req.SkillName,
		req.Category,
		new(big.Int).SetUint64(req.Score),
		req.MetadataURI,
	)
}

// mintedTokenID finds the SkillMinted log emitted by this contract in the
// receipt and returns its indexed token id.
func (c *contract) mintedTokenID(receipt *types.Receipt) (*big.Int, bool) {
	topic := c.abi.Events[mintedEvent].ID
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.address || len(l.Topics) < 2 {
			continue
		}
		if l.Topics[0] != topic {
			continue
		}
		return new(big.Int).SetBytes(l.Topics[1].Bytes()), true
	}
	return nil, false
}

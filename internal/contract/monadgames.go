// Package contract provides the smart contract ABI binding for the
// MonadGames ID leaderboard contract. The binding is generated based on
// the contract ABI and provides type-safe methods for submitting and
// reading per-player score data:
//
//	function updatePlayerData(address player, uint256 scoreAmount, uint256 transactionAmount) external;
//	function totalScoreOfPlayer(address player) external view returns (uint256);
//	function totalTransactionsOfPlayer(address player) external view returns (uint256);
//	function playerDataPerGame(address game, address player) external view returns (uint256 score, uint256 transactions);
package contract

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// MonadGames contract errors
var (
	ErrZeroPlayerAddress = errors.New("zero player address")
	ErrNegativeAmount    = errors.New("negative score or transaction amount")
)

// MonadGamesABI is the ABI of the MonadGames ID leaderboard contract.
const MonadGamesABI = `[
	{
		"type": "function",
		"name": "updatePlayerData",
		"inputs": [
			{"name": "player", "type": "address"},
			{"name": "scoreAmount", "type": "uint256"},
			{"name": "transactionAmount", "type": "uint256"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "totalScoreOfPlayer",
		"inputs": [
			{"name": "player", "type": "address"}
		],
		"outputs": [
			{"name": "", "type": "uint256"}
		],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "totalTransactionsOfPlayer",
		"inputs": [
			{"name": "player", "type": "address"}
		],
		"outputs": [
			{"name": "", "type": "uint256"}
		],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "playerDataPerGame",
		"inputs": [
			{"name": "game", "type": "address"},
			{"name": "player", "type": "address"}
		],
		"outputs": [
			{"name": "score", "type": "uint256"},
			{"name": "transactions", "type": "uint256"}
		],
		"stateMutability": "view"
	}
]`

// PlayerData holds the per-game score and transaction counters for a player.
type PlayerData struct {
	Score        *big.Int `json:"score"`
	Transactions *big.Int `json:"transactions"`
}

// Caller abstracts the read-only contract call capability of the chain client.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// MonadGamesContract provides methods to interact with the MonadGames
// ID leaderboard contract.
type MonadGamesContract struct {
	address common.Address
	abi     abi.ABI
	caller  Caller
}

// NewMonadGamesContract creates a new MonadGames contract instance.
func NewMonadGamesContract(address common.Address, caller Caller) (*MonadGamesContract, error) {
	parsed, err := abi.JSON(strings.NewReader(MonadGamesABI))
	if err != nil {
		return nil, err
	}

	return &MonadGamesContract{
		address: address,
		abi:     parsed,
		caller:  caller,
	}, nil
}

// Address returns the contract address.
func (c *MonadGamesContract) Address() common.Address {
	return c.address
}

// ABI returns the contract ABI.
func (c *MonadGamesContract) ABI() abi.ABI {
	return c.abi
}

// PackUpdatePlayerData packs the updatePlayerData function call data.
func (c *MonadGamesContract) PackUpdatePlayerData(player common.Address, scoreAmount, transactionAmount int64) ([]byte, error) {
	if player == (common.Address{}) {
		return nil, ErrZeroPlayerAddress
	}
	if scoreAmount < 0 || transactionAmount < 0 {
		return nil, ErrNegativeAmount
	}
	return c.abi.Pack("updatePlayerData", player, big.NewInt(scoreAmount), big.NewInt(transactionAmount))
}

// TotalScoreOfPlayer queries the cumulative on-chain score of a player
// across all registered games.
func (c *MonadGamesContract) TotalScoreOfPlayer(ctx context.Context, player common.Address) (*big.Int, error) {
	result, err := c.call(ctx, "totalScoreOfPlayer", player)
	if err != nil {
		return nil, err
	}

	values, err := c.abi.Unpack("totalScoreOfPlayer", result)
	if err != nil {
		return nil, err
	}

	return values[0].(*big.Int), nil
}

// TotalTransactionsOfPlayer queries the cumulative on-chain transaction
// count of a player across all registered games.
func (c *MonadGamesContract) TotalTransactionsOfPlayer(ctx context.Context, player common.Address) (*big.Int, error) {
	result, err := c.call(ctx, "totalTransactionsOfPlayer", player)
	if err != nil {
		return nil, err
	}

	values, err := c.abi.Unpack("totalTransactionsOfPlayer", result)
	if err != nil {
		return nil, err
	}

	return values[0].(*big.Int), nil
}

// PlayerDataPerGame queries the score and transaction counters a player
// has accumulated under a specific game wallet.
func (c *MonadGamesContract) PlayerDataPerGame(ctx context.Context, game, player common.Address) (*PlayerData, error) {
	result, err := c.call(ctx, "playerDataPerGame", game, player)
	if err != nil {
		return nil, err
	}

	var data PlayerData
	err = c.abi.UnpackIntoInterface(&data, "playerDataPerGame", result)
	if err != nil {
		return nil, err
	}

	return &data, nil
}

func (c *MonadGamesContract) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{
		To:   &c.address,
		Data: data,
	}

	return c.caller.CallContract(ctx, msg, nil)
}

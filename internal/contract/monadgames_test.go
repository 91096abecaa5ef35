package contract

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testContractAddr = common.HexToAddress("0xceCBFF203C8B6044F52CE23D914A1bfD997541A4")
	testGameAddr     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testPlayerAddr   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// stubCaller returns canned ABI-encoded outputs and records the last call.
type stubCaller struct {
	result  []byte
	err     error
	lastMsg ethereum.CallMsg
}

func (s *stubCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	s.lastMsg = msg
	return s.result, s.err
}

func TestMonadGamesContract_PackUpdatePlayerData(t *testing.T) {
	c, err := NewMonadGamesContract(testContractAddr, &stubCaller{})
	require.NoError(t, err)

	data, err := c.PackUpdatePlayerData(testPlayerAddr, 250, 1)
	require.NoError(t, err)

	// 4-byte selector plus three 32-byte words
	require.Len(t, data, 4+3*32)
	assert.Equal(t, c.ABI().Methods["updatePlayerData"].ID, data[:4])

	_, err = c.PackUpdatePlayerData(common.Address{}, 250, 1)
	assert.ErrorIs(t, err, ErrZeroPlayerAddress)

	_, err = c.PackUpdatePlayerData(testPlayerAddr, -1, 1)
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestMonadGamesContract_TotalScoreOfPlayer(t *testing.T) {
	caller := &stubCaller{}
	c, err := NewMonadGamesContract(testContractAddr, caller)
	require.NoError(t, err)

	caller.result, err = c.ABI().Methods["totalScoreOfPlayer"].Outputs.Pack(big.NewInt(1500))
	require.NoError(t, err)

	score, err := c.TotalScoreOfPlayer(context.Background(), testPlayerAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), score.Int64())
	assert.Equal(t, testContractAddr, *caller.lastMsg.To)
}

func TestMonadGamesContract_PlayerDataPerGame(t *testing.T) {
	caller := &stubCaller{}
	c, err := NewMonadGamesContract(testContractAddr, caller)
	require.NoError(t, err)

	caller.result, err = c.ABI().Methods["playerDataPerGame"].Outputs.Pack(big.NewInt(720), big.NewInt(3))
	require.NoError(t, err)

	data, err := c.PlayerDataPerGame(context.Background(), testGameAddr, testPlayerAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(720), data.Score.Int64())
	assert.Equal(t, int64(3), data.Transactions.Int64())
}

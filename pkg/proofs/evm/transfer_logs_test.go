package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func transferLog(token, from, to common.Address, amount *big.Int) *types.Log {
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(amount.Bytes(), 32),
	}
}

func TestDecodeTransferLogs(t *testing.T) {
	token := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	amount := big.NewInt(1_000_000)

	approvalTopic := crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))
	logs := []*types.Log{
		nil,
		{Address: token, Topics: []common.Hash{transferTopic}}, // indexed params missing
		{Address: token, Topics: []common.Hash{approvalTopic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())}},
		transferLog(token, from, to, amount),
	}

	events := DecodeTransferLogs(logs)
	if len(events) != 1 {
		t.Fatalf("decoded %d events, want 1", len(events))
	}
	event := events[0]
	if event.Token != token {
		t.Errorf("Token = %s, want %s", event.Token, token)
	}
	if event.From != from {
		t.Errorf("From = %s, want %s", event.From, from)
	}
	if event.To != to {
		t.Errorf("To = %s, want %s", event.To, to)
	}
	if event.Amount.Cmp(amount) != 0 {
		t.Errorf("Amount = %s, want %s", event.Amount, amount)
	}
}

func TestDecodeTransferLogs_MultipleTokens(t *testing.T) {
	usdc := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	other := common.HexToAddress("0x9999999999999999999999999999999999999999")
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")

	logs := []*types.Log{
		transferLog(other, from, to, big.NewInt(5)),
		transferLog(usdc, from, to, big.NewInt(7)),
	}

	events := DecodeTransferLogs(logs)
	if len(events) != 2 {
		t.Fatalf("decoded %d events, want 2", len(events))
	}
	if events[0].Token != other || events[1].Token != usdc {
		t.Error("decoder must preserve log order and emitting contract")
	}
}

func TestDecodeTransferLogs_Empty(t *testing.T) {
	if events := DecodeTransferLogs(nil); len(events) != 0 {
		t.Errorf("decoded %d events from nil logs", len(events))
	}
}

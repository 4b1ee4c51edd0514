package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// transferTopic is the Keccak-256 hash of the canonical ERC-20 event
// signature Transfer(address indexed from, address indexed to, uint256 value).
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// TransferEvent is one decoded ERC-20 Transfer log.
type TransferEvent struct {
	Token    common.Address // emitting contract
	From     common.Address
	To       common.Address
	Amount   *big.Int
	LogIndex uint
}

// DecodeTransferLogs extracts ERC-20 Transfer events from a receipt's logs.
// A log qualifies iff it has at least 3 topics and its first topic is the
// Transfer signature hash. The from and to addresses are recovered from the
// low 20 bytes of the indexed topics; the amount is the log data as an
// unsigned integer. Logs from unrelated contracts and events are skipped,
// never treated as errors.
func DecodeTransferLogs(logs []*types.Log) []TransferEvent {
	events := make([]TransferEvent, 0, len(logs))
	for _, log := range logs {
		if log == nil || len(log.Topics) < 3 {
			continue
		}
		if log.Topics[0] != transferTopic {
			continue
		}
		events = append(events, TransferEvent{
			Token:    log.Address,
			From:     common.BytesToAddress(log.Topics[1].Bytes()),
			To:       common.BytesToAddress(log.Topics[2].Bytes()),
			Amount:   new(big.Int).SetBytes(log.Data),
			LogIndex: log.Index,
		})
	}
	return events
}

// Package chain watches a donation contract and turns its confirmed logs
// into DonationEvents for the delivery pipeline.
package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DonationEvent is one confirmed donation observed on chain. Immutable once
// decoded; the watcher may hand the same event over more than once after a
// transport reconnect (at-least-once, no durable checkpoint).
type DonationEvent struct {
	Sender    common.Address
	Recipient common.Address
	Name      string
	Message   string
	Amount    *big.Int
	TxHash    common.Hash
}

// eventABITemplate matches the contract's donation event:
//
//	event Donation(address indexed sender, address indexed recipient,
//	               string name, string message, uint256 amount)
//
// The event name is configuration; only the shape is fixed.
const eventABITemplate = `[{"anonymous":false,"inputs":[` +
	`{"indexed":true,"internalType":"address","name":"sender","type":"address"},` +
	`{"indexed":true,"internalType":"address","name":"recipient","type":"address"},` +
	`{"indexed":false,"internalType":"string","name":"name","type":"string"},` +
	`{"indexed":false,"internalType":"string","name":"message","type":"string"},` +
	`{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],` +
	`"name":%q,"type":"event"}]`

func parseEventABI(eventName string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(fmt.Sprintf(eventABITemplate, eventName)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse event ABI: %w", err)
	}
	if _, ok := parsed.Events[eventName]; !ok {
		return abi.ABI{}, fmt.Errorf("event %q not present in ABI", eventName)
	}
	return parsed, nil
}

// decodeLog unpacks a raw contract log into a DonationEvent.
func decodeLog(contractABI abi.ABI, eventName string, lg types.Log) (DonationEvent, error) {
	event := contractABI.Events[eventName]
	if len(lg.Topics) != 3 {
		return DonationEvent{}, fmt.Errorf("log has %d topics, want 3", len(lg.Topics))
	}
	if lg.Topics[0] != event.ID {
		return DonationEvent{}, fmt.Errorf("log topic %s does not match event %s", lg.Topics[0], eventName)
	}

	var payload struct {
		Name    string
		Message string
		Amount  *big.Int
	}
	if err := contractABI.UnpackIntoInterface(&payload, eventName, lg.Data); err != nil {
		return DonationEvent{}, fmt.Errorf("unpack %s log: %w", eventName, err)
	}

	return DonationEvent{
		Sender:    common.BytesToAddress(lg.Topics[1].Bytes()),
		Recipient: common.BytesToAddress(lg.Topics[2].Bytes()),
		Name:      payload.Name,
		Message:   payload.Message,
		Amount:    payload.Amount,
		TxHash:    lg.TxHash,
	}, nil
}

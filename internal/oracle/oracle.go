package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/avalkov/peerai-ledger/internal/apperr"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

type ReceiptStatus int

const (
	ReceiptReverted ReceiptStatus = iota
	ReceiptSuccess
)

func (s ReceiptStatus) String() string {
	if s == ReceiptSuccess {
		return "success"
	}
	return "reverted"
}

// Transaction is a transaction as observed on the ledger, mined or not.
type Transaction struct {
	Hash    common.Hash
	From    common.Address
	To      *common.Address
	Value   *big.Int
	Pending bool
}

// Receipt is only present once the transaction is included in a block.
type Receipt struct {
	TxHash      common.Hash
	Status      ReceiptStatus
	BlockNumber uint64
	BlockHash   common.Hash
	GasUsed     uint64
	LogsCount   int
	Transfers   []Transfer
}

// Transfer is an ERC-20 Transfer event emitted by the token contract.
type Transfer struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// RevertError carries the reason a contract call or gas estimation reverted.
type RevertError struct {
	Method string
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: execution reverted", e.Method)
	}
	return fmt.Sprintf("%s: execution reverted: %s", e.Method, e.Reason)
}

// RevertReason reports the revert reason found anywhere in err's chain.
func RevertReason(err error) (string, bool) {
	var revert *RevertError
	if errors.As(err, &revert) {
		return revert.Reason, true
	}
	return "", false
}

// IsRevert reports whether err is a revert whose reason contains substr.
func IsRevert(err error, substr string) bool {
	reason, ok := RevertReason(err)
	return ok && strings.Contains(reason, substr)
}

const revertPrefix = "execution reverted"

// asRevert extracts a revert from a raw node error. Nodes report the ABI
// encoded reason as error data; older ones only put it in the message.
func asRevert(method string, err error) (*RevertError, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, ok := dataErr.ErrorData().(string); ok {
			if reason, unpackErr := abi.UnpackRevert(common.FromHex(data)); unpackErr == nil {
				return &RevertError{Method: method, Reason: reason}, true
			}
		}
	}

	msg := err.Error()
	idx := strings.Index(msg, revertPrefix)
	if idx < 0 {
		return nil, false
	}
	reason := strings.TrimSpace(strings.TrimPrefix(msg[idx+len(revertPrefix):], ":"))
	return &RevertError{Method: method, Reason: reason}, true
}

// failure translates a transport level error. Caller cancellation is passed
// through untouched, everything else (including our own call timeout) means
// the oracle could not be reached.
func failure(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, apperr.ErrOracleUnavailable, err)
}

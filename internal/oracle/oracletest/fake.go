// Package oracletest provides an in-memory ledger oracle for tests.
package oracletest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/avalkov/peerai-ledger/internal/apperr"
	"github.com/avalkov/peerai-ledger/internal/oracle"
	"github.com/ethereum/go-ethereum/common"
)

// ViewFunc answers a contract view call.
type ViewFunc func(args ...interface{}) ([]interface{}, error)

type Sent struct {
	Contract oracle.Contract
	Method   string
	Args     []interface{}
	Hash     common.Hash
}

// Oracle is a scriptable oracle. Receipts are served from a per-hash queue:
// each GetReceipt pops the next entry, and the last entry repeats.
type Oracle struct {
	mu sync.Mutex

	Transactions map[common.Hash]*oracle.Transaction
	receipts     map[common.Hash][]*oracle.Receipt
	Views        map[string]ViewFunc

	TransactionErr error
	ReceiptErr     error
	SendErr        error
	Signer         bool
	SendHash       common.Hash

	TransactionCalls int
	ReceiptCalls     int
	ViewCalls        int
	SentTxs          []Sent
}

func New() *Oracle {
	return &Oracle{
		Transactions: make(map[common.Hash]*oracle.Transaction),
		receipts:     make(map[common.Hash][]*oracle.Receipt),
		Views:        make(map[string]ViewFunc),
	}
}

// AddTransaction makes hash observable with the given sender.
func (f *Oracle) AddTransaction(hash common.Hash, from common.Address) *oracle.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()

	tx := &oracle.Transaction{Hash: hash, From: from, Value: big.NewInt(0)}
	f.Transactions[hash] = tx
	return tx
}

// QueueReceipts scripts the answers for hash; a nil entry means unmined.
func (f *Oracle) QueueReceipts(hash common.Hash, receipts ...*oracle.Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.receipts[hash] = append(f.receipts[hash], receipts...)
}

func (f *Oracle) SetView(contract oracle.Contract, method string, fn ViewFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Views[viewKey(contract, method)] = fn
}

func (f *Oracle) GetTransaction(ctx context.Context, hash common.Hash) (*oracle.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.TransactionCalls++
	if f.TransactionErr != nil {
		return nil, f.TransactionErr
	}
	tx, ok := f.Transactions[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrTransactionNotFound, hash.Hex())
	}
	return tx, nil
}

func (f *Oracle) GetReceipt(ctx context.Context, hash common.Hash) (*oracle.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ReceiptCalls++
	if f.ReceiptErr != nil {
		return nil, f.ReceiptErr
	}
	queue := f.receipts[hash]
	if len(queue) == 0 {
		return nil, nil
	}
	next := queue[0]
	if len(queue) > 1 {
		f.receipts[hash] = queue[1:]
	}
	return next, nil
}

func (f *Oracle) CallView(ctx context.Context, contract oracle.Contract, method string, args ...interface{}) ([]interface{}, error) {
	f.mu.Lock()
	f.ViewCalls++
	fn, ok := f.Views[viewKey(contract, method)]
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: no view scripted for %s", apperr.ErrOracleUnavailable, viewKey(contract, method))
	}
	return fn(args...)
}

func (f *Oracle) SendSigned(ctx context.Context, contract oracle.Contract, method string, args ...interface{}) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.Signer {
		return common.Hash{}, apperr.ErrNoSigningKeyConfigured
	}
	if f.SendErr != nil {
		return common.Hash{}, f.SendErr
	}
	f.SentTxs = append(f.SentTxs, Sent{Contract: contract, Method: method, Args: args, Hash: f.SendHash})
	return f.SendHash, nil
}

func (f *Oracle) HasSigner() bool {
	return f.Signer
}

func (f *Oracle) TokenAddress() common.Address {
	return common.HexToAddress("0x1000000000000000000000000000000000000001")
}

func (f *Oracle) CoreAddress() common.Address {
	return common.HexToAddress("0x2000000000000000000000000000000000000002")
}

func (f *Oracle) ChainID() *big.Int {
	return big.NewInt(11155111)
}

func (f *Oracle) Calls() (transactions, receipts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.TransactionCalls, f.ReceiptCalls
}

func viewKey(contract oracle.Contract, method string) string {
	return contract.String() + "." + method
}

// Success builds a successful receipt mined at block.
func Success(hash common.Hash, block, gasUsed uint64) *oracle.Receipt {
	return &oracle.Receipt{TxHash: hash, Status: oracle.ReceiptSuccess, BlockNumber: block, GasUsed: gasUsed}
}

// Reverted builds a reverted receipt mined at block.
func Reverted(hash common.Hash, block, gasUsed uint64) *oracle.Receipt {
	return &oracle.Receipt{TxHash: hash, Status: oracle.ReceiptReverted, BlockNumber: block, GasUsed: gasUsed}
}

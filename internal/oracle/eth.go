package oracle

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/avalkov/peerai-ledger/internal/apperr"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

type Config struct {
	TokenAddress common.Address
	CoreAddress  common.Address
	ChainID      *big.Int
	// SignerKey enables SendSigned. Nil keeps the oracle read-only.
	SignerKey   *ecdsa.PrivateKey
	CallTimeout time.Duration
}

func NewEthOracle(client backend, cfg Config) (*ethOracle, error) {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}

	o := &ethOracle{
		client:       client,
		tokenAddress: cfg.TokenAddress,
		coreAddress:  cfg.CoreAddress,
		chainID:      cfg.ChainID,
		callTimeout:  cfg.CallTimeout,
		token:        bind.NewBoundContract(cfg.TokenAddress, tokenABI, client, client, client),
		core:         bind.NewBoundContract(cfg.CoreAddress, coreABI, client, client, client),
		logger:       log.New("component", "oracle"),
	}

	if cfg.SignerKey != nil {
		if cfg.ChainID == nil {
			return nil, errors.New("chain id is required for signing")
		}
		opts, err := bind.NewKeyedTransactorWithChainID(cfg.SignerKey, cfg.ChainID)
		if err != nil {
			return nil, fmt.Errorf("creating transactor failed: %s", err)
		}
		o.signer = opts
		o.logger.Info("Signing key configured", "signer", opts.From.Hex())
	} else {
		o.logger.Warn("No signing key configured, oracle is read-only")
	}

	return o, nil
}

func (o *ethOracle) GetTransaction(ctx context.Context, hash common.Hash) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	rawTx, isPending, err := o.client.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrTransactionNotFound, hash.Hex())
		}
		return nil, failure("get transaction", err)
	}

	return o.parseRawTx(rawTx, isPending), nil
}

// GetReceipt returns nil without error while the transaction is not mined.
func (o *ethOracle) GetReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	receipt, err := o.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, failure("get receipt", err)
	}
	if receipt == nil {
		return nil, nil
	}

	return parseReceipt(receipt, o.tokenAddress), nil
}

func (o *ethOracle) CallView(ctx context.Context, contract Contract, method string, args ...interface{}) ([]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	var out []interface{}
	if err := o.bound(contract).Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		if revert, ok := asRevert(method, err); ok {
			return nil, revert
		}
		return nil, failure(fmt.Sprintf("call %s.%s", contract, method), err)
	}

	return out, nil
}

// SendSigned submits a transaction signed with the configured key and returns
// its hash without waiting for it to be mined.
func (o *ethOracle) SendSigned(ctx context.Context, contract Contract, method string, args ...interface{}) (common.Hash, error) {
	if o.signer == nil {
		return common.Hash{}, apperr.ErrNoSigningKeyConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	opts := *o.signer
	opts.Context = ctx

	// Nonces are taken from the pending state, so sends must not interleave.
	o.sendMu.Lock()
	tx, err := o.bound(contract).Transact(&opts, method, args...)
	o.sendMu.Unlock()

	if err != nil {
		if revert, ok := asRevert(method, err); ok {
			return common.Hash{}, revert
		}
		return common.Hash{}, failure(fmt.Sprintf("send %s.%s", contract, method), err)
	}

	o.logger.Info("Submitted signed transaction", "contract", contract, "method", method, "hash", tx.Hash().Hex())

	return tx.Hash(), nil
}

func (o *ethOracle) HasSigner() bool {
	return o.signer != nil
}

func (o *ethOracle) TokenAddress() common.Address {
	return o.tokenAddress
}

func (o *ethOracle) CoreAddress() common.Address {
	return o.coreAddress
}

func (o *ethOracle) ChainID() *big.Int {
	return o.chainID
}

func (o *ethOracle) bound(contract Contract) *bind.BoundContract {
	if contract == TokenContract {
		return o.token
	}
	return o.core
}

func (o *ethOracle) parseRawTx(tx *types.Transaction, isPending bool) *Transaction {
	parsed := &Transaction{
		Hash:    tx.Hash(),
		To:      tx.To(),
		Value:   tx.Value(),
		Pending: isPending,
	}

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		o.logger.Warn("Failed to recover sender", "hash", tx.Hash().Hex(), "err", err)
	} else {
		parsed.From = from
	}

	return parsed
}

func parseReceipt(receipt *types.Receipt, token common.Address) *Receipt {
	parsed := &Receipt{
		TxHash:    receipt.TxHash,
		Status:    ReceiptReverted,
		BlockHash: receipt.BlockHash,
		GasUsed:   receipt.GasUsed,
		LogsCount: len(receipt.Logs),
		Transfers: decodeTransfers(receipt.Logs, token),
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		parsed.Status = ReceiptSuccess
	}

	if receipt.BlockNumber != nil {
		parsed.BlockNumber = receipt.BlockNumber.Uint64()
	}

	return parsed
}

func decodeTransfers(logs []*types.Log, token common.Address) []Transfer {
	transferID := tokenABI.Events[eventTransfer].ID

	var transfers []Transfer
	for _, entry := range logs {
		if entry == nil || entry.Address != token {
			continue
		}
		if len(entry.Topics) < 3 || entry.Topics[0] != transferID {
			continue
		}
		transfers = append(transfers, Transfer{
			From:  common.BytesToAddress(entry.Topics[1].Bytes()),
			To:    common.BytesToAddress(entry.Topics[2].Bytes()),
			Value: new(big.Int).SetBytes(entry.Data),
		})
	}

	return transfers
}

type backend interface {
	bind.ContractBackend
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type ethOracle struct {
	client       backend
	tokenAddress common.Address
	coreAddress  common.Address
	chainID      *big.Int
	callTimeout  time.Duration
	token        *bind.BoundContract
	core         *bind.BoundContract
	signer       *bind.TransactOpts
	sendMu       sync.Mutex
	logger       log.Logger
}

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/avalkov/peerai-ledger/internal/address"
	"github.com/avalkov/peerai-ledger/internal/apperr"
	"github.com/avalkov/peerai-ledger/internal/model"
	"github.com/avalkov/peerai-ledger/internal/oracle"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

const (
	outcomeRejected  = "rejected"
	outcomeDuplicate = "duplicate"
)

var hashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

type Config struct {
	Policy oracle.RetryPolicy
	// ConfirmTimeout caps the oracle time spent on one confirmation, polling included.
	ConfirmTimeout time.Duration
}

func NewReconciler(storage storage, ledger ledgerOracle, profiles profiles, metrics metrics, cfg Config) *reconciler {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 45 * time.Second
	}
	return &reconciler{
		storage:        storage,
		ledger:         ledger,
		profiles:       profiles,
		metrics:        metrics,
		policy:         cfg.Policy,
		confirmTimeout: cfg.ConfirmTimeout,
		logger:         log.New("component", "reconciler"),
	}
}

// ParseHash validates a transaction hash and returns it in canonical form.
func ParseHash(raw string) (common.Hash, error) {
	if !hashPattern.MatchString(raw) {
		return common.Hash{}, fmt.Errorf("%w: %q", apperr.ErrMalformedTransactionHash, raw)
	}
	return common.HexToHash(raw), nil
}

// ConfirmAndRecord verifies against the ledger that hash happened, waits for
// it to be mined within the retry policy and records the outcome once. Calling
// it again for the same hash is safe and never creates a second record.
func (r *reconciler) ConfirmAndRecord(ctx context.Context, hash string, txType model.TxType, ownerAddress string, payload model.Context) error {
	outcome, err := r.confirmAndRecord(ctx, hash, txType, ownerAddress, payload)
	if err != nil {
		outcome = outcomeRejected
		r.logger.Warn("Confirmation rejected", "hash", hash, "type", txType, "kind", apperr.KindOf(err), "err", err)
	}
	r.observeConfirmation(txType, outcome)
	return err
}

func (r *reconciler) confirmAndRecord(ctx context.Context, rawHash string, txType model.TxType, ownerAddress string, payload model.Context) (string, error) {
	hash, err := ParseHash(rawHash)
	if err != nil {
		return "", err
	}
	if !txType.Valid() {
		return "", fmt.Errorf("%w: %q", apperr.ErrUnknownTransactionType, txType)
	}
	owner, err := address.Normalize(ownerAddress)
	if err != nil {
		return "", err
	}
	if err := payload.Validate(txType); err != nil {
		return "", err
	}

	// Registration is what the other types are gated on, checking it here would be circular.
	if !txType.Gating() {
		registered, err := r.profiles.IsRegistered(ctx, owner)
		if err != nil {
			return "", fmt.Errorf("is registered: %w", classify(ctx, err))
		}
		if !registered {
			return "", fmt.Errorf("%w: %s", apperr.ErrOwnerNotRegistered, owner)
		}
	}

	key := hash.Hex()
	existing, err := r.storage.FindByHash(ctx, key)
	switch {
	case err == nil && existing.Type != txType:
		return "", fmt.Errorf("%w: %s is recorded as %s, not %s", apperr.ErrTransactionTypeMismatch, key, existing.Type, txType)
	case err == nil && existing.Status.Terminal():
		return outcomeDuplicate, nil
	case err != nil && !errors.Is(err, apperr.ErrRecordNotFound):
		return "", err
	}

	oracleCtx, cancel := context.WithTimeout(ctx, r.confirmTimeout)
	defer cancel()

	tx, err := r.ledger.GetTransaction(oracleCtx, hash)
	if err != nil {
		return "", r.oracleFailure(ctx, "get transaction", err)
	}

	receipt, lookups, err := oracle.WaitForReceipt(oracleCtx, r.ledger, hash, r.policy)
	if err != nil {
		return "", r.oracleFailure(ctx, "get receipt", err)
	}
	r.observeLookups(txType, lookups)

	if receipt == nil && txType.Gating() {
		return "", fmt.Errorf("%w: %s after %d lookups", apperr.ErrRegistrationNotConfirmed, key, lookups)
	}
	if receipt != nil && receipt.Status != oracle.ReceiptSuccess && txType.Gating() {
		return "", fmt.Errorf("%w: %s", apperr.ErrRegistrationTransactionFailed, key)
	}

	record := model.Transaction{
		LedgerTxHash: key,
		Type:         txType,
		Amount:       payload.Amount(),
		OwnerID:      r.resolveOwner(ctx, owner),
		OwnerAddress: owner,
		Context:      payload,
		Metadata:     observe(owner, tx, receipt, lookups),
	}
	record.Status, record.Description = settle(txType, receipt)

	created, err := r.storage.Create(ctx, record)
	if err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}
	if !created && record.Status.Terminal() {
		if _, err := r.storage.Advance(ctx, key, record.Status, record.Metadata); err != nil {
			return "", fmt.Errorf("advance record: %w", err)
		}
	}

	r.logger.Info("Recorded ledger transaction", "hash", key, "type", txType, "status", record.Status,
		"created", created, "lookups", lookups)

	return string(record.Status), nil
}

// Reconfirm polls the ledger again for a record left pending and advances it
// once a receipt is available. Terminal records are returned untouched.
func (r *reconciler) Reconfirm(ctx context.Context, rawHash string) (model.Transaction, error) {
	hash, err := ParseHash(rawHash)
	if err != nil {
		return model.Transaction{}, err
	}

	key := hash.Hex()
	record, err := r.storage.FindByHash(ctx, key)
	if err != nil {
		return model.Transaction{}, err
	}
	if record.Status.Terminal() {
		return record, nil
	}

	oracleCtx, cancel := context.WithTimeout(ctx, r.confirmTimeout)
	defer cancel()

	tx, err := r.ledger.GetTransaction(oracleCtx, hash)
	if err != nil {
		return model.Transaction{}, r.oracleFailure(ctx, "get transaction", err)
	}

	receipt, lookups, err := oracle.WaitForReceipt(oracleCtx, r.ledger, hash, r.policy)
	if err != nil {
		return model.Transaction{}, r.oracleFailure(ctx, "get receipt", err)
	}
	r.observeLookups(record.Type, lookups)

	if receipt == nil {
		r.logger.Info("Transaction still not mined", "hash", key, "lookups", lookups)
		return record, nil
	}

	status, _ := settle(record.Type, receipt)
	if _, err := r.storage.Advance(ctx, key, status, observe(record.OwnerAddress, tx, receipt, lookups)); err != nil {
		return model.Transaction{}, fmt.Errorf("advance record: %w", err)
	}
	r.observeConfirmation(record.Type, string(status))

	return r.storage.FindByHash(ctx, key)
}

func (r *reconciler) oracleFailure(ctx context.Context, op string, err error) error {
	err = classify(ctx, err)
	if errors.Is(err, apperr.ErrOracleUnavailable) && r.metrics != nil {
		r.metrics.ObserveOracleFailure(strings.ReplaceAll(op, " ", "_"))
	}
	return fmt.Errorf("%s: %w", op, err)
}

// classify makes sure nothing unclassified escapes from the oracle path.
// Exhausting our own time budget means the oracle did not answer.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || apperr.KindOf(err) == apperr.Unknown {
		return fmt.Errorf("%w: %v", apperr.ErrOracleUnavailable, err)
	}
	return err
}

func (r *reconciler) resolveOwner(ctx context.Context, owner string) *int64 {
	id, err := r.storage.FindUserIDByWallet(ctx, owner)
	if err != nil {
		r.logger.Warn("Failed to resolve owner", "owner", owner, "err", err)
		return nil
	}
	return id
}

func (r *reconciler) observeConfirmation(txType model.TxType, outcome string) {
	if r.metrics != nil {
		r.metrics.ObserveConfirmation(string(txType), outcome)
	}
}

func (r *reconciler) observeLookups(txType model.TxType, lookups int) {
	if r.metrics != nil {
		r.metrics.ObserveReceiptLookups(string(txType), lookups)
	}
}

// settle maps a receipt to a record status. Any reverted receipt is Failed.
func settle(txType model.TxType, receipt *oracle.Receipt) (model.TxStatus, string) {
	switch {
	case receipt == nil:
		return model.Pending, fmt.Sprintf("Ledger transaction: %s (pending)", txType)
	case receipt.Status != oracle.ReceiptSuccess:
		return model.Failed, fmt.Sprintf("Ledger transaction: %s (reverted)", txType)
	case txType.Gating():
		return model.Confirmed, "User registration transaction confirmed on ledger"
	default:
		return model.Confirmed, fmt.Sprintf("Ledger transaction: %s", txType)
	}
}

func observe(owner string, tx *oracle.Transaction, receipt *oracle.Receipt, lookups int) model.Metadata {
	metadata := model.Metadata{
		OwnerAddress: owner,
		PollAttempts: lookups,
	}

	if tx != nil {
		if (tx.From != common.Address{}) {
			metadata.From = address.FromCommon(tx.From)
		}
		if tx.To != nil {
			metadata.To = address.FromCommon(*tx.To)
		}
		if tx.Value != nil {
			metadata.TxValue = tx.Value.String()
		}
	}

	if receipt == nil {
		metadata.Note = model.NoteNotMined
		return metadata
	}

	blockNumber := receipt.BlockNumber
	gasUsed := receipt.GasUsed
	logsCount := receipt.LogsCount
	metadata.BlockNumber = &blockNumber
	metadata.GasUsed = &gasUsed
	metadata.LogsCount = &logsCount
	metadata.BlockHash = receipt.BlockHash.Hex()
	metadata.ReceiptStatus = receipt.Status.String()

	for _, transfer := range receipt.Transfers {
		value := "0"
		if transfer.Value != nil {
			value = transfer.Value.String()
		}
		metadata.Transfers = append(metadata.Transfers, model.TokenMovement{
			From:  address.FromCommon(transfer.From),
			To:    address.FromCommon(transfer.To),
			Value: value,
		})
	}

	return metadata
}

type storage interface {
	Create(ctx context.Context, transaction model.Transaction) (bool, error)
	Advance(ctx context.Context, hash string, status model.TxStatus, observed model.Metadata) (bool, error)
	FindByHash(ctx context.Context, hash string) (model.Transaction, error)
	FindUserIDByWallet(ctx context.Context, walletAddress string) (*int64, error)
}

type ledgerOracle interface {
	oracle.ReceiptSource
	GetTransaction(ctx context.Context, hash common.Hash) (*oracle.Transaction, error)
}

type profiles interface {
	IsRegistered(ctx context.Context, userAddress string) (bool, error)
}

type metrics interface {
	ObserveConfirmation(txType, outcome string)
	ObserveReceiptLookups(txType string, lookups int)
	ObserveOracleFailure(operation string)
}

type reconciler struct {
	storage        storage
	ledger         ledgerOracle
	profiles       profiles
	metrics        metrics
	policy         oracle.RetryPolicy
	confirmTimeout time.Duration
	logger         log.Logger
}

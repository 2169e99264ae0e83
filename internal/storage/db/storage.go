package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/avalkov/peerai-ledger/internal/apperr"
	"github.com/avalkov/peerai-ledger/internal/model"
	"github.com/avalkov/peerai-ledger/internal/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const transactionColumns = `ledger_tx_hash, tx_type, status, amount, owner_id, owner_address,
    description, context, metadata, created_at, updated_at`

func NewStorage(driver, dsn string) (*dbStorage, error) {
	if driver == "postgres" && !strings.Contains(dsn, "sslmode") {
		dsn = fmt.Sprintf("%s sslmode=disable", dsn)
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, err
	}
	return &dbStorage{db: db}, nil
}

func (s *dbStorage) Close() error {
	return s.db.Close()
}

func (s *dbStorage) ExecuteMigrations(ctx context.Context) error {
	return s.executeMigrations(ctx, s.db)
}

// Create inserts the record unless one already exists for its hash. The
// conflict clause keeps the check and the insert a single statement.
func (s *dbStorage) Create(ctx context.Context, transaction model.Transaction) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO ledger_transaction (ledger_tx_hash, tx_type, status,
    amount, owner_id, owner_address, description, context, metadata) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (ledger_tx_hash) DO NOTHING`),
		transaction.LedgerTxHash, transaction.Type, transaction.Status, transaction.Amount,
		transaction.OwnerID, transaction.OwnerAddress, transaction.Description,
		transaction.Context, transaction.Metadata)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

// Advance moves a pending record to a terminal status and merges the new
// observation into its metadata. The caller context column is never touched.
func (s *dbStorage) Advance(ctx context.Context, hash string, status model.TxStatus, observed model.Metadata) (bool, error) {
	if !status.Terminal() {
		return false, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}

	defer func() {
		tx.Rollback()
	}()

	var current model.Transaction
	if err := tx.GetContext(ctx, &current, tx.Rebind(`SELECT `+transactionColumns+` FROM ledger_transaction
    WHERE ledger_tx_hash = ? FOR UPDATE`), hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: %s", apperr.ErrRecordNotFound, hash)
		}
		return false, err
	}

	if current.Status != model.Pending {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE ledger_transaction SET status = ?, metadata = ?, updated_at = now()
    WHERE ledger_tx_hash = ?`), status, current.Metadata.Merge(observed), hash); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

func (s *dbStorage) FindByHash(ctx context.Context, hash string) (model.Transaction, error) {
	var transaction model.Transaction
	if err := s.db.GetContext(ctx, &transaction, s.db.Rebind(`SELECT `+transactionColumns+` FROM ledger_transaction
    WHERE ledger_tx_hash = ?`), hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Transaction{}, fmt.Errorf("%w: %s", apperr.ErrRecordNotFound, hash)
		}
		return model.Transaction{}, err
	}
	return transaction, nil
}

func (s *dbStorage) FindByHashes(ctx context.Context, hashes []string) ([]model.Transaction, error) {
	transactions := []model.Transaction{}
	if len(hashes) == 0 {
		return transactions, nil
	}

	query, args, err := sqlx.In(`SELECT `+transactionColumns+` FROM ledger_transaction WHERE ledger_tx_hash IN (?)`, hashes)
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &transactions, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return transactions, nil
}

func (s *dbStorage) FindByOwner(ctx context.Context, ownerID int64, page, limit int) ([]model.Transaction, int, error) {
	page, limit = storage.Paginate(page, limit)

	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM ledger_transaction WHERE owner_id = ?`), ownerID); err != nil {
		return nil, 0, err
	}

	transactions := []model.Transaction{}
	if err := s.db.SelectContext(ctx, &transactions, s.db.Rebind(`SELECT `+transactionColumns+` FROM ledger_transaction
    WHERE owner_id = ? ORDER BY created_at DESC, ledger_tx_hash LIMIT ? OFFSET ?`),
		ownerID, limit, (page-1)*limit); err != nil {
		return nil, 0, err
	}

	return transactions, total, nil
}

// UpdateStatus applies the monotonic status rule: pending may move to a
// terminal status, terminal records only accept their own status.
func (s *dbStorage) UpdateStatus(ctx context.Context, hash string, status model.TxStatus) (model.Transaction, error) {
	if status.Terminal() {
		res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE ledger_transaction SET status = ?, updated_at = now()
    WHERE ledger_tx_hash = ? AND status = ?`), status, hash, model.Pending)
		if err != nil {
			return model.Transaction{}, err
		}
		if affected, err := res.RowsAffected(); err != nil {
			return model.Transaction{}, err
		} else if affected == 1 {
			return s.FindByHash(ctx, hash)
		}
	}

	current, err := s.FindByHash(ctx, hash)
	if err != nil {
		return model.Transaction{}, err
	}
	if current.Status != status {
		return model.Transaction{}, fmt.Errorf("%w: %s to %s", apperr.ErrIllegalStatusTransition, current.Status, status)
	}
	return current, nil
}

func (s *dbStorage) CreateUser(ctx context.Context, username, passwordHash string, walletAddress *string) (model.User, error) {
	user := model.User{Username: username, PasswordHash: passwordHash, WalletAddress: walletAddress}
	if err := s.db.GetContext(ctx, &user.ID, s.db.Rebind(`INSERT INTO users (username, password_hash, wallet_address)
    VALUES(?, ?, ?) RETURNING id`), username, passwordHash, walletAddress); err != nil {
		return model.User{}, err
	}
	return user, nil
}

func (s *dbStorage) FindUserByUsername(ctx context.Context, username string) (model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, s.db.Rebind(`SELECT id, username, password_hash, wallet_address
    FROM users WHERE username = ?`), username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, storage.ErrUserNotFound
		}
		return model.User{}, err
	}
	return user, nil
}

func (s *dbStorage) FindUserIDByWallet(ctx context.Context, walletAddress string) (*int64, error) {
	var id int64
	if err := s.db.GetContext(ctx, &id, s.db.Rebind(`SELECT id FROM users WHERE wallet_address = ?`), walletAddress); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &id, nil
}

type dbStorage struct {
	db *sqlx.DB
}

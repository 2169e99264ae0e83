package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avalkov/peerai-ledger/internal/apperr"
	"github.com/avalkov/peerai-ledger/internal/model"
	"github.com/avalkov/peerai-ledger/internal/storage"
)

func NewStorage() *memoryStorage {
	return &memoryStorage{
		store:   make(map[string]*entry),
		users:   make(map[int64]model.User),
		now:     time.Now,
		nextUID: 1,
	}
}

func (s *memoryStorage) Create(ctx context.Context, transaction model.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.store[transaction.LedgerTxHash]; ok {
		return false, nil
	}

	now := s.now()
	transaction.CreatedAt = now
	transaction.UpdatedAt = now
	s.seq++
	s.store[transaction.LedgerTxHash] = &entry{tx: transaction, seq: s.seq}

	return true, nil
}

func (s *memoryStorage) Advance(ctx context.Context, hash string, status model.TxStatus, observed model.Metadata) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.store[hash]
	if !ok {
		return false, fmt.Errorf("%w: %s", apperr.ErrRecordNotFound, hash)
	}
	if e.tx.Status != model.Pending || !status.Terminal() {
		return false, nil
	}

	e.tx.Status = status
	e.tx.Metadata = e.tx.Metadata.Merge(observed)
	e.tx.UpdatedAt = s.now()

	return true, nil
}

func (s *memoryStorage) FindByHash(ctx context.Context, hash string) (model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.store[hash]; ok {
		return e.tx, nil
	}
	return model.Transaction{}, fmt.Errorf("%w: %s", apperr.ErrRecordNotFound, hash)
}

func (s *memoryStorage) FindByHashes(ctx context.Context, hashes []string) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transactions := []model.Transaction{}
	for _, hash := range hashes {
		if e, ok := s.store[hash]; ok {
			transactions = append(transactions, e.tx)
		}
	}
	return transactions, nil
}

func (s *memoryStorage) FindByOwner(ctx context.Context, ownerID int64, page, limit int) ([]model.Transaction, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, limit = storage.Paginate(page, limit)

	owned := []*entry{}
	for _, e := range s.store {
		if e.tx.OwnerID != nil && *e.tx.OwnerID == ownerID {
			owned = append(owned, e)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].seq > owned[j].seq })

	transactions := []model.Transaction{}
	for i := (page - 1) * limit; i < len(owned) && len(transactions) < limit; i++ {
		transactions = append(transactions, owned[i].tx)
	}

	return transactions, len(owned), nil
}

func (s *memoryStorage) UpdateStatus(ctx context.Context, hash string, status model.TxStatus) (model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.store[hash]
	if !ok {
		return model.Transaction{}, fmt.Errorf("%w: %s", apperr.ErrRecordNotFound, hash)
	}
	if !e.tx.Status.CanMoveTo(status) {
		return model.Transaction{}, fmt.Errorf("%w: %s to %s", apperr.ErrIllegalStatusTransition, e.tx.Status, status)
	}
	if e.tx.Status != status {
		e.tx.Status = status
		e.tx.UpdatedAt = s.now()
	}

	return e.tx, nil
}

func (s *memoryStorage) CreateUser(ctx context.Context, username, passwordHash string, walletAddress *string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.Username == username {
			return model.User{}, fmt.Errorf("user (%s) already exists", username)
		}
		if walletAddress != nil && user.WalletAddress != nil && *user.WalletAddress == *walletAddress {
			return model.User{}, fmt.Errorf("wallet (%s) already linked", *walletAddress)
		}
	}

	user := model.User{ID: s.nextUID, Username: username, PasswordHash: passwordHash, WalletAddress: walletAddress}
	s.users[user.ID] = user
	s.nextUID++

	return user, nil
}

func (s *memoryStorage) FindUserByUsername(ctx context.Context, username string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.Username == username {
			return user, nil
		}
	}
	return model.User{}, storage.ErrUserNotFound
}

func (s *memoryStorage) FindUserIDByWallet(ctx context.Context, walletAddress string) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.WalletAddress != nil && *user.WalletAddress == walletAddress {
			id := user.ID
			return &id, nil
		}
	}
	return nil, nil
}

type entry struct {
	tx  model.Transaction
	seq int64
}

type memoryStorage struct {
	mu      sync.Mutex
	store   map[string]*entry
	users   map[int64]model.User
	seq     int64
	nextUID int64
	now     func() time.Time
}

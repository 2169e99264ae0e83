package rpcservices

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/avalkov/peerai-ledger/internal/address"
	"github.com/avalkov/peerai-ledger/internal/apperr"
	"github.com/avalkov/peerai-ledger/internal/authenticator"
	"github.com/avalkov/peerai-ledger/internal/model"
	"github.com/avalkov/peerai-ledger/internal/reconciler"
	"github.com/avalkov/peerai-ledger/internal/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/umbracle/fastrlp"
)

const maxBatchSize = 100

func NewLedgerService(engine engine, storage ledgerStorage, authenticator tokenAuthenticator) *Ledger {
	return &Ledger{
		engine:        engine,
		storage:       storage,
		authenticator: authenticator,
	}
}

// ConfirmTransaction verifies a client-submitted ledger transaction and
// returns the record kept for it. A supplied bearer must belong to the owner.
func (l *Ledger) ConfirmTransaction(r *http.Request, args *ConfirmTransactionArgs, reply *TransactionReply) error {
	if token := bearer(r, args.Token); token != "" {
		claims, err := l.authenticator.VerifyToken(token)
		if err != nil {
			return err
		}
		if err := ownsWallet(claims, args.OwnerAddress); err != nil {
			return err
		}
	}

	if err := l.engine.ConfirmAndRecord(r.Context(), args.Hash, model.TxType(args.Type), args.OwnerAddress, args.Context); err != nil {
		return err
	}

	transaction, err := l.findByHash(r.Context(), args.Hash)
	if err != nil {
		return err
	}

	reply.Transaction = transaction

	return nil
}

func (l *Ledger) ReconfirmTransaction(r *http.Request, args *HashArgs, reply *TransactionReply) error {
	transaction, err := l.engine.Reconfirm(r.Context(), args.Hash)
	if err != nil {
		return err
	}

	reply.Transaction = transaction

	return nil
}

func (l *Ledger) GetTransaction(r *http.Request, args *HashArgs, reply *TransactionReply) error {
	transaction, err := l.findByHash(r.Context(), args.Hash)
	if err != nil {
		return err
	}

	reply.Transaction = transaction

	return nil
}

// GetTransactions looks up a batch of records. Hashes come as a hex encoded
// RLP list whose items are either raw 32 byte hashes or 0x-prefixed strings.
func (l *Ledger) GetTransactions(r *http.Request, args *GetTransactionsArgs, reply *TransactionsReply) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ReplaceAll(args.Hashes, " ", ""), "0x"))
	if err != nil {
		return fmt.Errorf("%w: hashes are not hex: %v", apperr.ErrMalformedRequest, err)
	}

	parser := &fastrlp.Parser{}
	list, err := parser.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: hashes are not an rlp list: %v", apperr.ErrMalformedRequest, err)
	}
	if list.Elems() > maxBatchSize {
		return fmt.Errorf("%w: at most %d hashes per batch", apperr.ErrMalformedRequest, maxBatchSize)
	}

	hashes := []string{}

	for i := 0; i < list.Elems(); i++ {
		value, err := list.Get(i).GetString()
		if err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrMalformedRequest, err)
		}

		if len(value) == common.HashLength {
			hashes = append(hashes, common.BytesToHash([]byte(value)).Hex())
			continue
		}

		hash, err := reconciler.ParseHash(value)
		if err != nil {
			return err
		}
		hashes = append(hashes, hash.Hex())
	}

	reply.Transactions, err = l.storage.FindByHashes(r.Context(), hashes)

	return err
}

func (l *Ledger) GetMyTransactions(r *http.Request, args *GetMyTransactionsArgs, reply *TransactionsPageReply) error {
	claims, err := l.verify(r, args.Token)
	if err != nil {
		return err
	}

	page, limit := storage.Paginate(args.Page, args.Limit)
	transactions, total, err := l.storage.FindByOwner(r.Context(), claims.UserID, page, limit)
	if err != nil {
		return err
	}

	reply.Transactions = transactions
	reply.Total = total
	reply.Page = page
	reply.Limit = limit

	return nil
}

// UpdateTransactionStatus lets the owner of a record settle it manually.
// Terminal records stay where they are.
func (l *Ledger) UpdateTransactionStatus(r *http.Request, args *UpdateTransactionStatusArgs, reply *TransactionReply) error {
	claims, err := l.verify(r, args.Token)
	if err != nil {
		return err
	}

	status, err := model.ParseTxStatus(args.Status)
	if err != nil {
		return err
	}

	current, err := l.findByHash(r.Context(), args.Hash)
	if err != nil {
		return err
	}
	if !ownsRecord(claims, current) {
		return fmt.Errorf("%w: record belongs to another user", apperr.ErrUnauthorized)
	}

	transaction, err := l.storage.UpdateStatus(r.Context(), current.LedgerTxHash, status)
	if err != nil {
		return err
	}

	reply.Transaction = transaction

	return nil
}

func (l *Ledger) Authenticate(r *http.Request, request *AuthenticateRequest, reply *AuthenticateReply) error {
	if request.Username == "" || request.Password == "" {
		return fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthorized)
	}

	tokenString, err := l.authenticator.Authenticate(r.Context(), request.Username, request.Password)
	if err != nil {
		return err
	}

	reply.Token = tokenString

	return nil
}

func (l *Ledger) findByHash(ctx context.Context, rawHash string) (model.Transaction, error) {
	hash, err := reconciler.ParseHash(rawHash)
	if err != nil {
		return model.Transaction{}, err
	}
	return l.storage.FindByHash(ctx, hash.Hex())
}

func (l *Ledger) verify(r *http.Request, token string) (*authenticator.Claims, error) {
	token = bearer(r, token)
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", apperr.ErrUnauthorized)
	}
	return l.authenticator.VerifyToken(token)
}

// bearer prefers the token passed in the params over the Authorization header.
func bearer(r *http.Request, token string) string {
	if token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func ownsWallet(claims *authenticator.Claims, wallet string) error {
	normalized, err := address.Normalize(wallet)
	if err != nil {
		return err
	}
	if claims.WalletAddress == "" || !strings.EqualFold(claims.WalletAddress, normalized) {
		return fmt.Errorf("%w: token does not belong to %s", apperr.ErrUnauthorized, normalized)
	}
	return nil
}

func ownsRecord(claims *authenticator.Claims, transaction model.Transaction) bool {
	if transaction.OwnerID != nil {
		return *transaction.OwnerID == claims.UserID
	}
	return claims.WalletAddress != "" && strings.EqualFold(claims.WalletAddress, transaction.OwnerAddress)
}

type ConfirmTransactionArgs struct {
	Hash         string        `json:"hash"`
	Type         string        `json:"type"`
	OwnerAddress string        `json:"ownerAddress"`
	Context      model.Context `json:"context"`
	Token        string        `json:"token,omitempty"`
}

type HashArgs struct {
	Hash string `json:"hash"`
}

type GetTransactionsArgs struct {
	Hashes string `json:"hashes"`
}

type GetMyTransactionsArgs struct {
	Token string `json:"token,omitempty"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

type UpdateTransactionStatusArgs struct {
	Token  string `json:"token,omitempty"`
	Hash   string `json:"hash"`
	Status string `json:"status"`
}

type AuthenticateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthenticateReply struct {
	Token string `json:"token"`
}

type TransactionReply struct {
	Transaction model.Transaction `json:"transaction"`
}

type TransactionsReply struct {
	Transactions []model.Transaction `json:"transactions"`
}

type TransactionsPageReply struct {
	Transactions []model.Transaction `json:"transactions"`
	Total        int                 `json:"total"`
	Page         int                 `json:"page"`
	Limit        int                 `json:"limit"`
}

type engine interface {
	ConfirmAndRecord(ctx context.Context, hash string, txType model.TxType, ownerAddress string, payload model.Context) error
	Reconfirm(ctx context.Context, hash string) (model.Transaction, error)
}

type ledgerStorage interface {
	FindByHash(ctx context.Context, hash string) (model.Transaction, error)
	FindByHashes(ctx context.Context, hashes []string) ([]model.Transaction, error)
	FindByOwner(ctx context.Context, ownerID int64, page, limit int) ([]model.Transaction, int, error)
	UpdateStatus(ctx context.Context, hash string, status model.TxStatus) (model.Transaction, error)
}

type tokenAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
	VerifyToken(token string) (*authenticator.Claims, error)
}

type Ledger struct {
	engine        engine
	storage       ledgerStorage
	authenticator tokenAuthenticator
}

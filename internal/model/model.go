package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/avalkov/peerai-ledger/internal/apperr"
)

type TxStatus string

const (
	Pending   TxStatus = "pending"
	Confirmed TxStatus = "confirmed"
	Failed    TxStatus = "failed"
)

func (s TxStatus) Terminal() bool {
	return s == Confirmed || s == Failed
}

func (s TxStatus) Valid() bool {
	return s == Pending || s.Terminal()
}

// CanMoveTo reports whether a record may go from s to next. Terminal
// states are sinks; staying in the same state is always allowed.
func (s TxStatus) CanMoveTo(next TxStatus) bool {
	if s == next {
		return true
	}
	return s == Pending && next.Terminal()
}

func ParseTxStatus(raw string) (TxStatus, error) {
	status := TxStatus(raw)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", apperr.ErrInvalidStatus, raw)
	}
	return status, nil
}

type TxType string

const (
	UserRegistration     TxType = "user_registration"
	UserRemoval          TxType = "user_removal"
	ManuscriptSubmission TxType = "manuscript_submission"
	ReviewReward         TxType = "review_reward"
	ReputationUpdate     TxType = "reputation_update"
	TokenTransfer        TxType = "token_transfer"
)

func (t TxType) Valid() bool {
	switch t {
	case UserRegistration, UserRemoval, ManuscriptSubmission, ReviewReward, ReputationUpdate, TokenTransfer:
		return true
	}
	return false
}

// Gating types must succeed on the ledger before other operations may proceed.
func (t TxType) Gating() bool {
	return t == UserRegistration
}

func ParseTxType(raw string) (TxType, error) {
	txType := TxType(raw)
	if !txType.Valid() {
		return "", fmt.Errorf("%w: %q", apperr.ErrUnknownTransactionType, raw)
	}
	return txType, nil
}

type Transaction struct {
	LedgerTxHash string    `json:"ledgerTxHash" db:"ledger_tx_hash"`
	Type         TxType    `json:"type" db:"tx_type"`
	Status       TxStatus  `json:"status" db:"status"`
	Amount       float64   `json:"amount" db:"amount"`
	OwnerID      *int64    `json:"ownerId,omitempty" db:"owner_id"`
	OwnerAddress string    `json:"ownerAddress" db:"owner_address"`
	Description  string    `json:"description" db:"description"`
	Context      Context   `json:"context" db:"context"`
	Metadata     Metadata  `json:"metadata" db:"metadata"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

type User struct {
	ID            int64   `json:"id" db:"id"`
	Username      string  `json:"username" db:"username"`
	PasswordHash  string  `json:"-" db:"password_hash"`
	WalletAddress *string `json:"walletAddress" db:"wallet_address"`
}

// LedgerProfile is a projection of ledger state; it is never persisted.
type LedgerProfile struct {
	Address         string   `json:"address"`
	Name            string   `json:"name"`
	Institution     string   `json:"institution"`
	ResearchField   string   `json:"researchField"`
	ReputationScore uint64   `json:"reputationScore"`
	TotalReviews    uint64   `json:"totalReviews"`
	TokensEarned    *big.Int `json:"tokensEarned"`
	IsVerified      bool     `json:"isVerified"`
	Expertise       []string `json:"expertise"`
}

type LedgerManuscript struct {
	ID             uint64   `json:"id"`
	Title          string   `json:"title"`
	AbstractText   string   `json:"abstractText"`
	Authors        string   `json:"authors"`
	ResearchField  string   `json:"researchField"`
	FileHash       string   `json:"fileHash"`
	Author         string   `json:"author"`
	SubmissionTime uint64   `json:"submissionTime"`
	AverageRating  uint64   `json:"averageRating"`
	ReviewCount    uint64   `json:"reviewCount"`
	IsActive       bool     `json:"isActive"`
	Keywords       []string `json:"keywords"`
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}

func valueJSON(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

package model

import (
	"database/sql/driver"
	"fmt"

	"github.com/avalkov/peerai-ledger/internal/apperr"
)

// Context is the caller-supplied business payload that triggered a ledger
// transaction. At most one variant is set and it must match the record type.
// It is fixed when the record is created.
type Context struct {
	Registration *RegistrationPayload `json:"registration,omitempty"`
	Removal      *RemovalPayload      `json:"removal,omitempty"`
	Manuscript   *ManuscriptPayload   `json:"manuscript,omitempty"`
	Review       *ReviewPayload       `json:"review,omitempty"`
	Reputation   *ReputationPayload   `json:"reputation,omitempty"`
	Transfer     *TransferPayload     `json:"transfer,omitempty"`
}

type RegistrationPayload struct {
	Name          string   `json:"name"`
	Institution   string   `json:"institution"`
	ResearchField string   `json:"researchField"`
	Expertise     []string `json:"expertise,omitempty"`
}

type RemovalPayload struct {
	Reason string `json:"reason"`
}

type ManuscriptPayload struct {
	Title         string   `json:"title"`
	Abstract      string   `json:"abstract"`
	Authors       string   `json:"authors"`
	ResearchField string   `json:"researchField"`
	Keywords      []string `json:"keywords,omitempty"`
	FileHash      string   `json:"fileHash,omitempty"`
}

type ReviewPayload struct {
	ManuscriptID string  `json:"manuscriptId"`
	Rating       float64 `json:"rating"`
	Summary      string  `json:"summary,omitempty"`
	RewardAmount float64 `json:"rewardAmount,omitempty"`
}

type ReputationPayload struct {
	Score float64 `json:"score"`
}

type TransferPayload struct {
	Amount    float64 `json:"amount"`
	Recipient string  `json:"recipient,omitempty"`
}

// Validate checks that the populated variant belongs to txType.
func (c Context) Validate(txType TxType) error {
	set := map[TxType]bool{
		UserRegistration:     c.Registration != nil,
		UserRemoval:          c.Removal != nil,
		ManuscriptSubmission: c.Manuscript != nil,
		ReviewReward:         c.Review != nil,
		ReputationUpdate:     c.Reputation != nil,
		TokenTransfer:        c.Transfer != nil,
	}
	for variant, present := range set {
		if present && variant != txType {
			return fmt.Errorf("%w: %s payload on %s transaction", apperr.ErrInvalidContext, variant, txType)
		}
	}
	return nil
}

// Amount is the token amount carried by the payload, zero for non-transfer types.
func (c Context) Amount() float64 {
	switch {
	case c.Transfer != nil:
		return c.Transfer.Amount
	case c.Review != nil:
		return c.Review.RewardAmount
	}
	return 0
}

func (c Context) Value() (driver.Value, error) {
	return valueJSON(c)
}

func (c *Context) Scan(src interface{}) error {
	return scanJSON(src, c)
}

package model

import (
	"database/sql/driver"
)

const NoteNotMined = "transaction not yet mined"

// Metadata holds facts observed on the ledger while confirming a transaction.
type Metadata struct {
	OwnerAddress  string          `json:"ownerAddress,omitempty"`
	BlockNumber   *uint64         `json:"blockNumber,omitempty"`
	BlockHash     string          `json:"blockHash,omitempty"`
	GasUsed       *uint64         `json:"gasUsed,omitempty"`
	ReceiptStatus string          `json:"receiptStatus,omitempty"`
	From          string          `json:"from,omitempty"`
	To            string          `json:"to,omitempty"`
	TxValue       string          `json:"value,omitempty"`
	LogsCount     *int            `json:"logsCount,omitempty"`
	Transfers     []TokenMovement `json:"transfers,omitempty"`
	PollAttempts  int             `json:"pollAttempts,omitempty"`
	Note          string          `json:"note,omitempty"`
}

// TokenMovement is a decoded ERC-20 Transfer event.
type TokenMovement struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
}

// Merge appends a later observation. Fields set in next win and the
// not-yet-mined note is dropped once a receipt has been seen.
func (m Metadata) Merge(next Metadata) Metadata {
	merged := m
	if next.OwnerAddress != "" {
		merged.OwnerAddress = next.OwnerAddress
	}
	if next.BlockNumber != nil {
		merged.BlockNumber = next.BlockNumber
	}
	if next.BlockHash != "" {
		merged.BlockHash = next.BlockHash
	}
	if next.GasUsed != nil {
		merged.GasUsed = next.GasUsed
	}
	if next.ReceiptStatus != "" {
		merged.ReceiptStatus = next.ReceiptStatus
	}
	if next.From != "" {
		merged.From = next.From
	}
	if next.To != "" {
		merged.To = next.To
	}
	if next.TxValue != "" {
		merged.TxValue = next.TxValue
	}
	if next.LogsCount != nil {
		merged.LogsCount = next.LogsCount
	}
	if len(next.Transfers) > 0 {
		merged.Transfers = next.Transfers
	}
	if next.PollAttempts != 0 {
		merged.PollAttempts = next.PollAttempts
	}
	merged.Note = next.Note
	return merged
}

func (m Metadata) Value() (driver.Value, error) {
	return valueJSON(m)
}

func (m *Metadata) Scan(src interface{}) error {
	return scanJSON(src, m)
}

package model

import (
	"testing"

	"github.com/avalkov/peerai-ledger/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	assert.True(t, Pending.CanMoveTo(Confirmed))
	assert.True(t, Pending.CanMoveTo(Failed))
	assert.True(t, Pending.CanMoveTo(Pending))
	assert.True(t, Confirmed.CanMoveTo(Confirmed))

	assert.False(t, Confirmed.CanMoveTo(Pending))
	assert.False(t, Confirmed.CanMoveTo(Failed))
	assert.False(t, Failed.CanMoveTo(Pending))
	assert.False(t, Failed.CanMoveTo(Confirmed))
}

func TestParse(t *testing.T) {
	txType, err := ParseTxType("token_transfer")
	require.NoError(t, err)
	assert.Equal(t, TokenTransfer, txType)

	_, err = ParseTxType("TokenTransfer")
	assert.ErrorIs(t, err, apperr.ErrUnknownTransactionType)

	_, err = ParseTxStatus("mined")
	assert.ErrorIs(t, err, apperr.ErrInvalidStatus)
}

func TestContextValidate(t *testing.T) {
	manuscript := Context{Manuscript: &ManuscriptPayload{Title: "Decentralized Peer Review"}}

	assert.NoError(t, manuscript.Validate(ManuscriptSubmission))
	assert.ErrorIs(t, manuscript.Validate(ReviewReward), apperr.ErrInvalidContext)
	assert.NoError(t, Context{}.Validate(TokenTransfer))
}

func TestContextAmount(t *testing.T) {
	assert.Equal(t, 25.5, Context{Transfer: &TransferPayload{Amount: 25.5}}.Amount())
	assert.Equal(t, 100.0, Context{Review: &ReviewPayload{RewardAmount: 100}}.Amount())
	assert.Zero(t, Context{Manuscript: &ManuscriptPayload{}}.Amount())
}

func TestMetadataJSONColumn(t *testing.T) {
	block := uint64(100)
	in := Metadata{BlockNumber: &block, ReceiptStatus: "success"}

	v, err := in.Value()
	require.NoError(t, err)

	var out Metadata
	require.NoError(t, out.Scan([]byte(v.(string))))
	require.NotNil(t, out.BlockNumber)
	assert.Equal(t, uint64(100), *out.BlockNumber)
	assert.Equal(t, "success", out.ReceiptStatus)
}

func TestMetadataMergeDropsNote(t *testing.T) {
	block := uint64(7)
	pending := Metadata{OwnerAddress: "0xabc", Note: NoteNotMined, PollAttempts: 11}

	merged := pending.Merge(Metadata{BlockNumber: &block, ReceiptStatus: "success", PollAttempts: 1})

	assert.Equal(t, "0xabc", merged.OwnerAddress)
	assert.Equal(t, &block, merged.BlockNumber)
	assert.Empty(t, merged.Note)
	assert.Equal(t, 1, merged.PollAttempts)
}

func TestMetadataMergeKeepsValue(t *testing.T) {
	pending := Metadata{From: "0xabc", TxValue: "42", Note: NoteNotMined}

	merged := pending.Merge(Metadata{ReceiptStatus: "success"})
	assert.Equal(t, "42", merged.TxValue)

	merged = pending.Merge(Metadata{TxValue: "43"})
	assert.Equal(t, "43", merged.TxValue)

	v, err := merged.Value()
	require.NoError(t, err)
	assert.Contains(t, v.(string), `"value":"43"`)
}

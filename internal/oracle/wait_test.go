package oracle_test

import (
	"context"
	"testing"
	"time"

	"github.com/avalkov/peerai-ledger/internal/apperr"
	"github.com/avalkov/peerai-ledger/internal/oracle"
	"github.com/avalkov/peerai-ledger/internal/oracle/oracletest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = oracle.RetryPolicy{Attempts: 10, Interval: time.Millisecond}

func TestWaitForReceiptFirstLookup(t *testing.T) {
	fake := oracletest.New()
	hash := common.HexToHash("0x01")
	fake.QueueReceipts(hash, oracletest.Success(hash, 100, 50000))

	receipt, lookups, err := oracle.WaitForReceipt(context.Background(), fake, hash, fastPolicy)

	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, uint64(100), receipt.BlockNumber)
	assert.Equal(t, 1, lookups)
}

func TestWaitForReceiptAfterRetries(t *testing.T) {
	fake := oracletest.New()
	hash := common.HexToHash("0x02")
	fake.QueueReceipts(hash, nil, nil, nil, oracletest.Success(hash, 7, 21000))

	receipt, lookups, err := oracle.WaitForReceipt(context.Background(), fake, hash, fastPolicy)

	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, 4, lookups)
}

func TestWaitForReceiptExhausted(t *testing.T) {
	fake := oracletest.New()
	hash := common.HexToHash("0x03")

	receipt, lookups, err := oracle.WaitForReceipt(context.Background(), fake, hash, fastPolicy)

	require.NoError(t, err)
	assert.Nil(t, receipt)
	assert.Equal(t, 11, lookups)
	_, receiptCalls := fake.Calls()
	assert.Equal(t, 11, receiptCalls)
}

func TestWaitForReceiptCancelled(t *testing.T) {
	fake := oracletest.New()
	hash := common.HexToHash("0x04")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	started := time.Now()
	_, lookups, err := oracle.WaitForReceipt(ctx, fake, hash, oracle.RetryPolicy{Attempts: 10, Interval: time.Hour})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, lookups)
	assert.Less(t, time.Since(started), time.Second)
}

func TestWaitForReceiptOracleError(t *testing.T) {
	fake := oracletest.New()
	fake.ReceiptErr = apperr.ErrOracleUnavailable

	_, _, err := oracle.WaitForReceipt(context.Background(), fake, common.HexToHash("0x05"), fastPolicy)

	assert.ErrorIs(t, err, apperr.ErrOracleUnavailable)
}

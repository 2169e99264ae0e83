package rpcservices

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avalkov/peerai-ledger/internal/apperr"
	"github.com/avalkov/peerai-ledger/internal/authenticator"
	"github.com/avalkov/peerai-ledger/internal/model"
	"github.com/avalkov/peerai-ledger/internal/oracle"
	"github.com/avalkov/peerai-ledger/internal/oracle/oracletest"
	"github.com/avalkov/peerai-ledger/internal/profile"
	"github.com/avalkov/peerai-ledger/internal/reconciler"
	rpccodecs "github.com/avalkov/peerai-ledger/internal/rpc_codecs"
	"github.com/avalkov/peerai-ledger/internal/storage/memory"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gorilla/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob   = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

var (
	hashA = "0x" + strings.Repeat("a1", 32)
	hashB = "0x" + strings.Repeat("b2", 32)
)

type testEnv struct {
	server *httptest.Server
	oracle *oracletest.Oracle
}

type response struct {
	Result json.RawMessage        `json:"result"`
	Error  *rpccodecs.ErrorObject `json:"error"`
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStorage()
	hash, err := authenticator.HashPassword("s3cret")
	require.NoError(t, err)
	for username, wallet := range map[string]string{"alice": alice, "bob": bob} {
		w := wallet
		_, err := store.CreateUser(context.Background(), username, hash, &w)
		require.NoError(t, err)
	}

	fake := oracletest.New()
	fake.SetView(oracle.CoreContract, oracle.MethodIsUserRegistered, func(args ...interface{}) ([]interface{}, error) {
		return []interface{}{args[0] == common.HexToAddress(alice)}, nil
	})

	policy := oracle.RetryPolicy{Attempts: 2, Interval: time.Millisecond}
	gateway := profile.NewGateway(fake, policy, nil)
	engine := reconciler.NewReconciler(store, fake, gateway, nil, reconciler.Config{Policy: policy, ConfirmTimeout: time.Second})
	auth := authenticator.NewAuthenticator(store, "test-secret", time.Hour)

	server := rpc.NewServer()
	server.RegisterCodec(rpccodecs.NewCustomRequestsCodec(), "application/json")
	require.NoError(t, server.RegisterService(NewLedgerService(engine, store, auth), ""))
	require.NoError(t, server.RegisterService(NewProfileService(gateway, auth), ""))

	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, oracle: fake}
}

func (e *testEnv) call(t *testing.T, method string, params interface{}, header string) response {
	t.Helper()

	body, err := json.Marshal(map[string]interface{}{"method": method, "params": []interface{}{params}, "id": 1})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, e.server.URL, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if header != "" {
		req.Header.Set("Authorization", "Bearer "+header)
	}

	res, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out response
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()

	res := e.call(t, "ledger_authenticate", AuthenticateRequest{Username: username, Password: "s3cret"}, "")
	require.Nil(t, res.Error)

	var reply AuthenticateReply
	require.NoError(t, json.Unmarshal(res.Result, &reply))
	require.NotEmpty(t, reply.Token)
	return reply.Token
}

func (e *testEnv) mined(hash string) {
	h := common.HexToHash(hash)
	e.oracle.AddTransaction(h, common.HexToAddress(alice))
	e.oracle.QueueReceipts(h, oracletest.Success(h, 100, 50000))
}

func TestConfirmTransactionOverRPC(t *testing.T) {
	env := newTestEnv(t)
	env.mined(hashA)
	token := env.login(t, "alice")

	res := env.call(t, "ledger_confirmTransaction", ConfirmTransactionArgs{
		Hash:         hashA,
		Type:         string(model.TokenTransfer),
		OwnerAddress: alice,
		Context:      model.Context{Transfer: &model.TransferPayload{Amount: 5, Recipient: bob}},
		Token:        token,
	}, "")
	require.Nil(t, res.Error)

	var reply TransactionReply
	require.NoError(t, json.Unmarshal(res.Result, &reply))
	assert.Equal(t, model.Confirmed, reply.Transaction.Status)
	assert.Equal(t, float64(5), reply.Transaction.Amount)
	require.NotNil(t, reply.Transaction.Metadata.BlockNumber)
	assert.Equal(t, uint64(100), *reply.Transaction.Metadata.BlockNumber)

	res = env.call(t, "ledger_getTransaction", HashArgs{Hash: hashA}, "")
	require.Nil(t, res.Error)

	res = env.call(t, "ledger_getMyTransactions", GetMyTransactionsArgs{Page: 1}, token)
	require.Nil(t, res.Error)
	var page TransactionsPageReply
	require.NoError(t, json.Unmarshal(res.Result, &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 10, page.Limit)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, common.HexToHash(hashA).Hex(), page.Transactions[0].LedgerTxHash)
}

func TestConfirmTransactionRejectsForeignToken(t *testing.T) {
	env := newTestEnv(t)
	env.mined(hashA)
	token := env.login(t, "bob")

	res := env.call(t, "ledger_confirmTransaction", ConfirmTransactionArgs{
		Hash: hashA, Type: string(model.TokenTransfer), OwnerAddress: alice, Token: token,
	}, "")

	require.NotNil(t, res.Error)
	assert.Equal(t, rpccodecs.CodeInput, res.Error.Code)
	assert.Contains(t, res.Error.Message, apperr.ErrUnauthorized.Error())
	transactions, _ := env.oracle.Calls()
	assert.Zero(t, transactions)
}

func TestConfirmTransactionErrors(t *testing.T) {
	env := newTestEnv(t)
	env.mined(hashA)

	res := env.call(t, "ledger_confirmTransaction", ConfirmTransactionArgs{
		Hash: "0x1234", Type: string(model.TokenTransfer), OwnerAddress: alice,
	}, "")
	require.NotNil(t, res.Error)
	assert.Equal(t, "input", res.Error.Kind)
	assert.False(t, res.Error.Retryable)

	res = env.call(t, "ledger_confirmTransaction", ConfirmTransactionArgs{
		Hash: hashA, Type: string(model.ManuscriptSubmission), OwnerAddress: bob,
	}, "")
	require.NotNil(t, res.Error)
	assert.Equal(t, rpccodecs.CodePrecondition, res.Error.Code)

	env.oracle.ReceiptErr = apperr.ErrOracleUnavailable
	res = env.call(t, "ledger_confirmTransaction", ConfirmTransactionArgs{
		Hash: hashA, Type: string(model.TokenTransfer), OwnerAddress: alice,
	}, "")
	require.NotNil(t, res.Error)
	assert.Equal(t, "infrastructure", res.Error.Kind)
	assert.True(t, res.Error.Retryable)
}

func TestGetTransactionsRLP(t *testing.T) {
	env := newTestEnv(t)
	env.mined(hashA)
	res := env.call(t, "ledger_confirmTransaction", ConfirmTransactionArgs{
		Hash: hashA, Type: string(model.TokenTransfer), OwnerAddress: alice,
	}, "")
	require.Nil(t, res.Error)

	asStrings, err := rlp.EncodeToBytes([]string{hashA, hashB})
	require.NoError(t, err)
	asBytes, err := rlp.EncodeToBytes([][]byte{common.HexToHash(hashA).Bytes()})
	require.NoError(t, err)

	for _, encoded := range [][]byte{asStrings, asBytes} {
		res := env.call(t, "ledger_getTransactions", GetTransactionsArgs{Hashes: hexutil.Encode(encoded)}, "")
		require.Nil(t, res.Error)

		var reply TransactionsReply
		require.NoError(t, json.Unmarshal(res.Result, &reply))
		require.Len(t, reply.Transactions, 1)
		assert.Equal(t, common.HexToHash(hashA).Hex(), reply.Transactions[0].LedgerTxHash)
	}

	res = env.call(t, "ledger_getTransactions", GetTransactionsArgs{Hashes: "zz"}, "")
	require.NotNil(t, res.Error)
	assert.Equal(t, rpccodecs.CodeInput, res.Error.Code)
}

func TestUpdateTransactionStatus(t *testing.T) {
	env := newTestEnv(t)
	env.oracle.AddTransaction(common.HexToHash(hashA), common.HexToAddress(alice))
	res := env.call(t, "ledger_confirmTransaction", ConfirmTransactionArgs{
		Hash: hashA, Type: string(model.TokenTransfer), OwnerAddress: alice,
	}, "")
	require.Nil(t, res.Error)

	var pending TransactionReply
	require.NoError(t, json.Unmarshal(res.Result, &pending))
	require.Equal(t, model.Pending, pending.Transaction.Status)
	assert.Equal(t, model.NoteNotMined, pending.Transaction.Metadata.Note)

	res = env.call(t, "ledger_updateTransactionStatus", UpdateTransactionStatusArgs{Hash: hashA, Status: "confirmed"}, env.login(t, "bob"))
	require.NotNil(t, res.Error)

	token := env.login(t, "alice")
	res = env.call(t, "ledger_updateTransactionStatus", UpdateTransactionStatusArgs{Hash: hashA, Status: "confirmed"}, token)
	require.Nil(t, res.Error)
	var reply TransactionReply
	require.NoError(t, json.Unmarshal(res.Result, &reply))
	assert.Equal(t, model.Confirmed, reply.Transaction.Status)

	res = env.call(t, "ledger_updateTransactionStatus", UpdateTransactionStatusArgs{Hash: hashA, Status: "failed"}, token)
	require.NotNil(t, res.Error)
	assert.Equal(t, rpccodecs.CodePrecondition, res.Error.Code)

	res = env.call(t, "ledger_updateTransactionStatus", UpdateTransactionStatusArgs{Hash: hashA, Status: "settled"}, token)
	require.NotNil(t, res.Error)
	assert.Equal(t, rpccodecs.CodeInput, res.Error.Code)
}

func TestReconfirmTransaction(t *testing.T) {
	env := newTestEnv(t)
	h := common.HexToHash(hashA)
	env.oracle.AddTransaction(h, common.HexToAddress(alice))
	res := env.call(t, "ledger_confirmTransaction", ConfirmTransactionArgs{
		Hash: hashA, Type: string(model.TokenTransfer), OwnerAddress: alice,
	}, "")
	require.Nil(t, res.Error)

	env.oracle.QueueReceipts(h, oracletest.Success(h, 130, 21000))
	res = env.call(t, "ledger_reconfirmTransaction", HashArgs{Hash: hashA}, "")
	require.Nil(t, res.Error)

	var reply TransactionReply
	require.NoError(t, json.Unmarshal(res.Result, &reply))
	assert.Equal(t, model.Confirmed, reply.Transaction.Status)
}

func TestGetMyTransactionsRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	res := env.call(t, "ledger_getMyTransactions", GetMyTransactionsArgs{}, "")
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Message, "missing token")

	res = env.call(t, "ledger_getMyTransactions", GetMyTransactionsArgs{}, "garbage")
	require.NotNil(t, res.Error)
	assert.Equal(t, rpccodecs.CodeInput, res.Error.Code)
}

func TestProfileService(t *testing.T) {
	env := newTestEnv(t)

	res := env.call(t, "profile_isRegistered", AddressArgs{Address: alice}, "")
	require.Nil(t, res.Error)
	var registered RegisteredReply
	require.NoError(t, json.Unmarshal(res.Result, &registered))
	assert.True(t, registered.Registered)

	res = env.call(t, "profile_isRegistered", AddressArgs{Address: "0x12"}, "")
	require.NotNil(t, res.Error)
	assert.Equal(t, rpccodecs.CodeInput, res.Error.Code)

	res = env.call(t, "profile_getContractInfo", EmptyArgs{}, "")
	require.Nil(t, res.Error)
	var info profile.ContractInfo
	require.NoError(t, json.Unmarshal(res.Result, &info))
	assert.Equal(t, "11155111", info.ChainID)
	assert.False(t, info.SignerConfigured)
}

func TestRemoveProfileRequiresOwner(t *testing.T) {
	env := newTestEnv(t)

	res := env.call(t, "profile_removeProfile", RemoveProfileArgs{Address: alice}, "")
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Message, "missing token")

	res = env.call(t, "profile_removeProfile", RemoveProfileArgs{Address: alice}, env.login(t, "bob"))
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Message, apperr.ErrUnauthorized.Error())

	res = env.call(t, "profile_removeProfile", RemoveProfileArgs{Address: alice}, env.login(t, "alice"))
	require.NotNil(t, res.Error)
	assert.Equal(t, "infrastructure", res.Error.Kind)
	assert.False(t, res.Error.Retryable)
}

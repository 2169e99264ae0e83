package profile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/avalkov/peerai-ledger/internal/address"
	"github.com/avalkov/peerai-ledger/internal/apperr"
	"github.com/avalkov/peerai-ledger/internal/model"
	"github.com/avalkov/peerai-ledger/internal/oracle"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

const (
	tokenDecimals = 18
	defaultReason = "administrative removal"
)

func NewGateway(ledger ledgerOracle, policy oracle.RetryPolicy, metrics metrics) *gateway {
	return &gateway{
		ledger:  ledger,
		policy:  policy,
		metrics: metrics,
		logger:  log.New("component", "profile"),
	}
}

func (g *gateway) GetProfile(ctx context.Context, userAddress string) (model.LedgerProfile, error) {
	checksummed, err := address.Checksum(userAddress)
	if err != nil {
		return model.LedgerProfile{}, err
	}

	out, err := g.ledger.CallView(ctx, oracle.CoreContract, oracle.MethodGetUserProfile, checksummed)
	if err != nil {
		return model.LedgerProfile{}, g.translate("get profile", err, apperr.ErrProfileNotFound, oracle.ReasonUserNotRegistered)
	}

	tuple, err := unpackProfile(out)
	if err != nil {
		return model.LedgerProfile{}, fmt.Errorf("%w: get profile: %v", apperr.ErrOracleUnavailable, err)
	}

	return model.LedgerProfile{
		Address:         tuple.UserAddress.Hex(),
		Name:            tuple.Name,
		Institution:     tuple.Institution,
		ResearchField:   tuple.ResearchField,
		ReputationScore: toUint64(tuple.ReputationScore),
		TotalReviews:    toUint64(tuple.TotalReviews),
		TokensEarned:    nonNil(tuple.TokensEarned),
		IsVerified:      tuple.IsVerified,
		Expertise:       tuple.Expertise,
	}, nil
}

// IsRegistered answers false, not an error, for an address the core contract
// does not know. Errors mean the question could not be answered.
func (g *gateway) IsRegistered(ctx context.Context, userAddress string) (bool, error) {
	checksummed, err := address.Checksum(userAddress)
	if err != nil {
		return false, err
	}
	return g.isRegistered(ctx, checksummed)
}

func (g *gateway) GetReputationScore(ctx context.Context, userAddress string) (uint64, error) {
	profile, err := g.GetProfile(ctx, userAddress)
	if err != nil {
		return 0, err
	}
	return profile.ReputationScore, nil
}

// GetTokenBalance returns the token balance as a decimal string in whole tokens.
func (g *gateway) GetTokenBalance(ctx context.Context, userAddress string) (string, error) {
	checksummed, err := address.Checksum(userAddress)
	if err != nil {
		return "", err
	}

	out, err := g.ledger.CallView(ctx, oracle.TokenContract, oracle.MethodBalanceOf, checksummed)
	if err != nil {
		return "", g.translate("get token balance", err, nil, "")
	}

	balance, ok := first(out).(*big.Int)
	if !ok {
		return "", fmt.Errorf("%w: get token balance: unexpected result %v", apperr.ErrOracleUnavailable, out)
	}

	return formatUnits(balance, tokenDecimals), nil
}

func (g *gateway) GetManuscript(ctx context.Context, id uint64) (model.LedgerManuscript, error) {
	if id == 0 {
		return model.LedgerManuscript{}, fmt.Errorf("%w: %d", apperr.ErrInvalidManuscriptID, id)
	}

	out, err := g.ledger.CallView(ctx, oracle.CoreContract, oracle.MethodGetManuscript, new(big.Int).SetUint64(id))
	if err != nil {
		return model.LedgerManuscript{}, g.translate("get manuscript", err, apperr.ErrManuscriptNotFound, oracle.ReasonNotFound)
	}

	tuple, err := unpackManuscript(out)
	if err != nil {
		return model.LedgerManuscript{}, fmt.Errorf("%w: get manuscript: %v", apperr.ErrOracleUnavailable, err)
	}

	return model.LedgerManuscript{
		ID:             toUint64(tuple.Id),
		Title:          tuple.Title,
		AbstractText:   tuple.AbstractText,
		Authors:        tuple.Authors,
		ResearchField:  tuple.ResearchField,
		FileHash:       tuple.FileHash,
		Author:         tuple.Author.Hex(),
		SubmissionTime: toUint64(tuple.SubmissionTime),
		AverageRating:  toUint64(tuple.AverageRating),
		ReviewCount:    toUint64(tuple.ReviewCount),
		IsActive:       tuple.IsActive,
		Keywords:       tuple.Keywords,
	}, nil
}

// RemoveProfile removes a registered user with the system signing key and
// waits for the removal to be mined. It returns the confirmed hash.
func (g *gateway) RemoveProfile(ctx context.Context, userAddress, reason string) (string, error) {
	if !g.ledger.HasSigner() {
		return "", apperr.ErrNoSigningKeyConfigured
	}

	checksummed, err := address.Checksum(userAddress)
	if err != nil {
		return "", err
	}

	registered, err := g.isRegistered(ctx, checksummed)
	if err != nil {
		return "", err
	}
	if !registered {
		return "", fmt.Errorf("%w: %s", apperr.ErrProfileNotFound, checksummed.Hex())
	}

	if strings.TrimSpace(reason) == "" {
		reason = defaultReason
	}

	hash, err := g.ledger.SendSigned(ctx, oracle.CoreContract, oracle.MethodRemoveUser, checksummed, reason)
	if err != nil {
		if oracle.IsRevert(err, oracle.ReasonRemovalNotPermitted) {
			return "", fmt.Errorf("%w: %v", apperr.ErrRemovalNotPermitted, err)
		}
		return "", g.translate("remove user", err, apperr.ErrProfileNotFound, oracle.ReasonUserNotRegistered)
	}

	receipt, lookups, err := oracle.WaitForReceipt(ctx, g.ledger, hash, g.policy)
	if err != nil {
		return "", g.translate("wait removal receipt", err, nil, "")
	}
	if receipt == nil {
		return "", fmt.Errorf("%w: %s after %d lookups", apperr.ErrRemovalNotConfirmed, hash.Hex(), lookups)
	}
	if receipt.Status != oracle.ReceiptSuccess {
		return "", fmt.Errorf("%w: %s", apperr.ErrRemovalFailed, hash.Hex())
	}

	g.logger.Info("Removed user from ledger", "user", checksummed.Hex(), "hash", hash.Hex(), "block", receipt.BlockNumber)

	return hash.Hex(), nil
}

// ContractInfo describes the ledger this gateway talks to.
func (g *gateway) ContractInfo() ContractInfo {
	return ContractInfo{
		TokenAddress:     g.ledger.TokenAddress().Hex(),
		CoreAddress:      g.ledger.CoreAddress().Hex(),
		ChainID:          g.ledger.ChainID().String(),
		SignerConfigured: g.ledger.HasSigner(),
	}
}

func (g *gateway) isRegistered(ctx context.Context, checksummed common.Address) (bool, error) {
	out, err := g.ledger.CallView(ctx, oracle.CoreContract, oracle.MethodIsUserRegistered, checksummed)
	if err != nil {
		if oracle.IsRevert(err, oracle.ReasonUserNotRegistered) {
			return false, nil
		}
		return false, g.translate("is registered", err, nil, "")
	}

	registered, ok := first(out).(bool)
	if !ok {
		return false, fmt.Errorf("%w: is registered: unexpected result %v", apperr.ErrOracleUnavailable, out)
	}
	return registered, nil
}

// translate keeps "absent on the ledger", "oracle unreachable" and
// "malformed input" apart. absent may be nil when no revert means absence.
func (g *gateway) translate(op string, err error, absent error, absentReason string) error {
	if absent != nil && oracle.IsRevert(err, absentReason) {
		return fmt.Errorf("%w: %v", absent, err)
	}
	if errors.Is(err, apperr.ErrOracleUnavailable) && g.metrics != nil {
		g.metrics.ObserveOracleFailure(strings.ReplaceAll(op, " ", "_"))
		g.logger.Warn("Oracle unavailable", "op", op, "err", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func unpackProfile(out []interface{}) (tuple oracle.UserProfileTuple, err error) {
	if len(out) == 0 {
		return tuple, errors.New("empty result")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected profile shape: %v", r)
		}
	}()
	tuple = *abi.ConvertType(out[0], new(oracle.UserProfileTuple)).(*oracle.UserProfileTuple)
	return tuple, nil
}

func unpackManuscript(out []interface{}) (tuple oracle.ManuscriptTuple, err error) {
	if len(out) == 0 {
		return tuple, errors.New("empty result")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected manuscript shape: %v", r)
		}
	}()
	tuple = *abi.ConvertType(out[0], new(oracle.ManuscriptTuple)).(*oracle.ManuscriptTuple)
	return tuple, nil
}

func first(out []interface{}) interface{} {
	if len(out) == 0 {
		return nil
	}
	return out[0]
}

func toUint64(v *big.Int) uint64 {
	if v == nil || v.Sign() < 0 {
		return 0
	}
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// formatUnits renders v scaled down by 10^decimals, e.g. 1e18 wei as "1.0".
func formatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0.0"
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	s := new(big.Rat).SetFrac(v, scale).FloatString(decimals)
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

type ledgerOracle interface {
	oracle.ReceiptSource
	CallView(ctx context.Context, contract oracle.Contract, method string, args ...interface{}) ([]interface{}, error)
	SendSigned(ctx context.Context, contract oracle.Contract, method string, args ...interface{}) (common.Hash, error)
	HasSigner() bool
	TokenAddress() common.Address
	CoreAddress() common.Address
	ChainID() *big.Int
}

type ContractInfo struct {
	TokenAddress     string `json:"tokenAddress"`
	CoreAddress      string `json:"coreAddress"`
	ChainID          string `json:"chainId"`
	SignerConfigured bool   `json:"signerConfigured"`
}

type metrics interface {
	ObserveOracleFailure(operation string)
}

type gateway struct {
	ledger  ledgerOracle
	policy  oracle.RetryPolicy
	metrics metrics
	logger  log.Logger
}

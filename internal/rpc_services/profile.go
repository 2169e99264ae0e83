package rpcservices

import (
	"context"
	"fmt"
	"net/http"

	"github.com/avalkov/peerai-ledger/internal/apperr"
	"github.com/avalkov/peerai-ledger/internal/model"
	"github.com/avalkov/peerai-ledger/internal/profile"
)

func NewProfileService(profiles profiles, authenticator tokenAuthenticator) *Profile {
	return &Profile{
		profiles:      profiles,
		authenticator: authenticator,
	}
}

func (p *Profile) GetProfile(r *http.Request, args *AddressArgs, reply *ProfileReply) error {
	ledgerProfile, err := p.profiles.GetProfile(r.Context(), args.Address)
	if err != nil {
		return err
	}

	reply.Profile = ledgerProfile

	return nil
}

func (p *Profile) IsRegistered(r *http.Request, args *AddressArgs, reply *RegisteredReply) error {
	registered, err := p.profiles.IsRegistered(r.Context(), args.Address)
	if err != nil {
		return err
	}

	reply.Registered = registered

	return nil
}

func (p *Profile) GetReputation(r *http.Request, args *AddressArgs, reply *ReputationReply) error {
	score, err := p.profiles.GetReputationScore(r.Context(), args.Address)
	if err != nil {
		return err
	}

	reply.Score = score

	return nil
}

func (p *Profile) GetTokenBalance(r *http.Request, args *AddressArgs, reply *BalanceReply) error {
	balance, err := p.profiles.GetTokenBalance(r.Context(), args.Address)
	if err != nil {
		return err
	}

	reply.Balance = balance

	return nil
}

func (p *Profile) GetManuscript(r *http.Request, args *ManuscriptArgs, reply *ManuscriptReply) error {
	manuscript, err := p.profiles.GetManuscript(r.Context(), args.ID)
	if err != nil {
		return err
	}

	reply.Manuscript = manuscript

	return nil
}

// RemoveProfile is restricted to the wallet being removed.
func (p *Profile) RemoveProfile(r *http.Request, args *RemoveProfileArgs, reply *RemoveProfileReply) error {
	token := bearer(r, args.Token)
	if token == "" {
		return fmt.Errorf("%w: missing token", apperr.ErrUnauthorized)
	}

	claims, err := p.authenticator.VerifyToken(token)
	if err != nil {
		return err
	}
	if err := ownsWallet(claims, args.Address); err != nil {
		return err
	}

	hash, err := p.profiles.RemoveProfile(r.Context(), args.Address, args.Reason)
	if err != nil {
		return err
	}

	reply.TxHash = hash

	return nil
}

func (p *Profile) GetContractInfo(r *http.Request, _ *EmptyArgs, reply *profile.ContractInfo) error {
	*reply = p.profiles.ContractInfo()
	return nil
}

type AddressArgs struct {
	Address string `json:"address"`
}

type ManuscriptArgs struct {
	ID uint64 `json:"id"`
}

type RemoveProfileArgs struct {
	Token   string `json:"token,omitempty"`
	Address string `json:"address"`
	Reason  string `json:"reason,omitempty"`
}

type EmptyArgs struct{}

type ProfileReply struct {
	Profile model.LedgerProfile `json:"profile"`
}

type RegisteredReply struct {
	Registered bool `json:"registered"`
}

type ReputationReply struct {
	Score uint64 `json:"score"`
}

type BalanceReply struct {
	Balance string `json:"balance"`
}

type ManuscriptReply struct {
	Manuscript model.LedgerManuscript `json:"manuscript"`
}

type RemoveProfileReply struct {
	TxHash string `json:"txHash"`
}

type profiles interface {
	GetProfile(ctx context.Context, userAddress string) (model.LedgerProfile, error)
	IsRegistered(ctx context.Context, userAddress string) (bool, error)
	GetReputationScore(ctx context.Context, userAddress string) (uint64, error)
	GetTokenBalance(ctx context.Context, userAddress string) (string, error)
	GetManuscript(ctx context.Context, id uint64) (model.LedgerManuscript, error)
	RemoveProfile(ctx context.Context, userAddress, reason string) (string, error)
	ContractInfo() profile.ContractInfo
}

type Profile struct {
	profiles      profiles
	authenticator tokenAuthenticator
}

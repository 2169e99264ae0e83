package oracle

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

type Contract int

const (
	TokenContract Contract = iota
	CoreContract
)

func (c Contract) String() string {
	if c == TokenContract {
		return "token"
	}
	return "core"
}

const (
	MethodBalanceOf        = "balanceOf"
	MethodGetUserProfile   = "getUserProfile"
	MethodIsUserRegistered = "isUserRegistered"
	MethodGetManuscript    = "getManuscript"
	MethodRemoveUser       = "removeUser"

	eventTransfer = "Transfer"
)

// Revert reasons raised by the core contract.
const (
	ReasonUserNotRegistered   = "User not registered"
	ReasonRemovalNotPermitted = "Only user themselves or owner can remove user"
	ReasonNotFound            = "not found"
)

const tokenABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Transfer","anonymous":false,
	 "inputs":[
		{"indexed":true,"name":"from","type":"address"},
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":false,"name":"value","type":"uint256"}]}
]`

const coreABIJSON = `[
	{"type":"function","name":"getUserProfile","stateMutability":"view",
	 "inputs":[{"name":"_userAddress","type":"address"}],
	 "outputs":[{"name":"","type":"tuple","internalType":"struct PeerAICore.UserProfile","components":[
		{"name":"userAddress","type":"address"},
		{"name":"name","type":"string"},
		{"name":"institution","type":"string"},
		{"name":"researchField","type":"string"},
		{"name":"reputationScore","type":"uint256"},
		{"name":"totalReviews","type":"uint256"},
		{"name":"tokensEarned","type":"uint256"},
		{"name":"isVerified","type":"bool"},
		{"name":"expertise","type":"string[]"}]}]},
	{"type":"function","name":"isUserRegistered","stateMutability":"view",
	 "inputs":[{"name":"_userAddress","type":"address"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"getManuscript","stateMutability":"view",
	 "inputs":[{"name":"_manuscriptId","type":"uint256"}],
	 "outputs":[{"name":"","type":"tuple","internalType":"struct PeerAICore.Manuscript","components":[
		{"name":"id","type":"uint256"},
		{"name":"title","type":"string"},
		{"name":"abstractText","type":"string"},
		{"name":"authors","type":"string"},
		{"name":"researchField","type":"string"},
		{"name":"fileHash","type":"string"},
		{"name":"author","type":"address"},
		{"name":"submissionTime","type":"uint256"},
		{"name":"averageRating","type":"uint256"},
		{"name":"reviewCount","type":"uint256"},
		{"name":"isActive","type":"bool"},
		{"name":"keywords","type":"string[]"}]}]},
	{"type":"function","name":"removeUser","stateMutability":"nonpayable",
	 "inputs":[{"name":"_userAddress","type":"address"},{"name":"_reason","type":"string"}],
	 "outputs":[]}
]`

var (
	tokenABI = mustParseABI(tokenABIJSON)
	coreABI  = mustParseABI(coreABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// UserProfileTuple mirrors PeerAICore.UserProfile. Field order and names
// must follow the ABI components so abi.ConvertType can convert it.
type UserProfileTuple struct {
	UserAddress     common.Address
	Name            string
	Institution     string
	ResearchField   string
	ReputationScore *big.Int
	TotalReviews    *big.Int
	TokensEarned    *big.Int
	IsVerified      bool
	Expertise       []string
}

// ManuscriptTuple mirrors PeerAICore.Manuscript.
type ManuscriptTuple struct {
	Id             *big.Int
	Title          string
	AbstractText   string
	Authors        string
	ResearchField  string
	FileHash       string
	Author         common.Address
	SubmissionTime *big.Int
	AverageRating  *big.Int
	ReviewCount    *big.Int
	IsActive       bool
	Keywords       []string
}

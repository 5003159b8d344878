package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// TokenConfig describes one ERC-20 token the provider reads.
type TokenConfig struct {
	Contract common.Address
}

// CollectionConfig describes one ERC-721 collection the provider reads.
type CollectionConfig struct {
	Contract common.Address
}

// balanceOf is shared by ERC-20 and ERC-721 (ERC-721 balanceOf returns the
// owned-token count).
const balanceOfABIJSON = `[{
	"inputs": [{"name": "account", "type": "address"}],
	"name": "balanceOf",
	"outputs": [{"name": "", "type": "uint256"}],
	"stateMutability": "view",
	"type": "function"
}]`

const stakingABIJSON = `[{
	"inputs": [{"name": "user", "type": "address"}],
	"name": "stakedAmount",
	"outputs": [{"name": "", "type": "uint256"}],
	"stateMutability": "view",
	"type": "function"
}]`

const verificationABIJSON = `[{
	"inputs": [{"name": "user", "type": "address"}],
	"name": "isVerified",
	"outputs": [{"name": "", "type": "bool"}],
	"stateMutability": "view",
	"type": "function"
}]`

// ChainProvider builds wallet snapshots from on-chain view calls, with an
// optional SocialClient for the off-chain score and badge fields.
type ChainProvider struct {
	client      *ethclient.Client
	tokens      map[string]TokenConfig
	collections map[string]CollectionConfig

	stakingAddr      common.Address
	hasStaking       bool
	verificationAddr common.Address
	hasVerification  bool

	balanceOfABI    abi.ABI
	stakingABI      abi.ABI
	verificationABI abi.ABI

	social *SocialClient
}

// NewChainProvider connects to an Ethereum RPC endpoint. Tokens and
// collections map catalog IDs to contract addresses; IDs absent from the
// maps simply never appear in snapshots.
func NewChainProvider(rpcURL string, tokens map[string]TokenConfig, collections map[string]CollectionConfig) (*ChainProvider, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to Ethereum RPC: %w", err)
	}

	balanceOfABI, err := abi.JSON(strings.NewReader(balanceOfABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing balanceOf ABI: %w", err)
	}
	stakingABI, err := abi.JSON(strings.NewReader(stakingABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing staking ABI: %w", err)
	}
	verificationABI, err := abi.JSON(strings.NewReader(verificationABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing verification ABI: %w", err)
	}

	return &ChainProvider{
		client:          client,
		tokens:          tokens,
		collections:     collections,
		balanceOfABI:    balanceOfABI,
		stakingABI:      stakingABI,
		verificationABI: verificationABI,
	}, nil
}

// SetStakingContract configures the staking contract to read stakedAmount
// from. Without it, snapshots carry a zero stake.
func (p *ChainProvider) SetStakingContract(addr common.Address) {
	p.stakingAddr = addr
	p.hasStaking = true
}

// SetVerificationContract configures the on-chain verification registry.
// When a SocialClient is also configured, its badge flag wins.
func (p *ChainProvider) SetVerificationContract(addr common.Address) {
	p.verificationAddr = addr
	p.hasVerification = true
}

// SetSocialClient configures the off-chain social score source.
func (p *ChainProvider) SetSocialClient(c *SocialClient) {
	p.social = c
}

// Fetch reads every configured fact for one wallet and assembles an
// immutable snapshot. Any upstream failure aborts the whole fetch: a
// partial snapshot could grant or deny access on incomplete data.
func (p *ChainProvider) Fetch(ctx context.Context, address common.Address) (*WalletSnapshot, error) {
	snap := &WalletSnapshot{
		Address:       address,
		TokenBalances: make(map[string]*big.Int, len(p.tokens)),
		NftCounts:     make(map[string]int, len(p.collections)),
		StakeAmount:   big.NewInt(0),
		FetchedAt:     time.Now(),
	}

	for id, tok := range p.tokens {
		bal, err := p.callBalanceOf(ctx, tok.Contract, address)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", id, err)
		}
		snap.TokenBalances[id] = bal
	}

	for id, col := range p.collections {
		count, err := p.callBalanceOf(ctx, col.Contract, address)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", id, err)
		}
		snap.NftCounts[id] = int(count.Int64())
	}

	if p.hasStaking {
		stake, err := p.callUint256(ctx, p.stakingABI, "stakedAmount", p.stakingAddr, address)
		if err != nil {
			return nil, fmt.Errorf("staking: %w", err)
		}
		snap.StakeAmount = stake
	}

	if p.hasVerification {
		verified, err := p.callBool(ctx, p.verificationABI, "isVerified", p.verificationAddr, address)
		if err != nil {
			return nil, fmt.Errorf("verification: %w", err)
		}
		snap.HasVerificationBadge = verified
	}

	if p.social != nil {
		profile, err := p.social.Lookup(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("social score: %w", err)
		}
		snap.SocialScore = profile.Score
		if profile.Verified {
			snap.HasVerificationBadge = true
		}
	}

	log.Printf("[snapshot] fetched %s: %d tokens, %d collections, stake=%s score=%d",
		address.Hex(), len(snap.TokenBalances), len(snap.NftCounts), snap.StakeAmount, snap.SocialScore)
	return snap, nil
}

func (p *ChainProvider) callBalanceOf(ctx context.Context, contract, wallet common.Address) (*big.Int, error) {
	return p.callUint256(ctx, p.balanceOfABI, "balanceOf", contract, wallet)
}

func (p *ChainProvider) callUint256(ctx context.Context, parsed abi.ABI, method string, contract, wallet common.Address) (*big.Int, error) {
	results, err := p.call(ctx, parsed, method, contract, wallet)
	if err != nil {
		return nil, err
	}
	value, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected type for %s result: %T", method, results[0])
	}
	return value, nil
}

func (p *ChainProvider) callBool(ctx context.Context, parsed abi.ABI, method string, contract, wallet common.Address) (bool, error) {
	results, err := p.call(ctx, parsed, method, contract, wallet)
	if err != nil {
		return false, err
	}
	value, ok := results[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected type for %s result: %T", method, results[0])
	}
	return value, nil
}

func (p *ChainProvider) call(ctx context.Context, parsed abi.ABI, method string, contract, wallet common.Address) ([]interface{}, error) {
	callData, err := parsed.Pack(method, wallet)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}

	output, err := p.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contract,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, classifyRPCError(method, err)
	}

	results, err := parsed.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", method, err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("%s: expected 1 return value, got %d", method, len(results))
	}
	return results, nil
}

// classifyRPCError maps transport failures onto the engine's error
// taxonomy so callers can distinguish "can't verify" from "verified and
// denied".
func classifyRPCError(method string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("calling %s: %v: %w", method, err, ErrUpstreamUnavailable)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return fmt.Errorf("calling %s: %v: %w", method, err, ErrRateLimited)
	}
	return fmt.Errorf("calling %s: %v: %w", method, err, ErrUpstreamUnavailable)
}

// Close shuts down the Ethereum client connection.
func (p *ChainProvider) Close() {
	p.client.Close()
}

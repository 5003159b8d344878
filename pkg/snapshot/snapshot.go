// Package snapshot fetches point-in-time wallet facts used for rule
// evaluation: token balances, NFT counts, stake, verification badge and
// social score. A WalletSnapshot is immutable once built; the engine
// caches and shares it freely across concurrent callers.
package snapshot

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUpstreamUnavailable marks transient RPC/network failures. The
	// engine never retries internally and never converts this into an
	// access denial; callers decide whether to retry with backoff.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrRateLimited marks an upstream rejecting us for request volume.
	ErrRateLimited = errors.New("rate limited by upstream")
)

// WalletSnapshot is an immutable summary of one wallet's holdings and
// attributes at FetchedAt. Maps are never mutated after construction.
type WalletSnapshot struct {
	Address              common.Address
	TokenBalances        map[string]*big.Int
	NftCounts            map[string]int
	StakeAmount          *big.Int
	HasVerificationBadge bool
	SocialScore          int
	FetchedAt            time.Time
}

var zero = big.NewInt(0)

// Balance returns the balance for a token ID, zero if unknown.
func (s *WalletSnapshot) Balance(tokenID string) *big.Int {
	if b, ok := s.TokenBalances[tokenID]; ok && b != nil {
		return b
	}
	return zero
}

// NftCount returns the owned count for a collection ID, zero if unknown.
func (s *WalletSnapshot) NftCount(collectionID string) int {
	return s.NftCounts[collectionID]
}

// Stake returns the staked amount, zero if none.
func (s *WalletSnapshot) Stake() *big.Int {
	if s.StakeAmount != nil {
		return s.StakeAmount
	}
	return zero
}

// Provider fetches a fresh snapshot for one address. Implementations talk
// to slow, rate-limited upstreams; the engine deduplicates and caches
// calls so a provider is only hit on cache misses.
type Provider interface {
	Fetch(ctx context.Context, address common.Address) (*WalletSnapshot, error)
}

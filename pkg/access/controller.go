package access

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cryb/gatekeeper/pkg/flightcache"
	"github.com/cryb/gatekeeper/pkg/rules"
	"github.com/cryb/gatekeeper/pkg/snapshot"
)

// ErrUnknownCommunity marks a request for a community ID absent from the
// catalog. A caller error, not an upstream failure.
var ErrUnknownCommunity = errors.New("unknown community")

// DefaultTTL is how long snapshots and access results stay cached.
// Short on purpose: holdings change under us and the invalidate endpoint
// covers the cases we know about.
const DefaultTTL = 45 * time.Second

// Controller is the engine facade. It owns all cache entries; snapshots
// and results are immutable values, safe to hand to concurrent callers.
// Every upstream fetch goes through the single-flight cache, so a burst
// of callers for one wallet costs one provider hit.
type Controller struct {
	provider snapshot.Provider
	resolver *Resolver
	catalog  *rules.Catalog
	ttl      time.Duration

	snaps   *flightcache.Cache[*snapshot.WalletSnapshot]
	globals *flightcache.Cache[rules.TierDefinition]
	results *flightcache.Cache[rules.AccessResult]
}

// NewController creates the engine facade. A non-positive ttl selects
// DefaultTTL.
func NewController(provider snapshot.Provider, resolver *Resolver, catalog *rules.Catalog, ttl time.Duration) *Controller {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Controller{
		provider: provider,
		resolver: resolver,
		catalog:  catalog,
		ttl:      ttl,
		snaps:    flightcache.New[*snapshot.WalletSnapshot](),
		globals:  flightcache.New[rules.TierDefinition](),
		results:  flightcache.New[rules.AccessResult](),
	}
}

// Cache keys are "<address>|<scope>" so one prefix sweep clears every
// scope for an address.
func cacheKey(addr common.Address, scope string) string {
	return addr.Hex() + "|" + scope
}

// snapshotFor returns the cached snapshot for addr or fetches a fresh
// one. Fetch failures are not cached; the next caller retries.
func (c *Controller) snapshotFor(ctx context.Context, addr common.Address) (*snapshot.WalletSnapshot, error) {
	return c.snaps.GetOrCompute(ctx, cacheKey(addr, "snapshot"), c.ttl, func(ctx context.Context) (*snapshot.WalletSnapshot, error) {
		return c.provider.Fetch(ctx, addr)
	})
}

// GlobalAccess resolves the wallet's tier on the platform-wide ladder.
func (c *Controller) GlobalAccess(ctx context.Context, addr common.Address) (rules.TierDefinition, error) {
	return c.globals.GetOrCompute(ctx, cacheKey(addr, "global"), c.ttl, func(ctx context.Context) (rules.TierDefinition, error) {
		snap, err := c.snapshotFor(ctx, addr)
		if err != nil {
			return rules.TierDefinition{}, err
		}
		return c.resolver.ResolveGlobal(c.catalog.GlobalLadder, snap), nil
	})
}

// CommunityAccess resolves the wallet against one community's rule.
// Fail closed: if the snapshot fetch fails, the error propagates and no
// partial or default access is granted.
func (c *Controller) CommunityAccess(ctx context.Context, addr common.Address, communityID string) (rules.AccessResult, error) {
	rule, ok := c.catalog.Community(communityID)
	if !ok {
		return rules.AccessResult{}, fmt.Errorf("community %q: %w", communityID, ErrUnknownCommunity)
	}

	return c.results.GetOrCompute(ctx, cacheKey(addr, communityID), c.ttl, func(ctx context.Context) (rules.AccessResult, error) {
		snap, err := c.snapshotFor(ctx, addr)
		if err != nil {
			return rules.AccessResult{}, err
		}
		return c.resolver.ResolveCommunity(rule, snap), nil
	})
}

// AccessibleCommunities evaluates every catalog community for the wallet
// and returns the IDs it can access, in catalog order. All evaluations
// share one cached snapshot, so this costs at most one upstream fetch.
func (c *Controller) AccessibleCommunities(ctx context.Context, addr common.Address) ([]string, error) {
	var ids []string
	for i := range c.catalog.Communities {
		id := c.catalog.Communities[i].CommunityID
		result, err := c.CommunityAccess(ctx, addr, id)
		if err != nil {
			return nil, err
		}
		if result.HasAccess {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Invalidate clears every cache entry for one address: the snapshot, the
// global tier and all community results. Called after a state-changing
// action (new stake, NFT transfer) so the next check sees fresh state.
func (c *Controller) Invalidate(addr common.Address) {
	prefix := addr.Hex() + "|"
	c.snaps.InvalidatePrefix(prefix)
	c.globals.InvalidatePrefix(prefix)
	c.results.InvalidatePrefix(prefix)
	log.Printf("[access] invalidated cache for %s", addr.Hex())
}

// InvalidateAll clears every cache entry.
func (c *Controller) InvalidateAll() {
	c.snaps.InvalidateAll()
	c.globals.InvalidateAll()
	c.results.InvalidateAll()
	log.Printf("[access] invalidated all cache entries")
}

// CachedResults returns the number of cached access results (for
// monitoring).
func (c *Controller) CachedResults() int {
	return c.results.Len() + c.globals.Len()
}

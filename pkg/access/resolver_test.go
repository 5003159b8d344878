package access

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cryb/gatekeeper/pkg/rules"
	"github.com/cryb/gatekeeper/pkg/snapshot"
)

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big.Int literal: " + s)
	}
	return v
}

func snapWithBalance(balance string) *snapshot.WalletSnapshot {
	return &snapshot.WalletSnapshot{
		Address:       common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678"),
		TokenBalances: map[string]*big.Int{"CRYB": mustBig(balance)},
		NftCounts:     map[string]int{},
		StakeAmount:   big.NewInt(0),
		FetchedAt:     time.Now(),
	}
}

func balanceReq(min string) rules.Requirement {
	return rules.TokenBalance{TokenID: "CRYB", Symbol: "CRYB", Decimals: 0, MinAmount: mustBig(min)}
}

func testLadder() []rules.TierDefinition {
	return []rules.TierDefinition{
		{Level: 0, Name: "Basic", Permissions: []rules.Permission{"view"}},
		{Level: 1, Name: "Holder", Permissions: []rules.Permission{"view", "chat"}, Requirement: balanceReq("100")},
		{Level: 2, Name: "Whale", Permissions: []rules.Permission{"view", "chat", "vote"}, Requirement: balanceReq("1000")},
	}
}

func TestResolveGlobalMonotonicLadder(t *testing.T) {
	r := NewResolver(rules.NewEvaluator(0))
	ladder := testLadder()

	tests := []struct {
		balance   string
		wantLevel int
	}{
		{"1500", 2},
		{"500", 1},
		{"0", 0},
		{"100", 1},  // exact threshold
		{"1000", 2}, // exact threshold
	}
	for _, tt := range tests {
		tier := r.ResolveGlobal(ladder, snapWithBalance(tt.balance))
		if tier.Level != tt.wantLevel {
			t.Errorf("balance %s: resolved level %d, want %d", tt.balance, tier.Level, tt.wantLevel)
		}
	}
}

func TestResolveGlobalEmptyLadder(t *testing.T) {
	r := NewResolver(rules.NewEvaluator(0))
	tier := r.ResolveGlobal(nil, snapWithBalance("0"))
	if tier.Level != 0 {
		t.Errorf("expected baseline level 0, got %d", tier.Level)
	}
}

func cryborCommunity() *rules.CommunityRule {
	return &rules.CommunityRule{
		CommunityID: "cryb-og",
		Name:        "CRYB OG",
		TopLevelRequirements: []rules.Requirement{
			rules.TokenBalance{TokenID: "CRYB", Symbol: "CRYB", Decimals: 18, MinAmount: mustBig("1000000000000000000000")},
			rules.Combined{Op: rules.OpOr, Children: []rules.Requirement{
				rules.NftOwnership{CollectionID: "genesis", Name: "Genesis", MinCount: 1},
				rules.StakingAmount{Symbol: "CRYB", Decimals: 18, MinAmount: mustBig("500000000000000000000")},
			}},
		},
		Tiers: []rules.TierDefinition{
			{Level: 0, Name: "Member", Permissions: []rules.Permission{"view", "post"}},
			{Level: 1, Name: "Whale", Permissions: []rules.Permission{"view", "post", "moderate"},
				Requirement: rules.TokenBalance{TokenID: "CRYB", Symbol: "CRYB", Decimals: 18, MinAmount: mustBig("10000000000000000000000")}},
		},
	}
}

// The community requires a 1000 CRYB balance AND (1 Genesis NFT OR a 500
// CRYB stake). A wallet holding 2000 CRYB with no NFTs and no stake is
// denied with exactly the OR branch's synthesized reason; the satisfied
// balance gate contributes nothing.
func TestResolveCommunityDeniedWithOrReason(t *testing.T) {
	r := NewResolver(rules.NewEvaluator(0))
	snap := snapWithBalance("2000000000000000000000")

	result := r.ResolveCommunity(cryborCommunity(), snap)
	if result.HasAccess {
		t.Fatal("expected access denied")
	}
	if result.Tier != nil {
		t.Error("expected nil tier on denial")
	}
	if len(result.Permissions) != 0 {
		t.Errorf("expected no permissions, got %v", result.Permissions)
	}
	if len(result.FailedReasons) != 1 {
		t.Fatalf("expected 1 failed reason, got %v", result.FailedReasons)
	}
	want := "own 1 NFT(s) from collection Genesis OR stake 500 CRYB tokens"
	if result.FailedReasons[0] != want {
		t.Errorf("reason = %q, want %q", result.FailedReasons[0], want)
	}
}

func TestResolveCommunityGrantedBaseTier(t *testing.T) {
	r := NewResolver(rules.NewEvaluator(0))
	snap := snapWithBalance("2000000000000000000000")
	snap.NftCounts["genesis"] = 1

	result := r.ResolveCommunity(cryborCommunity(), snap)
	if !result.HasAccess {
		t.Fatalf("expected access, denied with %v", result.FailedReasons)
	}
	if result.Tier == nil || result.Tier.Name != "Member" {
		t.Errorf("expected Member tier, got %+v", result.Tier)
	}
	if len(result.Permissions) != 2 {
		t.Errorf("expected member permissions, got %v", result.Permissions)
	}
}

func TestResolveCommunityGrantedUpgradedTier(t *testing.T) {
	r := NewResolver(rules.NewEvaluator(0))
	snap := snapWithBalance("20000000000000000000000") // 20000 CRYB
	snap.StakeAmount = mustBig("500000000000000000000")

	result := r.ResolveCommunity(cryborCommunity(), snap)
	if !result.HasAccess {
		t.Fatalf("expected access, denied with %v", result.FailedReasons)
	}
	if result.Tier == nil || result.Tier.Name != "Whale" {
		t.Errorf("expected Whale tier, got %+v", result.Tier)
	}
	if len(result.Permissions) != 3 {
		t.Errorf("expected whale permissions, got %v", result.Permissions)
	}
}

func TestResolveCommunityAllGateReasonsReported(t *testing.T) {
	r := NewResolver(rules.NewEvaluator(0))
	snap := snapWithBalance("0")

	result := r.ResolveCommunity(cryborCommunity(), snap)
	if result.HasAccess {
		t.Fatal("expected access denied")
	}
	if len(result.FailedReasons) != 2 {
		t.Fatalf("expected both gate failures reported, got %v", result.FailedReasons)
	}
	if result.FailedReasons[0] != "hold 1000 CRYB tokens" {
		t.Errorf("first reason = %q", result.FailedReasons[0])
	}
}

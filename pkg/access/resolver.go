// Package access resolves wallets to access tiers and permissions.
// Resolver is the pure tier logic; Controller is the caching facade that
// presentation layers call.
package access

import (
	"github.com/cryb/gatekeeper/pkg/rules"
	"github.com/cryb/gatekeeper/pkg/snapshot"
)

// Resolver picks tiers from evaluated requirements. It holds no mutable
// state and is safe for concurrent use.
type Resolver struct {
	eval *rules.Evaluator
}

// NewResolver creates a resolver around a requirement evaluator.
func NewResolver(eval *rules.Evaluator) *Resolver {
	return &Resolver{eval: eval}
}

// ResolveGlobal walks the ladder from the highest level down and returns
// the first tier whose requirement is satisfied. A tier without a
// requirement always matches, so a ladder with a level-0 baseline never
// fails to resolve. Ladders are monotonic by construction (each higher
// tier strictly harder), so the first hit from the top is the best tier.
func (r *Resolver) ResolveGlobal(ladder []rules.TierDefinition, snap *snapshot.WalletSnapshot) rules.TierDefinition {
	for i := len(ladder) - 1; i >= 0; i-- {
		tier := ladder[i]
		if tier.Requirement == nil {
			return tier
		}
		if r.eval.Evaluate(tier.Requirement, snap).Satisfied {
			return tier
		}
	}
	return rules.TierDefinition{Level: 0, Name: "baseline"}
}

// ResolveCommunity gates the wallet on the community's top-level
// requirements (AND, no short-circuit, every unmet condition reported),
// then on success walks the community's tiers from the top down to find
// the member's tier and permissions.
func (r *Resolver) ResolveCommunity(rule *rules.CommunityRule, snap *snapshot.WalletSnapshot) rules.AccessResult {
	ok, reasons := r.eval.EvaluateAll(rule.TopLevelRequirements, snap)
	if !ok {
		return rules.AccessResult{
			HasAccess:     false,
			Permissions:   []rules.Permission{},
			FailedReasons: reasons,
		}
	}

	result := rules.AccessResult{
		HasAccess:     true,
		Permissions:   []rules.Permission{},
		FailedReasons: []string{},
	}
	for i := len(rule.Tiers) - 1; i >= 0; i-- {
		tier := rule.Tiers[i]
		if tier.Requirement != nil && !r.eval.Evaluate(tier.Requirement, snap).Satisfied {
			continue
		}
		result.Tier = &tier
		result.Permissions = append(result.Permissions, tier.Permissions...)
		break
	}
	return result
}

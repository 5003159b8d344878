package rules

import (
	"fmt"
	"log"
	"strings"

	"github.com/cryb/gatekeeper/pkg/snapshot"
)

// DefaultMaxDepth bounds Combined nesting. Catalog validation enforces the
// same bound at load time; the evaluator re-checks so a malformed tree can
// never recurse unbounded.
const DefaultMaxDepth = 5

// Evaluator checks requirements against wallet snapshots. Evaluation is a
// pure computation over snapshot fields; nothing here touches the chain.
type Evaluator struct {
	maxDepth int
}

// NewEvaluator creates an evaluator with the given maximum Combined
// nesting depth. A non-positive depth selects DefaultMaxDepth.
func NewEvaluator(maxDepth int) *Evaluator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Evaluator{maxDepth: maxDepth}
}

// Evaluate checks one requirement tree against a snapshot.
//
// AND nodes evaluate every child so the caller can show all unmet
// conditions, not just the first. OR nodes stop at the first satisfied
// child; when all alternatives fail the reasons collapse into a single
// combined message. A tree nested deeper than the configured maximum
// fails closed and is logged as a configuration error.
func (e *Evaluator) Evaluate(req Requirement, snap *snapshot.WalletSnapshot) EvaluationResult {
	return e.evaluate(req, snap, 0)
}

// EvaluateAll applies AND semantics across a requirement list: every
// entry is evaluated (no short-circuit) and each failing entry's reason
// is collected in declaration order, deduplicated. This is the top-level
// community gate.
func (e *Evaluator) EvaluateAll(reqs []Requirement, snap *snapshot.WalletSnapshot) (bool, []string) {
	var reasons []string
	seen := make(map[string]bool)
	for _, req := range reqs {
		res := e.Evaluate(req, snap)
		if res.Satisfied {
			continue
		}
		if !seen[res.Reason] {
			seen[res.Reason] = true
			reasons = append(reasons, res.Reason)
		}
	}
	return len(reasons) == 0, reasons
}

func (e *Evaluator) evaluate(req Requirement, snap *snapshot.WalletSnapshot, depth int) EvaluationResult {
	switch r := req.(type) {
	case TokenBalance:
		if snap.Balance(r.TokenID).Cmp(r.MinAmount) >= 0 {
			return EvaluationResult{Satisfied: true}
		}
		return EvaluationResult{Reason: fmt.Sprintf("hold %s %s tokens", formatUnits(r.MinAmount, r.Decimals), r.Symbol)}

	case NftOwnership:
		if snap.NftCount(r.CollectionID) >= r.MinCount {
			return EvaluationResult{Satisfied: true}
		}
		return EvaluationResult{Reason: fmt.Sprintf("own %d NFT(s) from collection %s", r.MinCount, r.Name)}

	case StakingAmount:
		if snap.Stake().Cmp(r.MinAmount) >= 0 {
			return EvaluationResult{Satisfied: true}
		}
		return EvaluationResult{Reason: fmt.Sprintf("stake %s %s tokens", formatUnits(r.MinAmount, r.Decimals), r.Symbol)}

	case VerificationBadge:
		if snap.HasVerificationBadge {
			return EvaluationResult{Satisfied: true}
		}
		return EvaluationResult{Reason: "verify your account"}

	case SocialScore:
		if snap.SocialScore >= r.MinScore {
			return EvaluationResult{Satisfied: true}
		}
		return EvaluationResult{Reason: fmt.Sprintf("reach social score %d", r.MinScore)}

	case Combined:
		if depth >= e.maxDepth {
			log.Printf("[rules] requirement tree exceeds max nesting depth %d, failing closed", e.maxDepth)
			return EvaluationResult{Reason: "requirement tree too deeply nested"}
		}
		if r.Op == OpOr {
			return e.evaluateOr(r, snap, depth+1)
		}
		return e.evaluateAnd(r, snap, depth+1)

	default:
		// The Requirement set is closed; hitting this means a new leaf
		// kind was added without evaluator support.
		panic(fmt.Sprintf("rules: unknown requirement kind %T", req))
	}
}

// evaluateAnd evaluates every child, collecting each failing child's
// reason in declaration order with duplicates dropped.
func (e *Evaluator) evaluateAnd(c Combined, snap *snapshot.WalletSnapshot, depth int) EvaluationResult {
	var reasons []string
	seen := make(map[string]bool)
	for _, child := range c.Children {
		res := e.evaluate(child, snap, depth)
		if res.Satisfied {
			continue
		}
		if !seen[res.Reason] {
			seen[res.Reason] = true
			reasons = append(reasons, res.Reason)
		}
	}
	if len(reasons) == 0 {
		return EvaluationResult{Satisfied: true}
	}
	return EvaluationResult{Reason: strings.Join(reasons, "; ")}
}

// evaluateOr stops at the first satisfied child. When none is satisfied
// the alternatives collapse into one reason, since "all alternatives
// failed" is a single fact.
func (e *Evaluator) evaluateOr(c Combined, snap *snapshot.WalletSnapshot, depth int) EvaluationResult {
	var reasons []string
	for _, child := range c.Children {
		res := e.evaluate(child, snap, depth)
		if res.Satisfied {
			return EvaluationResult{Satisfied: true}
		}
		reasons = append(reasons, res.Reason)
	}
	return EvaluationResult{Reason: strings.Join(reasons, " OR ")}
}

// Package rules defines the requirement model for token-gated access and
// the evaluator that checks requirements against a wallet snapshot.
//
// A Requirement is a closed set of leaf checks (token balance, NFT
// ownership, staking, verification badge, social score) plus AND/OR
// composition. Communities declare a gate (implicitly AND-ed top-level
// requirements) and an ordered ladder of tiers; the global ladder uses the
// same tier shape without a community gate.
package rules

import (
	"math/big"
	"strings"
)

// Operator combines the children of a Combined requirement.
type Operator int

const (
	OpAnd Operator = iota
	OpOr
)

func (op Operator) String() string {
	if op == OpOr {
		return "any_of"
	}
	return "all_of"
}

// Requirement is one node of a requirement tree. The set of
// implementations is closed; evaluator dispatch is exhaustive.
type Requirement interface {
	isRequirement()
}

// TokenBalance requires holding at least MinAmount base units of a token.
// Symbol and Decimals are display metadata resolved from the catalog's
// token registry when the requirement is compiled.
type TokenBalance struct {
	TokenID   string
	Symbol    string
	Decimals  int
	MinAmount *big.Int
}

// NftOwnership requires owning at least MinCount items of a collection.
type NftOwnership struct {
	CollectionID string
	Name         string
	MinCount     int
}

// StakingAmount requires at least MinAmount base units staked.
type StakingAmount struct {
	Symbol    string
	Decimals  int
	MinAmount *big.Int
}

// VerificationBadge requires a verified account.
type VerificationBadge struct{}

// SocialScore requires a community score of at least MinScore.
type SocialScore struct {
	MinScore int
}

// Combined AND/OR-composes child requirements. Nesting depth is bounded
// by the evaluator's configured maximum.
type Combined struct {
	Op       Operator
	Children []Requirement
}

func (TokenBalance) isRequirement()      {}
func (NftOwnership) isRequirement()      {}
func (StakingAmount) isRequirement()     {}
func (VerificationBadge) isRequirement() {}
func (SocialScore) isRequirement()       {}
func (Combined) isRequirement()          {}

// Permission is a capability granted by a tier (e.g. "post", "moderate").
type Permission string

// TierDefinition is one rung of an access ladder. Requirement is nil for
// the baseline tier. Levels are totally ordered within a ladder.
type TierDefinition struct {
	Level       int          `json:"level"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
	Requirement Requirement  `json:"-"`
}

// CommunityRule gates one community. TopLevelRequirements are implicitly
// AND-ed: access is granted iff every one is satisfied. Tiers are the
// community's internal ladder, evaluated only after the gate passes.
type CommunityRule struct {
	CommunityID          string
	Name                 string
	TopLevelRequirements []Requirement
	Tiers                []TierDefinition
}

// EvaluationResult is the outcome of evaluating one requirement node.
// Reason is empty when satisfied, otherwise a human-readable description
// of what the wallet would need to do.
type EvaluationResult struct {
	Satisfied bool
	Reason    string
}

// AccessResult is the outcome of resolving a wallet against a community.
type AccessResult struct {
	HasAccess     bool            `json:"has_access"`
	Tier          *TierDefinition `json:"tier,omitempty"`
	Permissions   []Permission    `json:"permissions"`
	FailedReasons []string        `json:"failed_reasons"`
}

// formatUnits renders a base-unit amount as a whole-token string,
// trimming trailing zeros from any fractional part. 5e20 at 18 decimals
// renders as "500".
func formatUnits(amount *big.Int, decimals int) string {
	if decimals <= 0 {
		return amount.String()
	}
	div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	quo, rem := new(big.Int).QuoRem(amount, div, new(big.Int))
	if rem.Sign() == 0 {
		return quo.String()
	}
	frac := strings.TrimRight(leftPad(rem.String(), decimals), "0")
	return quo.String() + "." + frac
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

package rules

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfiguration marks a malformed catalog: unknown requirement
// type, bad amount, dangling token/collection reference, or a tree nested
// past the depth bound. Fatal at load time; never downgraded to an access
// denial.
var ErrInvalidConfiguration = errors.New("invalid rule configuration")

// TokenInfo is one entry of the catalog's token registry.
type TokenInfo struct {
	Contract common.Address
	Symbol   string
	Decimals int
}

// CollectionInfo is one entry of the catalog's NFT collection registry.
type CollectionInfo struct {
	Contract common.Address
	Name     string
}

// Catalog is the static rule set loaded at startup: token and collection
// registries, optional staking/verification contracts, the global tier
// ladder, and every community's rule. Not mutated at runtime.
type Catalog struct {
	Tokens       map[string]TokenInfo
	Collections  map[string]CollectionInfo
	StakingAddr  common.Address
	HasStaking   bool
	Verification common.Address
	HasVerify    bool

	GlobalLadder []TierDefinition
	Communities  []CommunityRule

	byID map[string]*CommunityRule
}

// Community looks up a community rule by ID.
func (c *Catalog) Community(id string) (*CommunityRule, bool) {
	rule, ok := c.byID[id]
	return rule, ok
}

// ----- YAML document shapes -----

type catalogDoc struct {
	Tokens map[string]struct {
		Contract string `yaml:"contract"`
		Symbol   string `yaml:"symbol"`
		Decimals int    `yaml:"decimals"`
	} `yaml:"tokens"`
	Collections map[string]struct {
		Contract string `yaml:"contract"`
		Name     string `yaml:"name"`
	} `yaml:"collections"`
	Staking struct {
		Contract string `yaml:"contract"`
		Token    string `yaml:"token"`
	} `yaml:"staking"`
	Verification struct {
		Contract string `yaml:"contract"`
	} `yaml:"verification"`
	GlobalLadder []tierDoc `yaml:"global_ladder"`
	Communities  []struct {
		ID           string    `yaml:"id"`
		Name         string    `yaml:"name"`
		Requirements []reqDoc  `yaml:"requirements"`
		Tiers        []tierDoc `yaml:"tiers"`
	} `yaml:"communities"`
}

type tierDoc struct {
	Level       int      `yaml:"level"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
	Requirement *reqDoc  `yaml:"requirement"`
}

type reqDoc struct {
	Type       string   `yaml:"type"`
	Token      string   `yaml:"token"`
	Collection string   `yaml:"collection"`
	MinAmount  string   `yaml:"min_amount"`
	MinCount   int      `yaml:"min_count"`
	MinScore   int      `yaml:"min_score"`
	Of         []reqDoc `yaml:"of"`
}

// LoadCatalog reads and compiles a YAML catalog file. Every requirement
// tree is validated against maxDepth; any structural problem aborts the
// load with ErrInvalidConfiguration.
func LoadCatalog(path string, maxDepth int) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return ParseCatalog(data, maxDepth)
}

// ParseCatalog compiles a YAML catalog document.
func ParseCatalog(data []byte, maxDepth int) (*Catalog, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog: %v: %w", err, ErrInvalidConfiguration)
	}

	cat := &Catalog{
		Tokens:      make(map[string]TokenInfo, len(doc.Tokens)),
		Collections: make(map[string]CollectionInfo, len(doc.Collections)),
		byID:        make(map[string]*CommunityRule),
	}

	for id, t := range doc.Tokens {
		if !common.IsHexAddress(t.Contract) {
			return nil, fmt.Errorf("token %s: bad contract address %q: %w", id, t.Contract, ErrInvalidConfiguration)
		}
		symbol := t.Symbol
		if symbol == "" {
			symbol = id
		}
		cat.Tokens[id] = TokenInfo{
			Contract: common.HexToAddress(t.Contract),
			Symbol:   symbol,
			Decimals: t.Decimals,
		}
	}

	for id, col := range doc.Collections {
		if !common.IsHexAddress(col.Contract) {
			return nil, fmt.Errorf("collection %s: bad contract address %q: %w", id, col.Contract, ErrInvalidConfiguration)
		}
		name := col.Name
		if name == "" {
			name = id
		}
		cat.Collections[id] = CollectionInfo{
			Contract: common.HexToAddress(col.Contract),
			Name:     name,
		}
	}

	stakeToken := TokenInfo{Symbol: "staked", Decimals: 0}
	if doc.Staking.Contract != "" {
		if !common.IsHexAddress(doc.Staking.Contract) {
			return nil, fmt.Errorf("staking: bad contract address %q: %w", doc.Staking.Contract, ErrInvalidConfiguration)
		}
		cat.StakingAddr = common.HexToAddress(doc.Staking.Contract)
		cat.HasStaking = true
		if doc.Staking.Token != "" {
			tok, ok := cat.Tokens[doc.Staking.Token]
			if !ok {
				return nil, fmt.Errorf("staking: unknown token %q: %w", doc.Staking.Token, ErrInvalidConfiguration)
			}
			stakeToken = tok
		}
	}

	if doc.Verification.Contract != "" {
		if !common.IsHexAddress(doc.Verification.Contract) {
			return nil, fmt.Errorf("verification: bad contract address %q: %w", doc.Verification.Contract, ErrInvalidConfiguration)
		}
		cat.Verification = common.HexToAddress(doc.Verification.Contract)
		cat.HasVerify = true
	}

	comp := &compiler{catalog: cat, stakeToken: stakeToken, maxDepth: maxDepth}

	ladder, err := comp.compileTiers("global ladder", doc.GlobalLadder)
	if err != nil {
		return nil, err
	}
	cat.GlobalLadder = ladder

	for _, c := range doc.Communities {
		if c.ID == "" {
			return nil, fmt.Errorf("community with empty id: %w", ErrInvalidConfiguration)
		}
		if _, dup := cat.byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate community id %q: %w", c.ID, ErrInvalidConfiguration)
		}

		var reqs []Requirement
		for i, rd := range c.Requirements {
			req, err := comp.compile(fmt.Sprintf("community %s requirement %d", c.ID, i), rd, 0)
			if err != nil {
				return nil, err
			}
			reqs = append(reqs, req)
		}

		tiers, err := comp.compileTiers(fmt.Sprintf("community %s", c.ID), c.Tiers)
		if err != nil {
			return nil, err
		}

		cat.Communities = append(cat.Communities, CommunityRule{
			CommunityID:          c.ID,
			Name:                 c.Name,
			TopLevelRequirements: reqs,
			Tiers:                tiers,
		})
	}

	for i := range cat.Communities {
		cat.byID[cat.Communities[i].CommunityID] = &cat.Communities[i]
	}

	return cat, nil
}

type compiler struct {
	catalog    *Catalog
	stakeToken TokenInfo
	maxDepth   int
}

func (c *compiler) compileTiers(where string, docs []tierDoc) ([]TierDefinition, error) {
	var tiers []TierDefinition
	seen := make(map[int]bool)
	for _, td := range docs {
		if seen[td.Level] {
			return nil, fmt.Errorf("%s: duplicate tier level %d: %w", where, td.Level, ErrInvalidConfiguration)
		}
		seen[td.Level] = true

		tier := TierDefinition{Level: td.Level, Name: td.Name}
		for _, p := range td.Permissions {
			tier.Permissions = append(tier.Permissions, Permission(p))
		}
		if td.Requirement != nil {
			req, err := c.compile(fmt.Sprintf("%s tier %d", where, td.Level), *td.Requirement, 0)
			if err != nil {
				return nil, err
			}
			tier.Requirement = req
		}
		tiers = append(tiers, tier)
	}
	// Ladders are stored ascending by level; resolvers walk them from the
	// top down.
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Level < tiers[j].Level })
	return tiers, nil
}

func (c *compiler) compile(where string, doc reqDoc, depth int) (Requirement, error) {
	switch doc.Type {
	case "token_balance":
		tok, ok := c.catalog.Tokens[doc.Token]
		if !ok {
			return nil, fmt.Errorf("%s: unknown token %q: %w", where, doc.Token, ErrInvalidConfiguration)
		}
		amount, err := parseAmount(doc.MinAmount)
		if err != nil {
			return nil, fmt.Errorf("%s: %v: %w", where, err, ErrInvalidConfiguration)
		}
		return TokenBalance{TokenID: doc.Token, Symbol: tok.Symbol, Decimals: tok.Decimals, MinAmount: amount}, nil

	case "nft_ownership":
		col, ok := c.catalog.Collections[doc.Collection]
		if !ok {
			return nil, fmt.Errorf("%s: unknown collection %q: %w", where, doc.Collection, ErrInvalidConfiguration)
		}
		count := doc.MinCount
		if count <= 0 {
			count = 1
		}
		return NftOwnership{CollectionID: doc.Collection, Name: col.Name, MinCount: count}, nil

	case "staking_amount":
		amount, err := parseAmount(doc.MinAmount)
		if err != nil {
			return nil, fmt.Errorf("%s: %v: %w", where, err, ErrInvalidConfiguration)
		}
		return StakingAmount{Symbol: c.stakeToken.Symbol, Decimals: c.stakeToken.Decimals, MinAmount: amount}, nil

	case "verification_badge":
		return VerificationBadge{}, nil

	case "social_score":
		if doc.MinScore <= 0 {
			return nil, fmt.Errorf("%s: social_score needs min_score > 0: %w", where, ErrInvalidConfiguration)
		}
		return SocialScore{MinScore: doc.MinScore}, nil

	case "all_of", "any_of":
		if depth >= c.maxDepth {
			return nil, fmt.Errorf("%s: nesting exceeds max depth %d: %w", where, c.maxDepth, ErrInvalidConfiguration)
		}
		if len(doc.Of) == 0 {
			return nil, fmt.Errorf("%s: %s needs at least one child: %w", where, doc.Type, ErrInvalidConfiguration)
		}
		op := OpAnd
		if doc.Type == "any_of" {
			op = OpOr
		}
		var children []Requirement
		for i, child := range doc.Of {
			req, err := c.compile(fmt.Sprintf("%s/%s[%d]", where, doc.Type, i), child, depth+1)
			if err != nil {
				return nil, err
			}
			children = append(children, req)
		}
		return Combined{Op: op, Children: children}, nil

	default:
		return nil, fmt.Errorf("%s: unknown requirement type %q: %w", where, doc.Type, ErrInvalidConfiguration)
	}
}

// parseAmount parses a base-unit amount. Amounts are decimal strings so
// thresholds like 1e21 base units never pass through a float.
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing min_amount")
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bad min_amount %q", s)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative min_amount %q", s)
	}
	return amount, nil
}

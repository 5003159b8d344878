package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultSocialTimeout bounds a single social API request.
const DefaultSocialTimeout = 10 * time.Second

// SocialProfile holds the off-chain attributes of a wallet: the
// community-given score and whether the profile carries a verified badge.
type SocialProfile struct {
	Score    int  `json:"score"`
	Verified bool `json:"verified"`
}

// SocialClient queries the social profile API for a wallet's score and
// badge. An unknown wallet is not an error; it has score 0, no badge.
type SocialClient struct {
	baseURL string
	client  *http.Client
}

// NewSocialClient creates a client for the given API base URL.
// A non-positive timeout selects DefaultSocialTimeout.
func NewSocialClient(baseURL string, timeout time.Duration) *SocialClient {
	if timeout <= 0 {
		timeout = DefaultSocialTimeout
	}
	return &SocialClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Lookup fetches the social profile for a wallet.
// GET {base}/profiles/{address}
func (c *SocialClient) Lookup(ctx context.Context, address common.Address) (SocialProfile, error) {
	u := fmt.Sprintf("%s/profiles/%s", c.baseURL, url.PathEscape(address.Hex()))

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return SocialProfile{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return SocialProfile{}, fmt.Errorf("querying social API: %v: %w", err, ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// Wallet has no profile yet.
		return SocialProfile{}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return SocialProfile{}, fmt.Errorf("social API returned status %d: %w", resp.StatusCode, ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return SocialProfile{}, fmt.Errorf("social API returned status %d: %w", resp.StatusCode, ErrUpstreamUnavailable)
	}

	var profile SocialProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return SocialProfile{}, fmt.Errorf("decoding profile: %w", err)
	}

	return profile, nil
}

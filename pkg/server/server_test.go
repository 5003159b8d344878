package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cryb/gatekeeper/pkg/access"
	"github.com/cryb/gatekeeper/pkg/config"
	"github.com/cryb/gatekeeper/pkg/rules"
	"github.com/cryb/gatekeeper/pkg/snapshot"
)

// stubController serves canned engine results.
type stubController struct {
	tier        rules.TierDefinition
	result      rules.AccessResult
	communities []string
	err         error
	invalidated []common.Address
}

func (s *stubController) GlobalAccess(ctx context.Context, addr common.Address) (rules.TierDefinition, error) {
	return s.tier, s.err
}

func (s *stubController) CommunityAccess(ctx context.Context, addr common.Address, communityID string) (rules.AccessResult, error) {
	return s.result, s.err
}

func (s *stubController) AccessibleCommunities(ctx context.Context, addr common.Address) ([]string, error) {
	return s.communities, s.err
}

func (s *stubController) Invalidate(addr common.Address) {
	s.invalidated = append(s.invalidated, addr)
}

func testServer(stub *stubController) *Server {
	cfg := config.DefaultConfig()
	return New(cfg, stub)
}

const addrQuery = "?address=0x1234567890abcdef1234567890abcdef12345678"

func TestHealth(t *testing.T) {
	srv := testServer(&stubController{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestGlobalAccess(t *testing.T) {
	stub := &stubController{
		tier: rules.TierDefinition{Level: 2, Name: "Whale", Permissions: []rules.Permission{"view", "vote"}},
	}
	srv := testServer(stub)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/access/global"+addrQuery, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp GlobalAccessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Level != 2 || resp.Name != "Whale" || len(resp.Permissions) != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestGlobalAccessRequiresAddress(t *testing.T) {
	srv := testServer(&stubController{})

	tests := []string{
		"/access/global",
		"/access/global?address=zzz",
	}
	for _, path := range tests {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestCommunityAccessGranted(t *testing.T) {
	tier := rules.TierDefinition{Level: 1, Name: "Whale", Permissions: []rules.Permission{"view", "post", "moderate"}}
	stub := &stubController{
		result: rules.AccessResult{
			HasAccess:     true,
			Tier:          &tier,
			Permissions:   tier.Permissions,
			FailedReasons: []string{},
		},
	}
	srv := testServer(stub)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/access/community/cryb-og"+addrQuery, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp CommunityAccessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.HasAccess || resp.Tier == nil || resp.Tier.Name != "Whale" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestCommunityAccessDenied(t *testing.T) {
	stub := &stubController{
		result: rules.AccessResult{
			HasAccess:     false,
			Permissions:   []rules.Permission{},
			FailedReasons: []string{"hold 1000 CRYB tokens"},
		},
	}
	srv := testServer(stub)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/access/community/cryb-og"+addrQuery, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp CommunityAccessResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.HasAccess || resp.Tier != nil {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(resp.FailedReasons) != 1 || resp.FailedReasons[0] != "hold 1000 CRYB tokens" {
		t.Errorf("unexpected reasons %v", resp.FailedReasons)
	}
}

func TestCommunityAccessErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("community %q: %w", "x", access.ErrUnknownCommunity), http.StatusNotFound},
		{fmt.Errorf("token CRYB: %w", snapshot.ErrUpstreamUnavailable), http.StatusBadGateway},
		{fmt.Errorf("social: %w", snapshot.ErrRateLimited), http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		srv := testServer(&stubController{err: tt.err})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/access/community/cryb-og"+addrQuery, nil))
		if rec.Code != tt.want {
			t.Errorf("error %v: expected %d, got %d", tt.err, tt.want, rec.Code)
		}
	}
}

func TestAccessibleCommunities(t *testing.T) {
	stub := &stubController{communities: []string{"cryb-og", "nft-club"}}
	srv := testServer(stub)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/access/communities"+addrQuery, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string][]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp["communities"]) != 2 {
		t.Errorf("unexpected response %v", resp)
	}
}

func TestInvalidate(t *testing.T) {
	stub := &stubController{}
	srv := testServer(stub)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/access/invalidate"+addrQuery, nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if len(stub.invalidated) != 1 {
		t.Fatalf("expected 1 invalidation, got %d", len(stub.invalidated))
	}
	want := common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")
	if stub.invalidated[0] != want {
		t.Errorf("invalidated %s, want %s", stub.invalidated[0].Hex(), want.Hex())
	}
}

func TestCORSMiddleware(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CORSOrigin = "https://app.example.org"
	srv := New(cfg, &stubController{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/access/global", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "https://app.example.org" {
		t.Errorf("unexpected origin header %q", origin)
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]string{"hello": "world"})

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["hello"] != "world" {
		t.Errorf("expected {hello: world}, got %v", body)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusBadRequest, "test error")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["error"] != "test error" {
		t.Errorf("expected 'test error', got %v", body)
	}
}

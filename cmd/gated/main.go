package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cryb/gatekeeper/pkg/access"
	"github.com/cryb/gatekeeper/pkg/config"
	"github.com/cryb/gatekeeper/pkg/rules"
	"github.com/cryb/gatekeeper/pkg/server"
	"github.com/cryb/gatekeeper/pkg/snapshot"
	"github.com/cryb/gatekeeper/pkg/watcher"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	ethRPC := flag.String("eth-rpc", "", "Ethereum RPC endpoint (overrides config)")
	ethWS := flag.String("eth-ws", "", "Ethereum WebSocket endpoint for transfer watching (optional)")
	catalogPath := flag.String("catalog", "", "Rule catalog YAML file (overrides config)")
	socialAPI := flag.String("social-api", "", "Social profile API base URL (overrides config)")
	cacheTTL := flag.Int("cache-ttl", 0, "Cache TTL in seconds (overrides config)")
	maxDepth := flag.Int("max-depth", 0, "Max combined requirement nesting depth (overrides config)")
	corsOrigin := flag.String("cors-origin", "", "Allowed CORS origin (overrides config)")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *ethRPC != "" {
		cfg.EthereumRPC = *ethRPC
	}
	if *catalogPath != "" {
		cfg.CatalogPath = *catalogPath
	}
	if *socialAPI != "" {
		cfg.SocialAPIBase = *socialAPI
	}
	if *cacheTTL > 0 {
		cfg.CacheTTLSeconds = *cacheTTL
	}
	if *maxDepth > 0 {
		cfg.MaxRequirementDepth = *maxDepth
	}
	if *corsOrigin != "" {
		cfg.CORSOrigin = *corsOrigin
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// A malformed catalog is fatal at startup, never a silent denial.
	catalog, err := rules.LoadCatalog(cfg.CatalogPath, cfg.MaxRequirementDepth)
	if err != nil {
		log.Fatalf("Failed to load rule catalog: %v", err)
	}
	log.Printf("Loaded catalog: %d tokens, %d collections, %d communities, %d global tiers",
		len(catalog.Tokens), len(catalog.Collections), len(catalog.Communities), len(catalog.GlobalLadder))

	tokens := make(map[string]snapshot.TokenConfig, len(catalog.Tokens))
	for id, t := range catalog.Tokens {
		tokens[id] = snapshot.TokenConfig{Contract: t.Contract}
	}
	collections := make(map[string]snapshot.CollectionConfig, len(catalog.Collections))
	for id, col := range catalog.Collections {
		collections[id] = snapshot.CollectionConfig{Contract: col.Contract}
	}

	provider, err := snapshot.NewChainProvider(cfg.EthereumRPC, tokens, collections)
	if err != nil {
		log.Fatalf("Failed to create chain provider: %v", err)
	}
	defer provider.Close()

	if catalog.HasStaking {
		provider.SetStakingContract(catalog.StakingAddr)
	}
	if catalog.HasVerify {
		provider.SetVerificationContract(catalog.Verification)
	}
	if cfg.SocialAPIBase != "" {
		provider.SetSocialClient(snapshot.NewSocialClient(cfg.SocialAPIBase, 0))
		log.Printf("Social profile lookups enabled via %s", cfg.SocialAPIBase)
	}

	evaluator := rules.NewEvaluator(cfg.MaxRequirementDepth)
	resolver := access.NewResolver(evaluator)
	controller := access.NewController(provider, resolver, catalog,
		time.Duration(cfg.CacheTTLSeconds)*time.Second)

	if *ethWS != "" {
		tokenAddrs := make(map[string]common.Address, len(catalog.Tokens))
		for id, t := range catalog.Tokens {
			tokenAddrs[id] = t.Contract
		}
		colAddrs := make(map[string]common.Address, len(catalog.Collections))
		for id, col := range catalog.Collections {
			colAddrs[id] = col.Contract
		}
		w, err := watcher.New(*ethWS, watcher.CatalogContracts(tokenAddrs, colAddrs), controller)
		if err != nil {
			log.Fatalf("Failed to create transfer watcher: %v", err)
		}
		defer w.Stop()
		go w.Start(context.Background())
		log.Printf("Transfer watching enabled via %s", *ethWS)
	}

	srv := server.New(cfg, controller)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Access engine listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

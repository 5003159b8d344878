// Package watcher monitors token and NFT Transfer events so wallet access
// is re-evaluated as soon as holdings change, instead of waiting out the
// cache TTL. Subscribes over WebSocket to every contract the rule catalog
// references and invalidates both parties of each transfer.
package watcher

import (
	"context"
	"log"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Transfer(address indexed from, address indexed to, uint256 value) —
// the same signature covers ERC-20 (value in data) and ERC-721 (tokenId
// as a third indexed topic).
var transferSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Invalidator clears cached access state for a wallet. Implemented by
// access.Controller.
type Invalidator interface {
	Invalidate(wallet common.Address)
}

// Watcher subscribes to Transfer logs on a set of contracts.
type Watcher struct {
	client      *ethclient.Client
	contracts   []common.Address
	invalidator Invalidator
	cancel      context.CancelFunc
}

// New creates a transfer watcher. wsURL must be a WebSocket Ethereum RPC
// endpoint (wss://); log subscriptions do not work over plain HTTP.
func New(wsURL string, contracts []common.Address, invalidator Invalidator) (*Watcher, error) {
	client, err := ethclient.Dial(wsURL)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		client:      client,
		contracts:   contracts,
		invalidator: invalidator,
	}, nil
}

// Start begins watching for transfer events. Blocks until the context is
// cancelled. Automatically reconnects on errors.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			err := w.subscribe(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[watcher] subscription error, reconnecting in 10s: %v", err)
				time.Sleep(10 * time.Second)
			}
		}
	}
}

// Stop cancels the watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.client.Close()
}

func (w *Watcher) subscribe(ctx context.Context) error {
	query := ethereum.FilterQuery{
		Addresses: w.contracts,
		Topics:    [][]common.Hash{{transferSig}},
	}

	logs := make(chan types.Log)
	sub, err := w.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	log.Printf("[watcher] watching %d contracts for transfers", len(w.contracts))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case vLog := <-logs:
			w.handleLog(vLog)
		}
	}
}

func (w *Watcher) handleLog(vLog types.Log) {
	// Transfer has from/to as topics 1 and 2 for both ERC-20 and ERC-721.
	if len(vLog.Topics) < 3 {
		return
	}

	from := common.BytesToAddress(vLog.Topics[1].Bytes())
	to := common.BytesToAddress(vLog.Topics[2].Bytes())
	zeroAddr := common.Address{}

	log.Printf("[watcher] transfer on %s: %s -> %s",
		truncAddr(vLog.Address), truncAddr(from), truncAddr(to))

	// The sender may have dropped below a threshold, the receiver may
	// have crossed one. Mints and burns involve the zero address.
	if from != zeroAddr {
		w.invalidator.Invalidate(from)
	}
	if to != zeroAddr {
		w.invalidator.Invalidate(to)
	}
}

func truncAddr(addr common.Address) string {
	hex := addr.Hex()
	if len(hex) > 10 {
		return hex[:6] + "..." + hex[len(hex)-4:]
	}
	return hex
}

// CatalogContracts collects every distinct contract address referenced by
// token and collection registries, for the watcher's filter query.
func CatalogContracts(tokens map[string]common.Address, collections map[string]common.Address) []common.Address {
	seen := make(map[common.Address]bool)
	var out []common.Address
	add := func(addr common.Address) {
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	for _, addr := range tokens {
		add(addr)
	}
	for _, addr := range collections {
		add(addr)
	}
	return out
}

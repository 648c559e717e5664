package onchain

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// nonceManager hands out wallet nonces under a single mutex so concurrent
// callers never race PendingNonceAt. The first call seeds from the chain;
// afterwards the counter advances locally. A released nonce (send failed)
// forces a resync on the next call, since the local view may have drifted.
type nonceManager struct {
	client  *ethclient.Client
	address common.Address

	mu      sync.Mutex
	counter uint64
	seeded  bool
}

func newNonceManager(client *ethclient.Client, address common.Address) *nonceManager {
	return &nonceManager{client: client, address: address}
}

func (nm *nonceManager) next(ctx context.Context) (uint64, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if !nm.seeded {
		n, err := nm.client.PendingNonceAt(ctx, nm.address)
		if err != nil {
			return 0, err
		}
		nm.counter = n
		nm.seeded = true
	}

	n := nm.counter
	nm.counter++
	return n, nil
}

func (nm *nonceManager) release(nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	// Only the most recently issued nonce can be handed back cleanly.
	// Anything else means an earlier send failed out of order, so resync.
	if nm.seeded && nm.counter == nonce+1 {
		nm.counter = nonce
		return
	}
	nm.seeded = false
}

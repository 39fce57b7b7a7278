package chainrpc

import (
	"context"
	"sync"
)

// ClientResolver resolves the Client to use for a given network. *Router
// satisfies this directly; a single-endpoint deployment can also pass a
// constant resolver that ignores its argument and always returns the same
// Client.
type ClientResolver interface {
	For(network string) (Client, error)
}

// staticResolver adapts a single Client into a ClientResolver that ignores
// the network argument, for callers that still want one endpoint for every
// network (e.g. local development against a single test chain).
type staticResolver struct{ client Client }

func (s staticResolver) For(string) (Client, error) { return s.client, nil }

// NonceManager hands out sequential nonces per (network, deployer) pair
// without a round trip to the node for every deployment in a batch. It
// seeds from the node's pending-nonce on first use, then increments
// in-process, which is what lets the Parallel Deployment Scheduler assign
// nonces within a cohort without racing the RPC.
type NonceManager struct {
	resolver ClientResolver

	mu     sync.Mutex
	nonces map[string]uint64
}

// NewNonceManager constructs a NonceManager that seeds every (network,
// deployer) pair from client, regardless of which network is requested.
// Kept for single-endpoint wiring; multi-network deployments should use
// NewNonceManagerWithResolver against a *Router instead.
func NewNonceManager(client Client) *NonceManager {
	return NewNonceManagerWithResolver(staticResolver{client: client})
}

// NewNonceManagerWithResolver constructs a NonceManager that seeds each
// network's nonce cache from that network's own Client, as resolved by
// resolver (typically a *Router keyed by network.Registry's RPCEndpoint).
func NewNonceManagerWithResolver(resolver ClientResolver) *NonceManager {
	return &NonceManager{resolver: resolver, nonces: make(map[string]uint64)}
}

// Next returns the next nonce to use for (network, deployer), seeding from
// the node if this is the first request for that pair in this process.
func (m *NonceManager) Next(ctx context.Context, network, deployer string) (uint64, error) {
	key := network + ":" + deployer

	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.nonces[key]; ok {
		m.nonces[key] = n + 1
		return n, nil
	}

	client, err := m.resolver.For(network)
	if err != nil {
		return 0, err
	}
	n, err := client.NonceAt(ctx, deployer)
	if err != nil {
		return 0, err
	}
	m.nonces[key] = n + 1
	return n, nil
}

// Reset drops the cached nonce for (network, deployer), forcing the next
// call to Next to reseed from the node. Used after a submission failure
// that may have desynchronized the local counter from chain state.
func (m *NonceManager) Reset(network, deployer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nonces, network+":"+deployer)
}

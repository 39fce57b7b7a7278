package chainrpc

import (
	"fmt"
	"net/http"
	"sync"
)

// EndpointLookup resolves a network id to its JSON-RPC URL. A
// *network.Registry satisfies this via its Get method's RPCEndpoint field;
// router.go only needs the endpoint, not the whole NetworkConfig, so the
// interface stays narrow and network never has to import chainrpc.
type EndpointLookup interface {
	RPCEndpoint(network string) (endpoint string, ok bool)
}

// Router multiplexes Client by network id, building one HTTPClient per
// distinct RPC endpoint and caching it for reuse, so a workflow targeting
// hyperion_testnet and one targeting mantle_mainnet in the same process
// submit through distinct clients rather than sharing one regardless of
// target network.
type Router struct {
	lookup          EndpointLookup
	httpClient      *http.Client
	defaultEndpoint string

	mu      sync.Mutex
	clients map[string]Client
}

// NewRouter constructs a Router. lookup resolves a network id to its RPC
// endpoint (typically network.Registry). defaultEndpoint is used for
// networks the lookup doesn't recognize or that register an empty
// endpoint, preserving single-endpoint behavior for deployments that
// never configure per-network endpoints. httpClient may be nil, in which
// case NewHTTPClient's own default is used for every constructed client.
func NewRouter(lookup EndpointLookup, defaultEndpoint string, httpClient *http.Client) *Router {
	return &Router{
		lookup:          lookup,
		httpClient:      httpClient,
		defaultEndpoint: defaultEndpoint,
		clients:         make(map[string]Client),
	}
}

// For returns the Client to use for network, building and caching an
// HTTPClient against that network's registered RPC endpoint on first use.
// Falls back to the router's default endpoint when the network is
// unregistered or its endpoint is empty; returns an error only when
// neither a per-network nor a default endpoint is available.
func (r *Router) For(network string) (Client, error) {
	endpoint := r.defaultEndpoint
	if r.lookup != nil {
		if ep, ok := r.lookup.RPCEndpoint(network); ok && ep != "" {
			endpoint = ep
		}
	}
	if endpoint == "" {
		return nil, fmt.Errorf("chainrpc: no RPC endpoint configured for network %q", network)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[endpoint]; ok {
		return c, nil
	}
	c := NewBreakingClient(NewHTTPClient(endpoint, r.httpClient))
	r.clients[endpoint] = c
	return c, nil
}

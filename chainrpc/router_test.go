package chainrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup map[string]string

func (f fakeLookup) RPCEndpoint(network string) (string, bool) {
	ep, ok := f[network]
	return ep, ok
}

func TestRouter_ResolvesPerNetworkEndpoint(t *testing.T) {
	lookup := fakeLookup{
		"hyperion_testnet": "https://hyperion.example/rpc",
		"mantle_testnet":    "https://mantle.example/rpc",
	}
	r := NewRouter(lookup, "", nil)

	hyperion, err := r.For("hyperion_testnet")
	require.NoError(t, err)
	mantle, err := r.For("mantle_testnet")
	require.NoError(t, err)

	assert.NotSame(t, hyperion, mantle)
	assert.Equal(t, "https://hyperion.example/rpc", hyperion.(*BreakingClient).Client.(*HTTPClient).URL)
	assert.Equal(t, "https://mantle.example/rpc", mantle.(*BreakingClient).Client.(*HTTPClient).URL)
}

func TestRouter_CachesClientPerEndpoint(t *testing.T) {
	lookup := fakeLookup{"hyperion_testnet": "https://hyperion.example/rpc"}
	r := NewRouter(lookup, "", nil)

	first, err := r.For("hyperion_testnet")
	require.NoError(t, err)
	second, err := r.For("hyperion_testnet")
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestRouter_FallsBackToDefaultEndpoint(t *testing.T) {
	r := NewRouter(fakeLookup{}, "https://default.example/rpc", nil)

	client, err := r.For("unregistered_net")
	require.NoError(t, err)
	assert.Equal(t, "https://default.example/rpc", client.(*BreakingClient).Client.(*HTTPClient).URL)
}

func TestRouter_ErrorsWithoutAnyEndpoint(t *testing.T) {
	r := NewRouter(fakeLookup{}, "", nil)

	_, err := r.For("unregistered_net")
	assert.Error(t, err)
}

package chainrpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	nonce uint64
}

func (f *fakeClient) NonceAt(_ context.Context, _ string) (uint64, error) { return f.nonce, nil }
func (f *fakeClient) SuggestFees(_ context.Context) (FeeFields, error)    { return FeeFields{}, nil }
func (f *fakeClient) EstimateGas(_ context.Context, _, _ string) (uint64, error) {
	return 21000, nil
}
func (f *fakeClient) SendRawTransaction(_ context.Context, _ string) (string, error) {
	return "0xhash", nil
}
func (f *fakeClient) WaitForReceipt(_ context.Context, _ string, _ time.Duration) (*Receipt, error) {
	return &Receipt{Status: 1}, nil
}

func TestNonceManager_SeedsThenIncrements(t *testing.T) {
	m := NewNonceManager(&fakeClient{nonce: 5})

	n1, err := m.Next(context.Background(), "hyperion_testnet", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n1)

	n2, err := m.Next(context.Background(), "hyperion_testnet", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n2)
}

func TestNonceManager_SeparatePairsIndependent(t *testing.T) {
	m := NewNonceManager(&fakeClient{nonce: 10})

	n1, _ := m.Next(context.Background(), "hyperion_testnet", "0xabc")
	n2, _ := m.Next(context.Background(), "mantle_testnet", "0xabc")
	assert.Equal(t, n1, n2)
}

func TestNonceManager_ResetReseeds(t *testing.T) {
	client := &fakeClient{nonce: 1}
	m := NewNonceManager(client)

	_, _ = m.Next(context.Background(), "hyperion_testnet", "0xabc")
	m.Reset("hyperion_testnet", "0xabc")

	client.nonce = 99
	n, err := m.Next(context.Background(), "hyperion_testnet", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, uint64(99), n)
}

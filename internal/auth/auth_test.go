package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/domain"
)

type countingProvider struct {
	keys  map[string]string
	calls int
	err   error
}

func (p *countingProvider) DeviceKeys(context.Context) (map[string]string, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.keys, nil
}

func TestAuthenticateResolvesDeviceID(t *testing.T) {
	provider := &countingProvider{keys: map[string]string{
		"emon01": "key-one",
		"emon02": "key-two",
	}}
	a := NewAuthenticator(provider, zap.NewNop())

	deviceID, err := a.Authenticate(context.Background(), "key-two")
	require.NoError(t, err)
	assert.Equal(t, "emon02", deviceID)
}

func TestAuthenticateRejectsUnknownAndEmptyKeys(t *testing.T) {
	provider := &countingProvider{keys: map[string]string{"emon01": "key-one"}}
	a := NewAuthenticator(provider, zap.NewNop())

	_, err := a.Authenticate(context.Background(), "wrong")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = a.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAuthenticateCachesKeyset(t *testing.T) {
	provider := &countingProvider{keys: map[string]string{"emon01": "key-one"}}
	a := NewAuthenticator(provider, zap.NewNop())

	for i := 0; i < 5; i++ {
		_, err := a.Authenticate(context.Background(), "key-one")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, provider.calls, "keyset loaded once")
}

func TestAuthenticatePropagatesProviderFailure(t *testing.T) {
	provider := &countingProvider{err: errors.New("secret manager unreachable")}
	a := NewAuthenticator(provider, zap.NewNop())

	_, err := a.Authenticate(context.Background(), "key-one")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrUnauthorized)
}

func TestStaticProvider(t *testing.T) {
	provider, err := NewStaticProvider(`{"emon01":"key-one","emon02":"key-two"}`)
	require.NoError(t, err)

	keys, err := provider.DeviceKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"emon01": "key-one", "emon02": "key-two"}, keys)

	_, err = NewStaticProvider(`not json`)
	assert.Error(t, err)
}

// Package auth resolves device API keys to device identifiers. Keys are
// provisioned out of band as a single JSON object mapping device_id to key,
// served either from Google Secret Manager or from the environment.
package auth

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/domain"
)

// KeyProvider loads the device keyset (device_id -> key).
type KeyProvider interface {
	DeviceKeys(ctx context.Context) (map[string]string, error)
}

// Authenticator implements domain.Authenticator over a KeyProvider. The
// keyset is loaded once and cached; rotating keys requires a restart, which
// matches how the deployment rolls new device keys today.
type Authenticator struct {
	provider KeyProvider
	log      *zap.Logger

	mu   sync.RWMutex
	keys map[string]string
}

func NewAuthenticator(provider KeyProvider, log *zap.Logger) *Authenticator {
	return &Authenticator{provider: provider, log: log}
}

// Authenticate returns the device ID owning the key, or ErrUnauthorized.
func (a *Authenticator) Authenticate(ctx context.Context, deviceKey string) (string, error) {
	if deviceKey == "" {
		return "", domain.ErrUnauthorized
	}

	keys, err := a.keyset(ctx)
	if err != nil {
		return "", fmt.Errorf("load device keys: %w", err)
	}

	for deviceID, key := range keys {
		if key == deviceKey {
			return deviceID, nil
		}
	}
	return "", domain.ErrUnauthorized
}

func (a *Authenticator) keyset(ctx context.Context) (map[string]string, error) {
	a.mu.RLock()
	keys := a.keys
	a.mu.RUnlock()
	if keys != nil {
		return keys, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.keys == nil {
		loaded, err := a.provider.DeviceKeys(ctx)
		if err != nil {
			return nil, err
		}
		a.keys = loaded
		a.log.Info("device keyset loaded", zap.Int("devices", len(loaded)))
	}
	return a.keys, nil
}

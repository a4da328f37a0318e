package auth

import (
	"context"
	"encoding/json"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// SecretManagerProvider reads the device keyset from a Google Secret
// Manager secret holding a JSON object of device_id -> key.
type SecretManagerProvider struct {
	projectID  string
	secretName string
}

func NewSecretManagerProvider(projectID, secretName string) *SecretManagerProvider {
	return &SecretManagerProvider{projectID: projectID, secretName: secretName}
}

func (p *SecretManagerProvider) DeviceKeys(ctx context.Context) (map[string]string, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}
	defer client.Close()

	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", p.projectID, p.secretName)
	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("access secret %s: %w", name, err)
	}

	return parseKeyset(resp.GetPayload().GetData())
}

// StaticProvider serves a keyset parsed from a JSON string, used for local
// development and tests.
type StaticProvider struct {
	keys map[string]string
}

func NewStaticProvider(keysJSON string) (*StaticProvider, error) {
	keys, err := parseKeyset([]byte(keysJSON))
	if err != nil {
		return nil, err
	}
	return &StaticProvider{keys: keys}, nil
}

func (p *StaticProvider) DeviceKeys(context.Context) (map[string]string, error) {
	return p.keys, nil
}

func parseKeyset(data []byte) (map[string]string, error) {
	var keys map[string]string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("parse device keyset: %w", err)
	}
	return keys, nil
}

package config

import (
	"fmt"

	"github.com/hashicorp/vault/api"
)

// vaultSecrets wraps a Vault API client scoped to reading this gate's
// KV v2 secret mount. It is the narrow slice of Vault's surface the
// gate actually needs — writing secrets, leases, and every other Vault
// capability stay out of scope.
type vaultSecrets struct {
	client *api.Client
}

func newVaultSecrets(address, token string) (*vaultSecrets, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: vault client init: %w", err)
	}
	client.SetToken(token)

	return &vaultSecrets{client: client}, nil
}

// readKV2 reads path from a KV v2 backend and unwraps the nested "data"
// envelope, returning the secret fields directly.
func (v *vaultSecrets) readKV2(path string) (map[string]any, error) {
	secret, err := v.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("config: vault read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("config: no data at vault path %s", path)
	}
	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config: unexpected KV v2 shape at %s", path)
	}
	return data, nil
}

func stringField(data map[string]any, key, fallback string) string {
	if v, ok := data[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

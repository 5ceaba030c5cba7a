package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"
)

// HashiVaultProvider is a provider for HashiCorp Vault. Keys are fields of the secret at the provider's path,
// "path#field" reads a field of another secret. Both kv v1 and kv v2 secrets are understood.
type HashiVaultProvider struct {
	client *api.Client
	path   string
}

// NewHashiVaultProvider creates a new HashiCorp Vault provider
func NewHashiVaultProvider(addr, path, token string) (*HashiVaultProvider, error) {
	client, err := api.NewClient(&api.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("error creating vault client: %w", err)
	}
	client.SetToken(token)
	return &HashiVaultProvider{client: client, path: path}, nil
}

// Get gets a secret from HashiCorp Vault
func (p *HashiVaultProvider) Get(key string) (string, error) {
	path, fieldName := p.path, key
	if before, after, ok := strings.Cut(key, "#"); ok {
		path, fieldName = before, after
	}

	secret, err := p.client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("error reading secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", errors.New("secret not found")
	}

	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]any); ok {
		data = nested // kv v2 keeps fields under "data", next to "metadata"
	}
	v, ok := data[fieldName]
	if !ok {
		return "", fmt.Errorf("no field %q in secret %s", fieldName, path)
	}
	value, ok := v.(string)
	if !ok {
		return "", errors.New("unexpected secret value format")
	}
	return value, nil
}

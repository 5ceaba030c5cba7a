package secrets

import (
	"fmt"
	"os"
	"strings"
)

// MemoryProvider is a secret provider that keeps secrets in memory.
type MemoryProvider struct {
	secrets map[string]string
}

// NewMemoryProvider creates a new MemoryProvider with the given secrets.
func NewMemoryProvider(secrets map[string]string) *MemoryProvider {
	return &MemoryProvider{secrets: secrets}
}

// NewEnvProvider makes a MemoryProvider of environment variables starting with prefix, the prefix is cut
// from the keys. DBX_SECRET_PROD_DB=pass with "DBX_SECRET_" prefix is the secret "PROD_DB".
func NewEnvProvider(prefix string) *MemoryProvider {
	res := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) || len(k) == len(prefix) {
			continue
		}
		res[strings.TrimPrefix(k, prefix)] = v
	}
	return &MemoryProvider{secrets: res}
}

// Get returns the secret for the given key.
func (m *MemoryProvider) Get(key string) (string, error) {
	if val, ok := m.secrets[key]; ok {
		return val, nil
	}
	return "", fmt.Errorf("secret %q not found", key)
}

package secrets

import (
	"encoding/base64"
	"fmt"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/vulndash/vulndash/internal/config"
)

// fetchVaultKey reads the base64-encoded master key from a Vault KV v2
// secret at cfg.VaultKeyPath, under the data field "key".
func fetchVaultKey(cfg config.SecretsConfig) ([]byte, error) {
	vc := vaultapi.DefaultConfig()
	vc.Address = cfg.VaultAddr
	client, err := vaultapi.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("vault: build client: %w", err)
	}
	client.SetToken(cfg.VaultToken)

	secret, err := client.Logical().Read(cfg.VaultKeyPath)
	if err != nil {
		return nil, fmt.Errorf("vault: read %s: %w", cfg.VaultKeyPath, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault: no secret at %s", cfg.VaultKeyPath)
	}

	// KV v2 nests the actual fields under "data"; fall back to the
	// top-level map for a KV v1 mount.
	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	raw, ok := data["key"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("vault: secret at %s missing string field %q", cfg.VaultKeyPath, "key")
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("vault: decode key field: %w", err)
	}
	return key, nil
}

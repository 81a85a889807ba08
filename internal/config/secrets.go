package config

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// ResolveSecrets fills in credentials that were not provided directly in the
// configuration. Resolution order: explicit config value, environment
// variable, then Vault (when enabled). Secret values are never logged.
func (c *Config) ResolveSecrets(ctx context.Context) error {
	if c.Exchange.APIKey == "" {
		c.Exchange.APIKey = os.Getenv("DRIFTBOT_EXCHANGE_API_KEY")
	}
	if c.Exchange.APISecret == "" {
		c.Exchange.APISecret = os.Getenv("DRIFTBOT_EXCHANGE_API_SECRET")
	}
	if c.Advisory.APIKey == "" {
		c.Advisory.APIKey = os.Getenv("DRIFTBOT_ADVISORY_API_KEY")
	}

	if !c.Vault.Enabled {
		return nil
	}

	secrets, err := fetchVaultSecrets(ctx, c.Vault)
	if err != nil {
		return fmt.Errorf("vault secret resolution failed: %w", err)
	}

	if c.Exchange.APIKey == "" {
		c.Exchange.APIKey = secrets["exchange_api_key"]
	}
	if c.Exchange.APISecret == "" {
		c.Exchange.APISecret = secrets["exchange_api_secret"]
	}
	if c.Advisory.APIKey == "" {
		c.Advisory.APIKey = secrets["advisory_api_key"]
	}

	log.Info().
		Str("path", c.Vault.SecretPath).
		Int("keys", len(secrets)).
		Msg("Secrets resolved from Vault")
	return nil
}

// fetchVaultSecrets reads the KV v2 secret at the configured path and
// returns its string fields.
func fetchVaultSecrets(ctx context.Context, cfg VaultConfig) (map[string]string, error) {
	vcfg := vault.DefaultConfig()
	vcfg.Address = cfg.Address

	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	token := cfg.Token
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("vault token is required (set vault.token or VAULT_TOKEN)")
	}
	client.SetToken(token)

	secret, err := client.Logical().ReadWithContext(ctx, cfg.SecretPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", cfg.SecretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret found at %s", cfg.SecretPath)
	}

	// KV v2 nests the payload under "data".
	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	out := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out, nil
}

// Package credentials converts between sealed credential blobs and typed
// secrets. Every secret that enters or leaves storage passes through a Codec,
// which checks that its variant matches the provider and that its fields
// validate.
package credentials

import (
	"errors"
	"fmt"

	"github.com/connector-hub/connector-hub/internal/db/models"
	"github.com/connector-hub/connector-hub/internal/integrations"
)

// ErrNoSecret is returned when an instance has no sealed secret stored.
var ErrNoSecret = errors.New("credential instance has no secret")

// Sealer is the encryption used for secrets at rest.
type Sealer interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(opaque string) ([]byte, error)
}

// KindResolver maps a provider type to the secret variant it stores.
type KindResolver interface {
	SecretKindFor(t integrations.ProviderType) (integrations.SecretKind, error)
}

// Codec seals and opens typed secrets.
type Codec struct {
	sealer Sealer
	kinds  KindResolver
}

func NewCodec(sealer Sealer, kinds KindResolver) *Codec {
	return &Codec{sealer: sealer, kinds: kinds}
}

// Seal validates secret against the provider's variant and encrypts it.
func (c *Codec) Seal(providerType string, secret integrations.Secret) (string, error) {
	kind, err := c.kinds.SecretKindFor(integrations.ProviderType(providerType))
	if err != nil {
		return "", err
	}
	data, err := integrations.EncodeSecret(kind, secret)
	if err != nil {
		return "", err
	}
	return c.sealer.Encrypt(data)
}

// Open decrypts and validates the instance's secret.
func (c *Codec) Open(inst *models.CredentialInstance) (integrations.Secret, error) {
	if !inst.HasSecret() {
		return nil, ErrNoSecret
	}
	plaintext, err := c.sealer.Decrypt(inst.EncryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("open secret for instance %s: %w", inst.ID, err)
	}
	return c.Decode(inst.ProviderType, plaintext)
}

// Decode validates a plaintext secret for the provider.
func (c *Codec) Decode(providerType string, plaintext []byte) (integrations.Secret, error) {
	kind, err := c.kinds.SecretKindFor(integrations.ProviderType(providerType))
	if err != nil {
		return nil, err
	}
	return integrations.DecodeSecret(kind, plaintext)
}

// OpenOAuth opens the instance's secret and requires the OAuth variant.
func (c *Codec) OpenOAuth(inst *models.CredentialInstance) (*integrations.OAuthSecret, error) {
	secret, err := c.Open(inst)
	if err != nil {
		return nil, err
	}
	oauth, ok := secret.(*integrations.OAuthSecret)
	if !ok {
		return nil, fmt.Errorf("%w: %s stores %s secrets", integrations.ErrSecretKindMismatch, inst.ProviderType, secret.Kind())
	}
	return oauth, nil
}

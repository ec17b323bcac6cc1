package integrations

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// SecretKind identifies which secret variant a provider stores.
type SecretKind string

const (
	SecretNone              SecretKind = ""
	SecretOAuth             SecretKind = "oauth"
	SecretAPIToken          SecretKind = "api_token"
	SecretClientCredentials SecretKind = "client_credentials"
)

// Secret is the decrypted contents of a credential instance. The concrete type
// is one of *OAuthSecret, *APITokenSecret or *ClientCredentialsSecret.
type Secret interface {
	Kind() SecretKind
}

// TokenEnvelope is the OAuth token set stored for OAuth-style providers.
type TokenEnvelope struct {
	AccessToken  string    `json:"access_token" validate:"required"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at" validate:"required"`
	Scope        string    `json:"scope,omitempty"`
}

// OAuthSecret is an OAuth token envelope plus whatever the provider needs to
// locate the account (self-hosted base URL, directory tenant, site).
type OAuthSecret struct {
	TokenEnvelope
	InstanceURL string `json:"instance_url,omitempty" validate:"omitempty,url"`
	TenantID    string `json:"tenant_id,omitempty"`
	SiteURL     string `json:"site_url,omitempty" validate:"omitempty,url"`
	AccountName string `json:"account_name,omitempty"`
}

func (*OAuthSecret) Kind() SecretKind { return SecretOAuth }

// APITokenSecret is a base URL plus basic-auth style username and API token.
type APITokenSecret struct {
	BaseURL  string `json:"base_url" validate:"required,url"`
	Username string `json:"username" validate:"required"`
	APIToken string `json:"api_token" validate:"required"`
}

func (*APITokenSecret) Kind() SecretKind { return SecretAPIToken }

// ClientCredentialsSecret is a tenant URL plus an OAuth client id and secret.
type ClientCredentialsSecret struct {
	TenantURL    string   `json:"tenant_url" validate:"required,url"`
	ClientID     string   `json:"client_id" validate:"required"`
	ClientSecret string   `json:"client_secret" validate:"required"`
	Scopes       []string `json:"scopes,omitempty"`
}

func (*ClientCredentialsSecret) Kind() SecretKind { return SecretClientCredentials }

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateSecret checks a secret's fields and that its variant matches kind.
func ValidateSecret(kind SecretKind, secret Secret) error {
	if secret == nil {
		return fmt.Errorf("%w: secret is empty", ErrInvalidSecret)
	}
	if secret.Kind() != kind {
		return fmt.Errorf("%w: got %s, want %s", ErrSecretKindMismatch, secret.Kind(), kind)
	}
	if err := validate.Struct(secret); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSecret, describeValidation(err))
	}
	return nil
}

// DecodeSecret parses and validates a plaintext secret of the given kind.
// Unknown fields are rejected.
func DecodeSecret(kind SecretKind, data []byte) (Secret, error) {
	var secret Secret
	switch kind {
	case SecretOAuth:
		secret = &OAuthSecret{}
	case SecretAPIToken:
		secret = &APITokenSecret{}
	case SecretClientCredentials:
		secret = &ClientCredentialsSecret{}
	default:
		return nil, fmt.Errorf("%w: unknown secret kind %q", ErrInvalidSecret, kind)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	if err := ValidateSecret(kind, secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// EncodeSecret validates a secret and serialises it for sealing.
func EncodeSecret(kind SecretKind, secret Secret) ([]byte, error) {
	if err := ValidateSecret(kind, secret); err != nil {
		return nil, err
	}
	data, err := json.Marshal(secret)
	if err != nil {
		return nil, fmt.Errorf("encode secret: %w", err)
	}
	return data, nil
}

// describeValidation renders validator errors without echoing field values.
func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msg := ""
	for i, fe := range verrs {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
	}
	return msg
}

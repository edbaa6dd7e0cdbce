// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package saml

import (
	"crypto/rsa"
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-uuid"
)

const (
	// DefaultAcceptedClockSkew is the maximum tolerated clock difference
	// between the SP and the IDP when comparing protocol timestamps.
	DefaultAcceptedClockSkew = 120 * time.Second

	// DefaultMaximumAuthenticationLifetime is the maximum accepted age of an
	// authentication performed on the IDP. AuthnInstant checks tolerate this
	// additional back-window on top of the accepted clock skew.
	DefaultMaximumAuthenticationLifetime = 3600 * time.Second
)

type ValidUntilFunc func() time.Time

type GenerateAuthRequestIDFunc func() (string, error)

type Config struct {
	// AssertionConsumerServiceURL defines the endpoint at the SP where the
	// IDP will redirect to with its authentication response. (required)
	AssertionConsumerServiceURL string

	// EntityID is a globally unique identifier of the service provider.
	// (required)
	EntityID string

	// MetadataURL is the endpoint where the IDP serves its metadata XML
	// document. (required)
	MetadataURL string

	// MetadataParameters can be used to provide metadata XML parameters
	// directly instead of fetching them from the MetadataURL.
	MetadataParameters *MetadataParameters

	// AcceptedClockSkew bounds the tolerated clock difference between SP and
	// IDP for every timestamp comparison during response validation.
	// Defaults to DefaultAcceptedClockSkew.
	AcceptedClockSkew time.Duration

	// MaximumAuthenticationLifetime bounds the accepted age of the
	// authentication act reported in an AuthnStatement. Defaults to
	// DefaultMaximumAuthenticationLifetime.
	MaximumAuthenticationLifetime time.Duration

	// WantAssertionsSigned requires each accepted assertion to carry its own
	// trusted signature unless the enclosing response was already signed and
	// trusted.
	WantAssertionsSigned bool

	// EncryptionKey is the SP's private key used to decrypt encrypted
	// assertions, identifiers and attributes. Optional; without it
	// encrypted elements are skipped.
	EncryptionKey *rsa.PrivateKey

	// ValidUntil is a function that defines until when the generated service
	// provider metadata document is valid.
	ValidUntil ValidUntilFunc

	// GenerateAuthRequestID generates an XSD:ID conform ID.
	GenerateAuthRequestID GenerateAuthRequestIDFunc
}

// MetadataParameters provide the IDP entity attributes the validator needs
// when no metadata document is fetched: the peer entity ID and its SSO
// endpoint(s) are resolved from the metadata document otherwise.
type MetadataParameters struct {
	Issuer            string
	SingleSignOnURL   string
	IDPCertificatePEM string
}

// NewConfig creates a new configuration for a service provider, applying the
// validation defaults.
func NewConfig(entityID, acs, metadata string) (*Config, error) {
	const op = "saml.NewConfig"

	cfg := &Config{
		EntityID:                    entityID,
		AssertionConsumerServiceURL: acs,
		MetadataURL:                 metadata,

		AcceptedClockSkew:             DefaultAcceptedClockSkew,
		MaximumAuthenticationLifetime: DefaultMaximumAuthenticationLifetime,

		ValidUntil:            DefaultValidUntil,
		GenerateAuthRequestID: GenerateAuthRequestID,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}

	return cfg, nil
}

// GenerateAuthRequestID generates an auth XSD:ID conform ID.
// A UUID prefixed with an underscore.
func GenerateAuthRequestID() (string, error) {
	newID, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}

	// Request IDs have to be xsd:ID, which means they need to start with an
	// underscore or letter, which is not always given for UUIDs.
	return fmt.Sprintf("_%s", newID), nil
}

// Validate validates the provided configuration.
func (c *Config) Validate() error {
	const op = "saml.Config.Validate"

	if c.AssertionConsumerServiceURL == "" {
		return fmt.Errorf("%s: ACS URL not set: %w", op, ErrInvalidParameter)
	}
	if _, err := url.Parse(c.AssertionConsumerServiceURL); err != nil {
		return fmt.Errorf("%s: ACS URL not a valid URL: %w", op, ErrInvalidParameter)
	}

	if c.EntityID == "" {
		return fmt.Errorf("%s: EntityID not set: %w", op, ErrInvalidParameter)
	}

	if c.MetadataURL == "" && c.MetadataParameters == nil {
		return fmt.Errorf("%s: neither Metadata URL nor metadata parameters set: %w", op, ErrInvalidParameter)
	}

	if c.AcceptedClockSkew < 0 {
		return fmt.Errorf("%s: accepted clock skew must not be negative: %w", op, ErrInvalidParameter)
	}

	if c.MaximumAuthenticationLifetime < 0 {
		return fmt.Errorf("%s: maximum authentication lifetime must not be negative: %w", op, ErrInvalidParameter)
	}

	if c.ValidUntil == nil {
		return fmt.Errorf("%s: ValidUntil func not provided: %w", op, ErrInvalidParameter)
	}

	if c.GenerateAuthRequestID == nil {
		return fmt.Errorf("%s: GenerateAuthRequestID func not provided: %w", op, ErrInvalidParameter)
	}

	return nil
}

// DefaultValidUntil returns a timestamp a year from now.
func DefaultValidUntil() time.Time {
	return time.Now().Add(time.Hour * 24 * 365)
}

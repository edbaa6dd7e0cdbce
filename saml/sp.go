// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package saml

import (
	_ "embed"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	dsigTypes "github.com/russellhaering/goxmldsig/types"

	"github.com/authrelay/authrelay/saml/models/core"
	"github.com/authrelay/authrelay/saml/models/metadata"
)

//go:embed authn_request.gohtml
var PostBindingTempl string

type metadataOptions struct {
	wantAssertionsSigned bool
	nameIDFormats        []core.NameIDFormat
	acsServiceBinding    core.ServiceBinding
	additionalACSs       []metadata.Endpoint
}

func metadataOptionsDefault() metadataOptions {
	return metadataOptions{
		nameIDFormats: []core.NameIDFormat{
			core.NameIDFormatEmail,
		},
		acsServiceBinding: core.ServiceBindingHTTPPost,
	}
}

// InsecureWantAssertionsUnsigned advertises in the generated metadata that
// this service provider accepts unsigned assertions, regardless of the
// configured signing policy.
//
// Insecure! This option must only be used in test environments.
func InsecureWantAssertionsUnsigned() Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.wantAssertionsSigned = false
		}
	}
}

func WithAdditionalNameIDFormat(format core.NameIDFormat) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.nameIDFormats = append(o.nameIDFormats, format)
		}
	}
}

func WithNameIDFormats(formats []core.NameIDFormat) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.nameIDFormats = formats
		}
	}
}

func WithACSServiceBinding(b core.ServiceBinding) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.acsServiceBinding = b
		}
	}
}

func WithAdditionalACSEndpoint(b core.ServiceBinding, location *url.URL) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.additionalACSs = append(o.additionalACSs, metadata.Endpoint{
				Binding:  b,
				Location: location.String(),
			})
		}
	}
}

type ServiceProvider struct {
	cfg *Config
}

// NewServiceProvider creates a new ServiceProvider.
func NewServiceProvider(cfg *Config) (*ServiceProvider, error) {
	const op = "saml.NewServiceProvider"

	if cfg == nil {
		return nil, fmt.Errorf("%s: no provider config provided: %w", op, ErrInvalidParameter)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: insufficient provider config: %w", op, err)
	}

	return &ServiceProvider{
		cfg: cfg,
	}, nil
}

// Config returns the service provider config.
func (sp *ServiceProvider) Config() *Config {
	return sp.cfg
}

// CreateMetadata creates the metadata XML for the service provider. The
// advertised WantAssertionsSigned mirrors the configured signing policy, so
// the metadata states what validation will actually enforce.
//
// Options:
// - InsecureWantAssertionsUnsigned
// - WithNameIDFormats
// - WithAdditionalNameIDFormat
// - WithACSServiceBinding
// - WithAdditionalACSEndpoint
func (sp *ServiceProvider) CreateMetadata(opt ...Option) *metadata.EntityDescriptorSPSSO {
	validUntil := sp.cfg.ValidUntil()

	opts := metadataOptionsDefault()
	opts.wantAssertionsSigned = sp.cfg.WantAssertionsSigned
	ApplyOpts(&opts, opt...)

	spsso := metadata.EntityDescriptorSPSSO{}
	spsso.EntityID = sp.cfg.EntityID
	spsso.ValidUntil = &validUntil

	spssoDescriptor := &metadata.SPSSODescriptor{}
	spssoDescriptor.ValidUntil = &validUntil
	spssoDescriptor.ProtocolSupportEnumeration = metadata.ProtocolSupportEnumerationProtocol
	spssoDescriptor.NameIDFormat = opts.nameIDFormats
	spssoDescriptor.AuthnRequestsSigned = false // always false for now until request signing is supported.
	spssoDescriptor.WantAssertionsSigned = opts.wantAssertionsSigned
	spssoDescriptor.AssertionConsumerService = []metadata.IndexedEndpoint{
		{
			Endpoint: metadata.Endpoint{
				Binding:  opts.acsServiceBinding,
				Location: sp.cfg.AssertionConsumerServiceURL,
			},
			Index: 1,
		},
	}

	for i, a := range opts.additionalACSs {
		spssoDescriptor.AssertionConsumerService = append(
			spssoDescriptor.AssertionConsumerService,
			metadata.IndexedEndpoint{
				Endpoint: a,
				Index:    i + 2, // The first index is already taken.
			},
		)
	}

	spsso.SPSSODescriptor = []*metadata.SPSSODescriptor{spssoDescriptor}

	return &spsso
}

// IDPMetadata returns the identity provider's metadata, either synthesized
// from directly configured metadata parameters or fetched from the
// configured metadata URL.
func (sp *ServiceProvider) IDPMetadata() (*metadata.EntityDescriptorIDPSSO, error) {
	const op = "saml.ServiceProvider.IDPMetadata"

	if sp.cfg.MetadataParameters != nil {
		ed, err := metadataFromParameters(sp.cfg.MetadataParameters)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return ed, nil
	}

	return sp.FetchMetadata()
}

// FetchMetadata fetches the metadata XML document from the IDP provider.
func (sp *ServiceProvider) FetchMetadata() (*metadata.EntityDescriptorIDPSSO, error) {
	const op = "saml.ServiceProvider.FetchMetadata"

	if sp.cfg.MetadataURL == "" {
		return nil, fmt.Errorf("%s: no metadata URL set: %w", op, ErrInvalidParameter)
	}

	res, err := http.Get(sp.cfg.MetadataURL)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to fetch metadata: %w", op, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: fetching metadata returned status %d: %w", op, res.StatusCode, ErrInternal)
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read http body: %w", op, err)
	}

	var ed metadata.EntityDescriptorIDPSSO
	err = xml.Unmarshal(raw, &ed)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse metadata XML: %w", op, err)
	}

	// [SDP-MD03] https://kantarainitiative.github.io/SAMLprofiles/saml2int.html#_metadata_and_trust_management
	// Metadata whose root element's validUntil attribute lies in the past
	// must be rejected.
	if ed.ValidUntil != nil && ed.ValidUntil.Before(time.Now()) {
		return nil, fmt.Errorf("%s: metadata expired at %s: %w", op, ed.ValidUntil.Format(time.RFC3339), ErrInvalidParameter)
	}

	return &ed, nil
}

func (sp *ServiceProvider) destination(binding core.ServiceBinding) (string, error) {
	const op = "saml.ServiceProvider.destination"

	meta, err := sp.IDPMetadata()
	if err != nil {
		return "", fmt.Errorf("%s: failed to get metadata: %w", op, err)
	}

	destination, ok := meta.GetLocationForBinding(binding)
	if !ok {
		return "", fmt.Errorf(
			"%s: no location for provided binding (%s) found: %w",
			op, binding, ErrBindingUnsupported,
		)
	}

	return destination, nil
}

// metadataFromParameters synthesizes an IDP metadata document from directly
// configured parameters. The configured SSO URL is advertised for both the
// POST and the Redirect binding.
func metadataFromParameters(p *MetadataParameters) (*metadata.EntityDescriptorIDPSSO, error) {
	if p.Issuer == "" {
		return nil, fmt.Errorf("metadata parameters carry no issuer: %w", ErrInvalidParameter)
	}
	if p.SingleSignOnURL == "" {
		return nil, fmt.Errorf("metadata parameters carry no single sign-on URL: %w", ErrInvalidParameter)
	}
	cert, err := parseCertPEM(p.IDPCertificatePEM)
	if err != nil {
		return nil, fmt.Errorf("metadata parameters carry no usable certificate: %s: %w", err, ErrInvalidParameter)
	}

	descriptor := &metadata.IDPSSODescriptor{}
	descriptor.ProtocolSupportEnumeration = metadata.ProtocolSupportEnumerationProtocol
	descriptor.KeyDescriptor = []metadata.KeyDescriptor{
		{
			Use: metadata.KeyTypeSigning,
			KeyInfo: metadata.KeyInfo{
				KeyInfo: dsigTypes.KeyInfo{
					X509Data: dsigTypes.X509Data{
						X509Certificates: []dsigTypes.X509Certificate{
							{Data: base64.StdEncoding.EncodeToString(cert.Raw)},
						},
					},
				},
			},
		},
	}
	descriptor.SingleSignOnService = []metadata.Endpoint{
		{
			Binding:  core.ServiceBindingHTTPPost,
			Location: p.SingleSignOnURL,
		},
		{
			Binding:  core.ServiceBindingHTTPRedirect,
			Location: p.SingleSignOnURL,
		},
	}

	ed := &metadata.EntityDescriptorIDPSSO{}
	ed.EntityID = p.Issuer
	ed.IDPSSODescriptor = []*metadata.IDPSSODescriptor{descriptor}

	return ed, nil
}

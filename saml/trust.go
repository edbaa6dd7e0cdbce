// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package saml

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"regexp"

	"github.com/beevik/etree"
	"github.com/jonboulle/clockwork"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/russellhaering/goxmldsig/etreeutils"

	"github.com/authrelay/authrelay/saml/models/metadata"
)

const (
	transformEnvelopedSignature = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// SignatureTrustEngine checks whether the enveloped signature of a signed
// element is structurally sound and trusted for a given peer entity.
// Implementations must be safe for concurrent use; the trust material is
// read-only once provisioned.
type SignatureTrustEngine interface {
	// ValidateSignature verifies the enveloped ds:Signature of signed
	// against the credentials configured for peerEntityID. The element must
	// still be attached to its document so inherited namespace declarations
	// can be resolved.
	//
	// On success it returns the validated subtree, the exact content the
	// signature covers. Callers must read trusted data from the returned
	// element, never from the input: the two can differ when the document
	// was tampered with after signing.
	ValidateSignature(signed *etree.Element, peerEntityID string) (*etree.Element, error)
}

type trustEngineOptions struct {
	clock clockwork.Clock
}

func trustEngineOptionsDefault() trustEngineOptions {
	return trustEngineOptions{}
}

func getTrustEngineOptions(opt ...Option) trustEngineOptions {
	opts := trustEngineOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

// X509TrustEngine is a SignatureTrustEngine backed by per-entity X.509
// signing certificates, typically sourced from the IDP's published metadata.
// Only signing-use credentials should be provisioned; the engine scopes each
// check to the certificates registered for the peer entity.
type X509TrustEngine struct {
	credentials map[string][]*x509.Certificate
	clock       *dsig.Clock
}

// NewX509TrustEngine creates a trust engine from a map of entity ID to that
// entity's trusted signing certificates.
//
// Options:
// - WithClock
func NewX509TrustEngine(credentials map[string][]*x509.Certificate, opt ...Option) (*X509TrustEngine, error) {
	const op = "saml.NewX509TrustEngine"

	if len(credentials) == 0 {
		return nil, fmt.Errorf("%s: no trusted credentials provided: %w", op, ErrInvalidParameter)
	}

	opts := getTrustEngineOptions(opt...)

	clock := dsig.NewRealClock()
	if opts.clock != nil {
		clock = dsig.NewFakeClock(opts.clock)
	}

	creds := make(map[string][]*x509.Certificate, len(credentials))
	for entityID, certs := range credentials {
		creds[entityID] = append([]*x509.Certificate(nil), certs...)
	}

	return &X509TrustEngine{
		credentials: creds,
		clock:       clock,
	}, nil
}

// ValidateSignature runs the structural signature profile check first and
// the cryptographic trust check second. Both must pass. The returned element
// is the subtree the signature actually covers.
func (e *X509TrustEngine) ValidateSignature(signed *etree.Element, peerEntityID string) (*etree.Element, error) {
	const op = "saml.X509TrustEngine.ValidateSignature"

	if signed == nil {
		return nil, fmt.Errorf("%s: no signed element provided: %w", op, ErrInvalidParameter)
	}

	certs := e.credentials[peerEntityID]
	if len(certs) == 0 {
		return nil, fmt.Errorf("%s: no trusted credentials for entity %q: %w", op, peerEntityID, ErrSignatureNotTrusted)
	}

	if err := validateSignatureProfile(signed); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Elements plucked out of a larger document may rely on namespace
	// declarations of their ancestors; detach them with those declarations
	// intact before canonicalization.
	detached, err := detachElement(signed)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to detach signed element: %w", op, err)
	}

	validationContext := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: certs,
	})
	validationContext.IdAttribute = dsig.DefaultIdAttr
	validationContext.Clock = e.clock

	validated, err := validationContext.Validate(detached)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err, ErrSignatureNotTrusted)
	}

	return validated, nil
}

// validateSignatureProfile rejects malformed enveloped signature structures
// before any cryptography runs: the signature must carry a SignedInfo with
// exactly one Reference, the reference must point at the enveloping element
// and an enveloped-signature transform must be declared.
func validateSignatureProfile(signed *etree.Element) error {
	sig := childElement(signed, "Signature")
	if sig == nil {
		return fmt.Errorf("element carries no enveloped signature: %w", ErrSignatureProfile)
	}

	signedInfo := childElement(sig, "SignedInfo")
	if signedInfo == nil {
		return fmt.Errorf("signature carries no SignedInfo: %w", ErrSignatureProfile)
	}

	var refs []*etree.Element
	for _, child := range signedInfo.ChildElements() {
		if child.Tag == "Reference" {
			refs = append(refs, child)
		}
	}
	if len(refs) != 1 {
		return fmt.Errorf("signature must carry exactly one Reference, got %d: %w", len(refs), ErrSignatureProfile)
	}

	uri := refs[0].SelectAttrValue("URI", "")
	if uri != "" && uri != "#"+signed.SelectAttrValue(dsig.DefaultIdAttr, "") {
		return fmt.Errorf("signature reference %q does not point at the signed element: %w", uri, ErrSignatureProfile)
	}

	enveloped := false
	for _, transform := range refs[0].FindElements("./Transforms/Transform") {
		if transform.SelectAttrValue("Algorithm", "") == transformEnvelopedSignature {
			enveloped = true
			break
		}
	}
	if !enveloped {
		return fmt.Errorf("signature declares no enveloped-signature transform: %w", ErrSignatureProfile)
	}

	return nil
}

// detachElement lifts el out of its document while preserving namespace
// declarations inherited from its ancestors.
func detachElement(el *etree.Element) (*etree.Element, error) {
	nsCtx, err := etreeutils.NSBuildParentContext(el)
	if err != nil {
		return nil, err
	}
	nsCtx, err = nsCtx.SubContext(el)
	if err != nil {
		return nil, err
	}
	return etreeutils.NSDetatch(nsCtx, el)
}

// childElement returns the first direct child with the given local name,
// regardless of namespace prefix.
func childElement(el *etree.Element, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			return child
		}
	}
	return nil
}

// SigningCertsFromMetadata extracts the IDP's trusted signing certificates
// from its metadata document. Key descriptors without a use attribute count
// as signing keys.
func SigningCertsFromMetadata(ed *metadata.EntityDescriptorIDPSSO) ([]*x509.Certificate, error) {
	const op = "saml.SigningCertsFromMetadata"

	if ed == nil {
		return nil, fmt.Errorf("%s: no metadata provided: %w", op, ErrInvalidParameter)
	}

	var certs []*x509.Certificate
	for _, descriptor := range ed.IDPSSODescriptor {
		for _, kd := range descriptor.KeyDescriptor {
			switch kd.Use {
			case "", metadata.KeyTypeSigning:
				for _, xcert := range kd.KeyInfo.X509Data.X509Certificates {
					parsed, err := parseCert(xcert.Data)
					if err != nil {
						return nil, fmt.Errorf("%s: %w", op, err)
					}
					certs = append(certs, parsed)
				}
			}
		}
	}

	if len(certs) == 0 {
		return nil, fmt.Errorf(
			"%s: no signing certificate in the IDP SSO descriptor: %w",
			op, ErrInvalidParameter,
		)
	}

	return certs, nil
}

// EncryptionCertFromMetadata extracts the IDP's encryption certificate from
// its metadata document, if it advertises one. Key descriptors without a use
// attribute count for encryption as well as signing.
func EncryptionCertFromMetadata(ed *metadata.EntityDescriptorIDPSSO) (*x509.Certificate, error) {
	const op = "saml.EncryptionCertFromMetadata"

	if ed == nil {
		return nil, fmt.Errorf("%s: no metadata provided: %w", op, ErrInvalidParameter)
	}

	for _, descriptor := range ed.IDPSSODescriptor {
		for _, kd := range descriptor.KeyDescriptor {
			switch kd.Use {
			case "", metadata.KeyTypeEncryption:
				for _, xcert := range kd.KeyInfo.X509Data.X509Certificates {
					parsed, err := parseCert(xcert.Data)
					if err != nil {
						return nil, fmt.Errorf("%s: %w", op, err)
					}
					return parsed, nil
				}
			}
		}
	}

	return nil, fmt.Errorf(
		"%s: no encryption certificate in the IDP SSO descriptor: %w",
		op, ErrInvalidParameter,
	)
}

// parseCert parses a base64 DER certificate as embedded in metadata key
// descriptors, tolerating whitespace.
func parseCert(cert string) (*x509.Certificate, error) {
	regex := regexp.MustCompile(`\s+`)
	cert = regex.ReplaceAllString(cert, "")
	certBytes, err := base64.StdEncoding.DecodeString(cert)
	if err != nil {
		return nil, fmt.Errorf("cannot parse certificate: %s: %w", err, ErrInvalidParameter)
	}

	parsedCert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, err
	}

	return parsedCert, nil
}

// parseCertPEM parses a PEM encoded certificate as provided through the
// MetadataParameters configuration.
func parseCertPEM(raw string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in certificate: %w", ErrInvalidParameter)
	}
	return x509.ParseCertificate(block.Bytes)
}

// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

// Package testprovider runs a fake identity provider for tests: it serves
// metadata carrying a freshly generated signing certificate and builds
// signed, and optionally encrypted, SSO responses against it.
package testprovider

import (
	"bytes"
	"compress/flate"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/crewjam/saml/xmlenc"
	"github.com/hashicorp/go-uuid"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/require"

	"github.com/authrelay/authrelay/saml/models/core"
	"github.com/authrelay/authrelay/saml/models/metadata"
)

const (
	// EntityID is the entity ID the fake IDP issues messages under.
	EntityID = "http://test.idp"

	nsProtocol  = "urn:oasis:names:tc:SAML:2.0:protocol"
	nsAssertion = "urn:oasis:names:tc:SAML:2.0:assertion"

	authnContextPassword = "urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport"
)

const metaTemplate = `
<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata" entityID="http://test.idp">
  <md:IDPSSODescriptor WantAuthnRequestsSigned="false" protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <md:KeyDescriptor use="signing">
      <ds:KeyInfo xmlns:ds="http://www.w3.org/2000/09/xmldsig#">
        <ds:X509Data>
          <ds:X509Certificate>%s</ds:X509Certificate>
        </ds:X509Data>
      </ds:KeyInfo>
    </md:KeyDescriptor>
    <md:NameIDFormat>urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress</md:NameIDFormat>
    <md:SingleSignOnService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST" Location="http://test.idp/saml/post"/>
    <md:SingleSignOnService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect" Location="http://test.idp/saml/redirect"/>
  </md:IDPSSODescriptor>
</md:EntityDescriptor>
`

type TestProvider struct {
	t      *testing.T
	server *httptest.Server

	metadata *metadata.EntityDescriptorIDPSSO

	idpStore dsig.X509KeyStore
	idpCert  *x509.Certificate

	spKey  *rsa.PrivateKey
	spCert *x509.Certificate
}

// StartTestProvider generates fresh IDP and SP key material, starts the
// fake IDP and returns a handle to it. The server is shut down with Close.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	r := require.New(t)

	idpStore := dsig.RandomKeyStoreForTest()
	_, idpCertDER, err := idpStore.GetKeyPair()
	r.NoError(err)
	idpCert, err := x509.ParseCertificate(idpCertDER)
	r.NoError(err)

	spStore := dsig.RandomKeyStoreForTest()
	spKey, spCertDER, err := spStore.GetKeyPair()
	r.NoError(err)
	spCert, err := x509.ParseCertificate(spCertDER)
	r.NoError(err)

	rawMeta := fmt.Sprintf(metaTemplate, base64.StdEncoding.EncodeToString(idpCertDER))

	var m metadata.EntityDescriptorIDPSSO
	err = xml.Unmarshal([]byte(rawMeta), &m)
	r.NoError(err)

	provider := &TestProvider{
		t:        t,
		metadata: &m,
		idpStore: idpStore,
		idpCert:  idpCert,
		spKey:    spKey,
		spCert:   spCert,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/saml/metadata", provider.MetadataHandler)
	mux.HandleFunc("/saml/login/post", provider.LoginHandlerPost)
	mux.HandleFunc("/saml/login/redirect", provider.LoginHandlerRedirect)

	server := httptest.NewUnstartedServer(mux)
	provider.server = server

	server.Start()

	overrideSSOLocations(server.URL, &m)

	return provider
}

func overrideSSOLocations(serverURL string, metadata *metadata.EntityDescriptorIDPSSO) {
	ssoDescriptor := metadata.IDPSSODescriptor[0]
	for i, sso := range ssoDescriptor.SingleSignOnService {
		if sso.Binding == core.ServiceBindingHTTPPost {
			sso.Location = fmt.Sprintf("%s/saml/login/post", serverURL)
			ssoDescriptor.SingleSignOnService[i] = sso
		}

		if sso.Binding == core.ServiceBindingHTTPRedirect {
			sso.Location = fmt.Sprintf("%s/saml/login/redirect", serverURL)
			ssoDescriptor.SingleSignOnService[i] = sso
		}
	}
}

func (p *TestProvider) Close() {
	p.server.Close()
}

func (p *TestProvider) ServerURL() string {
	return p.server.URL
}

// MetadataURL returns the URL the fake IDP serves its metadata under.
func (p *TestProvider) MetadataURL() string {
	return p.server.URL + "/saml/metadata"
}

// SigningCert returns the certificate the fake IDP signs with.
func (p *TestProvider) SigningCert() *x509.Certificate {
	return p.idpCert
}

// SigningCertPEM returns the IDP signing certificate in PEM form.
func (p *TestProvider) SigningCertPEM() string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: p.idpCert.Raw,
	}))
}

// SPKey returns the private key responses built with encryption are
// encrypted for.
func (p *TestProvider) SPKey() *rsa.PrivateKey {
	return p.spKey
}

func (p *TestProvider) MetadataHandler(w http.ResponseWriter, _ *http.Request) {
	p.t.Helper()
	r := require.New(p.t)

	err := xml.NewEncoder(w).Encode(p.metadata)
	r.NoError(err)
}

func (p *TestProvider) LoginHandlerPost(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "not implemented", http.StatusNotImplemented)
}

func (p *TestProvider) LoginHandlerRedirect(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "not implemented", http.StatusNotImplemented)
}

// ResponseOptions control the shape of a built response. The zero value
// yields a well-formed, unsigned response valid at time Now.
type ResponseOptions struct {
	// Now is the instant the response is issued at. Defaults to the wall
	// clock; tests pinning a fake clock must set it.
	Now time.Time

	// RequestID becomes the InResponseTo of the response and its Bearer
	// confirmation data.
	RequestID string

	// Audience restricts the assertion to the given SP entity ID.
	Audience string

	// AdditionalAudienceRestrictions appends further AudienceRestriction
	// elements, one per entry, each naming the given audiences.
	AdditionalAudienceRestrictions [][]string

	// Recipient is the ACS URL named in the Bearer confirmation data.
	Recipient string

	// Destination of the response element. Empty omits the attribute.
	Destination string

	// SubjectName is the NameID value. Defaults to a fixed address.
	SubjectName string

	// Attributes become one attribute statement.
	Attributes map[string][]string

	// StatusCode overrides the Success status.
	StatusCode string

	// IssueInstant overrides Now for the response and assertion issue
	// instants, to build stale messages against an otherwise fresh window.
	IssueInstant time.Time

	// AuthnInstant overrides Now for the authentication statement.
	AuthnInstant time.Time

	// SessionNotOnOrAfter bounds the authenticated session in the
	// authentication statement. Zero omits the attribute.
	SessionNotOnOrAfter time.Time

	SignResponse  bool
	SignAssertion bool

	// EncryptAssertion wraps the (optionally signed) assertion in an
	// EncryptedAssertion encrypted for the SP key.
	EncryptAssertion bool

	// PrependUndecryptableAssertion inserts, ahead of the real assertion,
	// an EncryptedAssertion encrypted for a key the SP does not hold.
	PrependUndecryptableAssertion bool

	// EncryptNameID moves the real subject identifier into an EncryptedID
	// encrypted for the SP key, leaving a decoy cleartext NameID beside it.
	EncryptNameID bool

	// ConfirmationEncryptedNameID omits any identifier on the subject and
	// instead carries an EncryptedID on the Bearer confirmation.
	ConfirmationEncryptedNameID bool

	// EncryptAttributes wraps every attribute in an EncryptedAttribute
	// encrypted for the SP key.
	EncryptAttributes bool

	// Deviations used to build invalid fixtures.
	OmitConditions         bool
	OmitAudience           bool
	OmitAuthnStatement     bool
	OmitSubject            bool
	OmitNameID             bool
	BearerNotBefore        bool
	OmitBearerNotOnOrAfter bool
	ExpiredBearer          bool
	WrongIssuer            string
}

// ResponseXML builds a response document according to the options.
func (p *TestProvider) ResponseXML(t *testing.T, opts ResponseOptions) []byte {
	t.Helper()
	r := require.New(t)

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	issueInstant := now
	if !opts.IssueInstant.IsZero() {
		issueInstant = opts.IssueInstant
	}
	authnInstant := now
	if !opts.AuthnInstant.IsZero() {
		authnInstant = opts.AuthnInstant
	}

	issuer := EntityID
	if opts.WrongIssuer != "" {
		issuer = opts.WrongIssuer
	}

	subjectName := opts.SubjectName
	if subjectName == "" {
		subjectName = "user@example.com"
	}

	statusCode := opts.StatusCode
	if statusCode == "" {
		statusCode = string(core.StatusCodeSuccess)
	}

	responseID, err := uuid.GenerateUUID()
	r.NoError(err)
	assertionID, err := uuid.GenerateUUID()
	r.NoError(err)

	resp := etree.NewElement("samlp:Response")
	resp.CreateAttr("xmlns:samlp", nsProtocol)
	resp.CreateAttr("xmlns:saml", nsAssertion)
	resp.CreateAttr("ID", "_"+responseID)
	resp.CreateAttr("Version", core.SAMLVersion2)
	resp.CreateAttr("IssueInstant", samlTime(issueInstant))
	if opts.Destination != "" {
		resp.CreateAttr("Destination", opts.Destination)
	}
	if opts.RequestID != "" {
		resp.CreateAttr("InResponseTo", opts.RequestID)
	}

	resp.CreateElement("saml:Issuer").SetText(issuer)

	status := resp.CreateElement("samlp:Status")
	status.CreateElement("samlp:StatusCode").CreateAttr("Value", statusCode)

	assertion := etree.NewElement("saml:Assertion")
	assertion.CreateAttr("xmlns:saml", nsAssertion)
	assertion.CreateAttr("ID", "_"+assertionID)
	assertion.CreateAttr("Version", core.SAMLVersion2)
	assertion.CreateAttr("IssueInstant", samlTime(issueInstant))

	assertion.CreateElement("saml:Issuer").SetText(issuer)

	if !opts.OmitSubject {
		subject := assertion.CreateElement("saml:Subject")
		switch {
		case opts.EncryptNameID:
			decoy := subject.CreateElement("saml:NameID")
			decoy.CreateAttr("Format", string(core.NameIDFormatEmail))
			decoy.SetText("decoy@example.com")

			encryptedID := subject.CreateElement("saml:EncryptedID")
			encryptedID.AddChild(p.encryptElement(t, nameIDElement(subjectName), p.spCert.Raw))
		case !opts.OmitNameID && !opts.ConfirmationEncryptedNameID:
			nameID := subject.CreateElement("saml:NameID")
			nameID.CreateAttr("Format", string(core.NameIDFormatEmail))
			nameID.SetText(subjectName)
		}

		confirmation := subject.CreateElement("saml:SubjectConfirmation")
		confirmation.CreateAttr("Method", string(core.ConfirmationMethodBearer))

		if opts.ConfirmationEncryptedNameID {
			encryptedID := confirmation.CreateElement("saml:EncryptedID")
			encryptedID.AddChild(p.encryptElement(t, nameIDElement(subjectName), p.spCert.Raw))
		}

		data := confirmation.CreateElement("saml:SubjectConfirmationData")
		if opts.Recipient != "" {
			data.CreateAttr("Recipient", opts.Recipient)
		}
		if opts.RequestID != "" {
			data.CreateAttr("InResponseTo", opts.RequestID)
		}
		if opts.BearerNotBefore {
			data.CreateAttr("NotBefore", samlTime(now.Add(-time.Minute)))
		}
		if !opts.OmitBearerNotOnOrAfter {
			notOnOrAfter := now.Add(5 * time.Minute)
			if opts.ExpiredBearer {
				notOnOrAfter = now.Add(-5 * time.Minute)
			}
			data.CreateAttr("NotOnOrAfter", samlTime(notOnOrAfter))
		}
	}

	if !opts.OmitConditions {
		conditions := assertion.CreateElement("saml:Conditions")
		conditions.CreateAttr("NotBefore", samlTime(now.Add(-time.Minute)))
		conditions.CreateAttr("NotOnOrAfter", samlTime(now.Add(5*time.Minute)))
		if !opts.OmitAudience && opts.Audience != "" {
			restriction := conditions.CreateElement("saml:AudienceRestriction")
			restriction.CreateElement("saml:Audience").SetText(opts.Audience)
		}
		for _, audiences := range opts.AdditionalAudienceRestrictions {
			restriction := conditions.CreateElement("saml:AudienceRestriction")
			for _, audience := range audiences {
				restriction.CreateElement("saml:Audience").SetText(audience)
			}
		}
	}

	if !opts.OmitAuthnStatement {
		stmt := assertion.CreateElement("saml:AuthnStatement")
		stmt.CreateAttr("AuthnInstant", samlTime(authnInstant))
		stmt.CreateAttr("SessionIndex", "_session-"+assertionID)
		if !opts.SessionNotOnOrAfter.IsZero() {
			stmt.CreateAttr("SessionNotOnOrAfter", samlTime(opts.SessionNotOnOrAfter))
		}
		ctx := stmt.CreateElement("saml:AuthnContext")
		ctx.CreateElement("saml:AuthnContextClassRef").SetText(authnContextPassword)
	}

	if len(opts.Attributes) > 0 {
		stmt := assertion.CreateElement("saml:AttributeStatement")
		for name, values := range opts.Attributes {
			attr := etree.NewElement("saml:Attribute")
			attr.CreateAttr("Name", name)
			for _, value := range values {
				attr.CreateElement("saml:AttributeValue").SetText(value)
			}

			if opts.EncryptAttributes {
				attr.CreateAttr("xmlns:saml", nsAssertion)
				encryptedAttr := stmt.CreateElement("saml:EncryptedAttribute")
				encryptedAttr.AddChild(p.encryptElement(t, attr, p.spCert.Raw))
				continue
			}
			stmt.AddChild(attr)
		}
	}

	if opts.PrependUndecryptableAssertion {
		otherStore := dsig.RandomKeyStoreForTest()
		_, otherCertDER, err := otherStore.GetKeyPair()
		r.NoError(err)

		stray := etree.NewElement("saml:Assertion")
		stray.CreateAttr("xmlns:saml", nsAssertion)
		stray.CreateAttr("ID", "_"+responseID+"-stray")
		stray.CreateAttr("Version", core.SAMLVersion2)
		stray.CreateAttr("IssueInstant", samlTime(issueInstant))
		stray.CreateElement("saml:Issuer").SetText(issuer)

		encryptedAssertion := resp.CreateElement("saml:EncryptedAssertion")
		encryptedAssertion.AddChild(p.encryptElement(t, stray, otherCertDER))
	}

	assertionEl := assertion
	if opts.SignAssertion {
		assertionEl = p.signElement(t, assertion)
	}

	if opts.EncryptAssertion {
		encryptedAssertion := resp.CreateElement("saml:EncryptedAssertion")
		encryptedAssertion.AddChild(p.encryptElement(t, assertionEl, p.spCert.Raw))
	} else {
		resp.AddChild(assertionEl)
	}

	respEl := resp
	if opts.SignResponse {
		respEl = p.signElement(t, resp)
	}

	doc := etree.NewDocument()
	doc.SetRoot(respEl)
	raw, err := doc.WriteToBytes()
	r.NoError(err)

	return raw
}

// ResponsePost builds a response and encodes it the way the HTTP-POST
// binding delivers it.
func (p *TestProvider) ResponsePost(t *testing.T, opts ResponseOptions) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString(p.ResponseXML(t, opts))
}

// ResponseRedirect builds a response and encodes it the way the
// HTTP-Redirect binding delivers it, raw deflate under base64.
func (p *TestProvider) ResponseRedirect(t *testing.T, opts ResponseOptions) string {
	t.Helper()
	r := require.New(t)

	raw := p.ResponseXML(t, opts)

	buf := bytes.Buffer{}
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	r.NoError(err)
	_, err = fw.Write(raw)
	r.NoError(err)
	r.NoError(fw.Close())

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func (p *TestProvider) signElement(t *testing.T, el *etree.Element) *etree.Element {
	t.Helper()
	r := require.New(t)

	signingCtx := dsig.NewDefaultSigningContext(p.idpStore)
	// Exclusive canonicalization keeps the signed bytes stable when the
	// element is later embedded under a parent with its own namespace
	// declarations.
	signingCtx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	signed, err := signingCtx.SignEnveloped(el)
	r.NoError(err)

	return signed
}

// encryptElement serializes the element and encrypts it for the holder of
// the given certificate, returning the resulting EncryptedData element.
func (p *TestProvider) encryptElement(t *testing.T, el *etree.Element, certDER []byte) *etree.Element {
	t.Helper()
	r := require.New(t)

	doc := etree.NewDocument()
	doc.SetRoot(el)
	plaintext, err := doc.WriteToBytes()
	r.NoError(err)

	cert, err := x509.ParseCertificate(certDER)
	r.NoError(err)

	encryptor := xmlenc.OAEP()
	encryptor.BlockCipher = xmlenc.AES128CBC
	encryptor.DigestMethod = &xmlenc.SHA1
	encryptedDataEl, err := encryptor.Encrypt(cert, plaintext, nil)
	r.NoError(err)
	encryptedDataEl.CreateAttr("Type", "http://www.w3.org/2001/04/xmlenc#Element")

	return encryptedDataEl
}

// nameIDElement builds a standalone NameID element that stays well-formed
// once decrypted outside the response document.
func nameIDElement(name string) *etree.Element {
	el := etree.NewElement("saml:NameID")
	el.CreateAttr("xmlns:saml", nsAssertion)
	el.CreateAttr("Format", string(core.NameIDFormatEmail))
	el.SetText(name)
	return el
}

func samlTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package saml_test

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"

	"github.com/authrelay/authrelay/saml"
	testprovider "github.com/authrelay/authrelay/saml/test"
)

func newTrustEngine(t *testing.T, tp *testprovider.TestProvider) *saml.X509TrustEngine {
	t.Helper()

	engine, err := saml.NewX509TrustEngine(map[string][]*x509.Certificate{
		testprovider.EntityID: {tp.SigningCert()},
	})
	require.NoError(t, err)

	return engine
}

func parseDocument(t *testing.T, raw []byte) *etree.Document {
	t.Helper()

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(raw))
	require.NotNil(t, doc.Root())

	return doc
}

func Test_NewX509TrustEngine(t *testing.T) {
	r := require.New(t)

	_, err := saml.NewX509TrustEngine(nil)
	r.ErrorIs(err, saml.ErrInvalidParameter)
	r.ErrorContains(err, "no trusted credentials provided")

	_, err = saml.NewX509TrustEngine(map[string][]*x509.Certificate{})
	r.ErrorIs(err, saml.ErrInvalidParameter)
}

func Test_X509TrustEngine_ValidateSignature(t *testing.T) {
	t.Parallel()

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	now := time.Now()
	engine := newTrustEngine(t, tp)

	signedResponse := func(t *testing.T) *etree.Document {
		opts := defaultResponseOptions(now)
		return parseDocument(t, tp.ResponseXML(t, opts))
	}

	t.Run("accepts a trusted signature", func(t *testing.T) {
		r := require.New(t)

		doc := signedResponse(t)
		validated, err := engine.ValidateSignature(doc.Root(), testprovider.EntityID)
		r.NoError(err)
		r.NotNil(validated)
		r.Equal(doc.Root().SelectAttrValue("ID", ""), validated.SelectAttrValue("ID", ""))
	})

	t.Run("no signed element", func(t *testing.T) {
		r := require.New(t)

		_, err := engine.ValidateSignature(nil, testprovider.EntityID)
		r.ErrorIs(err, saml.ErrInvalidParameter)
	})

	t.Run("unknown peer entity", func(t *testing.T) {
		r := require.New(t)

		doc := signedResponse(t)
		_, err := engine.ValidateSignature(doc.Root(), "http://unknown.idp")
		r.ErrorIs(err, saml.ErrSignatureNotTrusted)
		r.ErrorContains(err, "no trusted credentials for entity")
	})

	t.Run("unsigned element", func(t *testing.T) {
		r := require.New(t)

		opts := defaultResponseOptions(now)
		opts.SignResponse = false
		doc := parseDocument(t, tp.ResponseXML(t, opts))

		_, err := engine.ValidateSignature(doc.Root(), testprovider.EntityID)
		r.ErrorIs(err, saml.ErrSignatureProfile)
		r.ErrorContains(err, "element carries no enveloped signature")
	})

	t.Run("tampered document", func(t *testing.T) {
		r := require.New(t)

		doc := signedResponse(t)
		nameID := doc.Root().FindElement(".//NameID")
		r.NotNil(nameID)
		nameID.SetText("admin@example.com")

		_, err := engine.ValidateSignature(doc.Root(), testprovider.EntityID)
		r.ErrorIs(err, saml.ErrSignatureNotTrusted)
	})

	t.Run("signature from an untrusted key", func(t *testing.T) {
		r := require.New(t)

		// A second provider signs with different key material.
		other := testprovider.StartTestProvider(t)
		defer other.Close()

		doc := parseDocument(t, other.ResponseXML(t, defaultResponseOptions(now)))

		_, err := engine.ValidateSignature(doc.Root(), testprovider.EntityID)
		r.ErrorIs(err, saml.ErrSignatureNotTrusted)
	})

	t.Run("reference pointing at a foreign element", func(t *testing.T) {
		r := require.New(t)

		doc := signedResponse(t)
		ref := doc.Root().FindElement("./Signature/SignedInfo/Reference")
		r.NotNil(ref)
		ref.CreateAttr("URI", "#_somewhere-else")

		_, err := engine.ValidateSignature(doc.Root(), testprovider.EntityID)
		r.ErrorIs(err, saml.ErrSignatureProfile)
		r.ErrorContains(err, "does not point at the signed element")
	})
}

func Test_SigningCertsFromMetadata(t *testing.T) {
	t.Parallel()

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	t.Run("extracts the signing certificate", func(t *testing.T) {
		r := require.New(t)

		cfg, err := saml.NewConfig(testSPEntityID, testACS, tp.MetadataURL())
		r.NoError(err)

		provider, err := saml.NewServiceProvider(cfg)
		r.NoError(err)

		meta, err := provider.FetchMetadata()
		r.NoError(err)

		certs, err := saml.SigningCertsFromMetadata(meta)
		r.NoError(err)
		r.Len(certs, 1)
		r.True(certs[0].Equal(tp.SigningCert()))
	})

	t.Run("no metadata", func(t *testing.T) {
		r := require.New(t)

		_, err := saml.SigningCertsFromMetadata(nil)
		r.ErrorIs(err, saml.ErrInvalidParameter)
	})
}

func Test_EncryptionCertFromMetadata(t *testing.T) {
	t.Parallel()

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	t.Run("signing-only metadata carries no encryption certificate", func(t *testing.T) {
		r := require.New(t)

		cfg, err := saml.NewConfig(testSPEntityID, testACS, tp.MetadataURL())
		r.NoError(err)

		provider, err := saml.NewServiceProvider(cfg)
		r.NoError(err)

		meta, err := provider.FetchMetadata()
		r.NoError(err)

		_, err = saml.EncryptionCertFromMetadata(meta)
		r.ErrorIs(err, saml.ErrInvalidParameter)
		r.ErrorContains(err, "no encryption certificate")
	})

	t.Run("no metadata", func(t *testing.T) {
		r := require.New(t)

		_, err := saml.EncryptionCertFromMetadata(nil)
		r.ErrorIs(err, saml.ErrInvalidParameter)
	})
}

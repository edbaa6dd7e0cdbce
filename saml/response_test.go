// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package saml_test

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/require"

	"github.com/authrelay/authrelay/saml"
	testprovider "github.com/authrelay/authrelay/saml/test"
)

func testServiceProvider(t *testing.T, tp *testprovider.TestProvider) *saml.ServiceProvider {
	t.Helper()

	cfg, err := saml.NewConfig(testSPEntityID, testACS, tp.MetadataURL())
	require.NoError(t, err)

	sp, err := saml.NewServiceProvider(cfg)
	require.NoError(t, err)

	return sp
}

func TestServiceProvider_ParseResponse(t *testing.T) {
	t.Parallel()

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	now := time.Now()
	clock := clockwork.NewFakeClockAt(now)

	t.Run("accepts a signed response", func(t *testing.T) {
		r := require.New(t)

		sp := testServiceProvider(t, tp)
		encoded := tp.ResponsePost(t, defaultResponseOptions(now))

		creds, err := sp.ParseResponse(encoded, testRequestID, saml.WithClock(clock))
		r.NoError(err)
		r.Equal("user@example.com", creds.NameID.Value)
		r.Equal([]string{"user@example.com"}, creds.Attribute("mail"))
	})

	t.Run("echoes the relay state on the credentials", func(t *testing.T) {
		r := require.New(t)

		sp := testServiceProvider(t, tp)
		encoded := tp.ResponsePost(t, defaultResponseOptions(now))

		creds, err := sp.ParseResponse(
			encoded, testRequestID,
			saml.WithClock(clock),
			saml.WithRelayState("/came/from/here"),
		)
		r.NoError(err)
		r.Equal("/came/from/here", creds.RelayState)
	})

	t.Run("rejects a response answering another request", func(t *testing.T) {
		r := require.New(t)

		sp := testServiceProvider(t, tp)
		encoded := tp.ResponsePost(t, defaultResponseOptions(now))

		_, err := sp.ParseResponse(encoded, "_unrelated-request", saml.WithClock(clock))
		r.ErrorIs(err, saml.ErrValidation)
		r.ErrorContains(err, "does not match the request ID")
	})

	t.Run("accepts without a request ID when its check is skipped", func(t *testing.T) {
		r := require.New(t)

		sp := testServiceProvider(t, tp)
		encoded := tp.ResponsePost(t, defaultResponseOptions(now))

		creds, err := sp.ParseResponse(
			encoded, "",
			saml.WithClock(clock),
			saml.InsecureSkipRequestIDValidation(),
		)
		r.NoError(err)
		r.NotNil(creds.NameID)
	})

	t.Run("missing service provider", func(t *testing.T) {
		r := require.New(t)

		var sp *saml.ServiceProvider
		_, err := sp.ParseResponse("", "")
		r.ErrorIs(err, saml.ErrInternal)
		r.ErrorContains(err, "missing service provider")
	})
}

func TestServiceProvider_ParseResponseRedirect(t *testing.T) {
	t.Parallel()

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	now := time.Now()
	clock := clockwork.NewFakeClockAt(now)

	t.Run("accepts a deflated response", func(t *testing.T) {
		r := require.New(t)

		sp := testServiceProvider(t, tp)
		encoded := tp.ResponseRedirect(t, defaultResponseOptions(now))

		creds, err := sp.ParseResponseRedirect(encoded, testRequestID, saml.WithClock(clock))
		r.NoError(err)
		r.Equal("user@example.com", creds.NameID.Value)
	})

	t.Run("missing service provider", func(t *testing.T) {
		r := require.New(t)

		var sp *saml.ServiceProvider
		_, err := sp.ParseResponseRedirect("", "")
		r.ErrorIs(err, saml.ErrInternal)
	})
}

func TestServiceProvider_ParseResponse_MetadataParameters(t *testing.T) {
	// Trust material configured directly instead of fetched from a
	// metadata URL.
	t.Parallel()
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	now := time.Now()
	clock := clockwork.NewFakeClockAt(now)

	cfg, err := saml.NewConfig(testSPEntityID, testACS, tp.MetadataURL())
	r.NoError(err)
	cfg.MetadataURL = ""
	cfg.MetadataParameters = &saml.MetadataParameters{
		Issuer:            testprovider.EntityID,
		SingleSignOnURL:   tp.ServerURL() + "/saml/login/post",
		IDPCertificatePEM: tp.SigningCertPEM(),
	}
	r.NoError(cfg.Validate())

	sp, err := saml.NewServiceProvider(cfg)
	r.NoError(err)

	encoded := tp.ResponsePost(t, defaultResponseOptions(now))

	creds, err := sp.ParseResponse(encoded, testRequestID, saml.WithClock(clock))
	r.NoError(err)
	r.Equal("user@example.com", creds.NameID.Value)
}

func TestResponseFixture_Interop(t *testing.T) {
	// Cross-check the fixture builder against an independent SAML stack: a
	// response our validator accepts must also verify elsewhere.
	t.Parallel()
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	now := time.Now()
	encoded := tp.ResponsePost(t, defaultResponseOptions(now))

	other := &saml2.SAMLServiceProvider{
		IdentityProviderIssuer:      testprovider.EntityID,
		ServiceProviderIssuer:       testSPEntityID,
		AssertionConsumerServiceURL: testACS,
		AudienceURI:                 testSPEntityID,
		IDPCertificateStore: &dsig.MemoryX509CertificateStore{
			Roots: []*x509.Certificate{tp.SigningCert()},
		},
		Clock: dsig.NewFakeClockAt(now),
	}

	info, err := other.RetrieveAssertionInfo(encoded)
	r.NoError(err)
	r.Equal("user@example.com", info.NameID)
	r.False(info.WarningInfo.InvalidTime)
	r.False(info.WarningInfo.NotInAudience)

	mail := info.Values.Get("mail")
	r.Equal("user@example.com", mail)
}

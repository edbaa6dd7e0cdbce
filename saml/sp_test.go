// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package saml_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authrelay/authrelay/saml"
	"github.com/authrelay/authrelay/saml/models/core"
	"github.com/authrelay/authrelay/saml/models/metadata"
	testprovider "github.com/authrelay/authrelay/saml/test"
)

func Test_NewServiceProvider(t *testing.T) {
	r := require.New(t)

	cases := []struct {
		name string
		cfg  *saml.Config
		err  string
	}{
		{
			name: "When a valid config is provided",
			cfg: &saml.Config{
				AssertionConsumerServiceURL: testACS,
				EntityID:                    testSPEntityID,
				MetadataURL:                 "http://test.idp/metadata",
				ValidUntil:                  saml.DefaultValidUntil,
				GenerateAuthRequestID:       saml.GenerateAuthRequestID,
			},
			err: "",
		},
		{
			name: "When an invalid config is provided",
			cfg:  &saml.Config{},
			err:  "saml.NewServiceProvider: insufficient provider config:",
		},
		{
			name: "When no config is provided",
			cfg:  nil,
			err:  "saml.NewServiceProvider: no provider config provided",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(_ *testing.T) {
			got, err := saml.NewServiceProvider(c.cfg)

			if c.err != "" {
				r.Error(err)
				r.ErrorContains(err, c.err)
			} else {
				r.NoError(err)
				r.NotNil(got)
				r.NotNil(got.Config())
			}
		})
	}
}

func Test_ServiceProvider_FetchMetadata(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	cfg, err := saml.NewConfig(testSPEntityID, testACS, tp.MetadataURL())
	r.NoError(err)

	provider, err := saml.NewServiceProvider(cfg)
	r.NoError(err)

	got, err := provider.FetchMetadata()
	r.NoError(err)

	r.Equal(testprovider.EntityID, got.EntityID)
	r.Len(got.IDPSSODescriptor, 1)
	r.Len(got.IDPSSODescriptor[0].KeyDescriptor, 1)

	loc, ok := got.GetLocationForBinding(core.ServiceBindingHTTPPost)
	r.True(ok)
	r.Equal(tp.ServerURL()+"/saml/login/post", loc)

	loc, ok = got.GetLocationForBinding(core.ServiceBindingHTTPRedirect)
	r.True(ok)
	r.Equal(tp.ServerURL()+"/saml/login/redirect", loc)
}

func Test_ServiceProvider_FetchMetadata_ErrorCases(t *testing.T) {
	r := require.New(t)

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<invalidXML//>"))
	}))
	defer s.Close()

	expired := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(
			`<EntityDescriptor xmlns="urn:oasis:names:tc:SAML:2.0:metadata"` +
				` entityID="http://test.idp" validUntil="2020-01-01T00:00:00Z"/>`,
		))
	}))
	defer expired.Close()

	cases := []struct {
		name     string
		metadata string
		wantErr  string
	}{
		{
			name:     "When the metadata can't be fetched",
			metadata: "http://authrelay.saml.fake/saml/metadata",
			wantErr:  "saml.ServiceProvider.FetchMetadata: failed to fetch metadata:",
		},
		{
			name:     "When the metadata XML can't be parsed",
			metadata: s.URL + "/saml/metadata",
			wantErr:  "saml.ServiceProvider.FetchMetadata: failed to parse metadata XML:",
		},
		{
			name:     "When the metadata expired",
			metadata: expired.URL + "/saml/metadata",
			wantErr:  "saml.ServiceProvider.FetchMetadata: metadata expired at 2020-01-01T00:00:00Z:",
		},
	}

	for _, c := range cases {
		cfg, err := saml.NewConfig(testSPEntityID, testACS, c.metadata)
		r.NoError(err)

		provider, err := saml.NewServiceProvider(cfg)
		r.NoError(err)

		t.Run(c.name, func(_ *testing.T) {
			got, err := provider.FetchMetadata()
			r.Nil(got)
			r.Error(err)
			r.ErrorContains(err, c.wantErr)
		})
	}
}

func Test_ServiceProvider_IDPMetadata_Parameters(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	cfg, err := saml.NewConfig(testSPEntityID, testACS, tp.MetadataURL())
	r.NoError(err)
	cfg.MetadataURL = ""
	cfg.MetadataParameters = &saml.MetadataParameters{
		Issuer:            testprovider.EntityID,
		SingleSignOnURL:   "http://test.idp/saml/sso",
		IDPCertificatePEM: tp.SigningCertPEM(),
	}

	provider, err := saml.NewServiceProvider(cfg)
	r.NoError(err)

	got, err := provider.IDPMetadata()
	r.NoError(err)

	r.Equal(testprovider.EntityID, got.EntityID)
	r.Len(got.IDPSSODescriptor, 1)
	r.Len(got.IDPSSODescriptor[0].KeyDescriptor, 1)

	// The configured SSO URL serves both bindings.
	loc, ok := got.GetLocationForBinding(core.ServiceBindingHTTPPost)
	r.True(ok)
	r.Equal("http://test.idp/saml/sso", loc)

	loc, ok = got.GetLocationForBinding(core.ServiceBindingHTTPRedirect)
	r.True(ok)
	r.Equal("http://test.idp/saml/sso", loc)

	certs, err := saml.SigningCertsFromMetadata(got)
	r.NoError(err)
	r.Len(certs, 1)
	r.True(certs[0].Equal(tp.SigningCert()))
}

func Test_ServiceProvider_CreateMetadata(t *testing.T) {
	r := require.New(t)

	now := time.Now()
	validUntil := func() time.Time {
		return now
	}

	cfg, err := saml.NewConfig(testSPEntityID, testACS, "http://test.idp/metadata")
	r.NoError(err)
	cfg.ValidUntil = validUntil
	cfg.WantAssertionsSigned = true

	provider, err := saml.NewServiceProvider(cfg)
	r.NoError(err)

	got := provider.CreateMetadata()

	r.NotNil(got.ValidUntil)
	r.Equal(now, *got.ValidUntil)
	r.Equal(testSPEntityID, got.EntityID)

	r.Len(got.SPSSODescriptor, 1)
	r.True(got.SPSSODescriptor[0].WantAssertionsSigned)
	r.False(got.SPSSODescriptor[0].AuthnRequestsSigned)
	r.Equal(
		metadata.ProtocolSupportEnumerationProtocol,
		got.SPSSODescriptor[0].ProtocolSupportEnumeration,
	)
	r.Equal(
		core.ServiceBindingHTTPPost,
		got.SPSSODescriptor[0].AssertionConsumerService[0].Binding,
	)
	r.Equal(1, got.SPSSODescriptor[0].AssertionConsumerService[0].Index)
	r.Equal(
		testACS,
		got.SPSSODescriptor[0].AssertionConsumerService[0].Location,
	)
	r.Contains(got.SPSSODescriptor[0].NameIDFormat, core.NameIDFormatEmail)
}

func Test_ServiceProvider_CreateMetadata_Options(t *testing.T) {
	r := require.New(t)

	cfg, err := saml.NewConfig(testSPEntityID, testACS, "http://test.idp/metadata")
	r.NoError(err)

	provider, err := saml.NewServiceProvider(cfg)
	r.NoError(err)

	t.Run("WantAssertionsSigned mirrors the config", func(_ *testing.T) {
		got := provider.CreateMetadata()
		r.False(got.SPSSODescriptor[0].WantAssertionsSigned)

		signedCfg, err := saml.NewConfig(testSPEntityID, testACS, "http://test.idp/metadata")
		r.NoError(err)
		signedCfg.WantAssertionsSigned = true

		signedProvider, err := saml.NewServiceProvider(signedCfg)
		r.NoError(err)

		got = signedProvider.CreateMetadata()
		r.True(got.SPSSODescriptor[0].WantAssertionsSigned)
	})

	t.Run("When option InsecureWantAssertionsUnsigned is set", func(_ *testing.T) {
		signedCfg, err := saml.NewConfig(testSPEntityID, testACS, "http://test.idp/metadata")
		r.NoError(err)
		signedCfg.WantAssertionsSigned = true

		signedProvider, err := saml.NewServiceProvider(signedCfg)
		r.NoError(err)

		got := signedProvider.CreateMetadata(
			saml.InsecureWantAssertionsUnsigned(),
		)

		r.False(got.SPSSODescriptor[0].WantAssertionsSigned)
	})

	t.Run("When option WithAdditionalNameIDFormat is set", func(_ *testing.T) {
		got := provider.CreateMetadata(
			saml.WithAdditionalNameIDFormat(core.NameIDFormatTransient),
		)

		r.Contains(got.SPSSODescriptor[0].NameIDFormat, core.NameIDFormatEmail)
		r.Contains(got.SPSSODescriptor[0].NameIDFormat, core.NameIDFormatTransient)
	})

	t.Run("When option WithNameIDFormats is set", func(_ *testing.T) {
		got := provider.CreateMetadata(
			saml.WithNameIDFormats([]core.NameIDFormat{
				core.NameIDFormatEntity,
				core.NameIDFormatUnspecified,
			}),
		)

		r.Len(got.SPSSODescriptor[0].NameIDFormat, 2)
		r.Contains(got.SPSSODescriptor[0].NameIDFormat, core.NameIDFormatEntity)
		r.Contains(got.SPSSODescriptor[0].NameIDFormat, core.NameIDFormatUnspecified)
	})

	t.Run("When option WithACSServiceBinding is set", func(_ *testing.T) {
		got := provider.CreateMetadata(
			saml.WithACSServiceBinding(core.ServiceBindingHTTPRedirect),
		)

		r.Equal(
			core.ServiceBindingHTTPRedirect,
			got.SPSSODescriptor[0].AssertionConsumerService[0].Binding,
		)
	})

	t.Run("When option WithAdditionalACSEndpoint is set", func(_ *testing.T) {
		redirectEndpoint, err := url.Parse("http://test.sp/saml/acs/redirect")
		r.NoError(err)

		got := provider.CreateMetadata(
			saml.WithAdditionalACSEndpoint(
				core.ServiceBindingHTTPRedirect,
				redirectEndpoint,
			),
		)

		r.Len(got.SPSSODescriptor[0].AssertionConsumerService, 2)
		r.Equal(1, got.SPSSODescriptor[0].AssertionConsumerService[0].Index)
		r.Equal(2, got.SPSSODescriptor[0].AssertionConsumerService[1].Index)
		r.Equal(
			core.ServiceBindingHTTPRedirect,
			got.SPSSODescriptor[0].AssertionConsumerService[1].Binding,
		)
		r.Equal(
			redirectEndpoint.String(),
			got.SPSSODescriptor[0].AssertionConsumerService[1].Location,
		)
	})
}

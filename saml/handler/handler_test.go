// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package handler_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/authrelay/authrelay/saml"
	"github.com/authrelay/authrelay/saml/handler"
	testprovider "github.com/authrelay/authrelay/saml/test"
)

const (
	spEntityID = "http://test.sp/entity"
	acsURL     = "http://test.sp/saml/acs"
	requestID  = "_handler-request-id"
)

func testServiceProvider(t *testing.T, tp *testprovider.TestProvider) *saml.ServiceProvider {
	t.Helper()

	cfg, err := saml.NewConfig(spEntityID, acsURL, tp.MetadataURL())
	require.NoError(t, err)

	sp, err := saml.NewServiceProvider(cfg)
	require.NoError(t, err)

	return sp
}

func Test_ACSHandlerFunc(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	sp := testServiceProvider(t, tp)

	now := time.Now()
	clock := clockwork.NewFakeClockAt(now)

	var gotCreds *saml.Credentials
	h, err := handler.ACSHandlerFunc(
		sp,
		func(*http.Request) string { return requestID },
		func(w http.ResponseWriter, _ *http.Request, creds *saml.Credentials) {
			gotCreds = creds
			w.WriteHeader(http.StatusOK)
		},
		saml.WithClock(clock),
	)
	r.NoError(err)

	t.Run("accepts a valid response", func(t *testing.T) {
		r := require.New(t)

		encoded := tp.ResponsePost(t, testprovider.ResponseOptions{
			Now:          now,
			RequestID:    requestID,
			Audience:     spEntityID,
			Recipient:    acsURL,
			SignResponse: true,
		})

		form := url.Values{
			"SAMLResponse": {encoded},
			"RelayState":   {"/deep/link"},
		}
		req := httptest.NewRequest(http.MethodPost, acsURL, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()

		h(rec, req)

		r.Equal(http.StatusOK, rec.Code)
		r.NotNil(gotCreds)
		r.Equal("user@example.com", gotCreds.NameID.Value)
		r.Equal("/deep/link", gotCreds.RelayState)
	})

	t.Run("rejects an invalid response", func(t *testing.T) {
		r := require.New(t)
		gotCreds = nil

		form := url.Values{"SAMLResponse": {"not-a-response"}}
		req := httptest.NewRequest(http.MethodPost, acsURL, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()

		h(rec, req)

		r.Equal(http.StatusUnauthorized, rec.Code)
		r.Nil(gotCreds)
	})

	t.Run("missing arguments", func(t *testing.T) {
		r := require.New(t)

		_, err := handler.ACSHandlerFunc(nil, nil, nil)
		r.ErrorContains(err, "missing service provider")

		_, err = handler.ACSHandlerFunc(sp, nil, nil)
		r.ErrorContains(err, "missing request ID func")
	})
}

func Test_MetadataHandlerFunc(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	h, err := handler.MetadataHandlerFunc(testServiceProvider(t, tp))
	r.NoError(err)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/saml/metadata", nil))

	r.Equal(http.StatusOK, rec.Code)
	r.Equal("application/samlmetadata+xml", rec.Header().Get("Content-Type"))
	r.Contains(rec.Body.String(), spEntityID)
	r.Contains(rec.Body.String(), acsURL)
}

func Test_PostBindingHandlerFunc(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	h, err := handler.PostBindingHandlerFunc(testServiceProvider(t, tp))
	r.NoError(err)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	r.Equal(http.StatusOK, rec.Code)
	r.Contains(rec.Header().Get("Content-Security-Policy"), "script-src")
	r.Contains(rec.Body.String(), `name="SAMLRequest"`)
}

func Test_RedirectBindingHandlerFunc(t *testing.T) {
	r := require.New(t)

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	h, err := handler.RedirectBindingHandlerFunc(testServiceProvider(t, tp))
	r.NoError(err)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/login?RelayState=relay-state", nil))

	r.Equal(http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	r.NoError(err)
	r.True(strings.HasPrefix(loc.String(), tp.ServerURL()))
	r.NotEmpty(loc.Query().Get("SAMLRequest"))
	r.Equal("relay-state", loc.Query().Get("RelayState"))
}

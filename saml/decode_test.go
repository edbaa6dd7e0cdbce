// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package saml_test

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authrelay/authrelay/saml"
	testprovider "github.com/authrelay/authrelay/saml/test"
)

func TestDecodeResponsePost(t *testing.T) {
	t.Parallel()

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	now := time.Now()
	encoded := tp.ResponsePost(t, testprovider.ResponseOptions{
		Now:       now,
		RequestID: "_req-1234",
		Audience:  "http://test.sp/entity",
		Recipient: "http://test.sp/saml/acs",
	})

	tests := []struct {
		name            string
		samlResp        string
		wantErrIs       error
		wantErrContains string
	}{
		{
			name:     "valid payload",
			samlResp: encoded,
		},
		{
			name:            "not base64",
			samlResp:        "%%%not-base64%%%",
			wantErrIs:       saml.ErrInvalidParameter,
			wantErrContains: "cannot base64 decode payload",
		},
		{
			name:            "not xml",
			samlResp:        base64.StdEncoding.EncodeToString([]byte("not-xml")),
			wantErrIs:       saml.ErrInvalidParameter,
			wantErrContains: "cannot parse response XML",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)

			resp, doc, err := saml.DecodeResponsePost(tc.samlResp)
			if tc.wantErrContains != "" {
				require.Error(err)
				assert.ErrorContains(err, tc.wantErrContains)
				if tc.wantErrIs != nil {
					assert.ErrorIs(err, tc.wantErrIs)
				}
				return
			}

			require.NoError(err)
			require.NotNil(resp)
			require.NotNil(doc.Root())
			assert.Equal("_req-1234", resp.InResponseTo)
			assert.Equal("Response", doc.Root().Tag)
			assert.True(resp.Success())
		})
	}
}

func TestDecodeResponseRedirect(t *testing.T) {
	t.Parallel()

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	now := time.Now()
	opts := testprovider.ResponseOptions{
		Now:       now,
		RequestID: "_req-5678",
		Audience:  "http://test.sp/entity",
		Recipient: "http://test.sp/saml/acs",
	}

	t.Run("raw deflate payload", func(t *testing.T) {
		r := require.New(t)

		resp, doc, err := saml.DecodeResponseRedirect(tp.ResponseRedirect(t, opts))
		r.NoError(err)
		r.NotNil(doc.Root())
		r.Equal("_req-5678", resp.InResponseTo)
	})

	t.Run("zlib wrapped payload", func(t *testing.T) {
		r := require.New(t)

		raw := tp.ResponseXML(t, opts)

		buf := bytes.Buffer{}
		zw := zlib.NewWriter(&buf)
		_, err := zw.Write(raw)
		r.NoError(err)
		r.NoError(zw.Close())

		resp, _, err := saml.DecodeResponseRedirect(base64.StdEncoding.EncodeToString(buf.Bytes()))
		r.NoError(err)
		r.Equal("_req-5678", resp.InResponseTo)
	})

	t.Run("uncompressed payload is accepted as is", func(t *testing.T) {
		r := require.New(t)

		raw := tp.ResponseXML(t, opts)

		resp, _, err := saml.DecodeResponseRedirect(base64.StdEncoding.EncodeToString(raw))
		r.NoError(err)
		r.Equal("_req-5678", resp.InResponseTo)
	})

	t.Run("garbage payload", func(t *testing.T) {
		r := require.New(t)

		_, _, err := saml.DecodeResponseRedirect(base64.StdEncoding.EncodeToString([]byte{0xff, 0x00, 0x13, 0x37}))
		r.ErrorIs(err, saml.ErrInvalidParameter)
	})
}

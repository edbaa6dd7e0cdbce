// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package saml_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authrelay/authrelay/saml"
)

func Test_NewConfig(t *testing.T) {
	t.Parallel()

	entityID := "http://test.me/entity"
	acs := "http://test.me/sso/acs"
	metadata := "http://test.me/sso/metadata"

	cases := []struct {
		name        string
		entityID    string
		acs         string
		metadata    string
		expectedErr string
	}{
		{
			name:     "When all values are provided",
			entityID: entityID,
			acs:      acs,
			metadata: metadata,
		},
		{
			name:        "When there is no entity ID provided",
			acs:         acs,
			metadata:    metadata,
			expectedErr: "saml.NewConfig: invalid provider config: saml.Config.Validate: EntityID not set: invalid parameter",
		},
		{
			name:        "When there is no ACS URL provided",
			entityID:    entityID,
			metadata:    metadata,
			expectedErr: "saml.NewConfig: invalid provider config: saml.Config.Validate: ACS URL not set: invalid parameter",
		},
		{
			name:        "When there is no metadata URL provided",
			acs:         acs,
			entityID:    entityID,
			expectedErr: "saml.NewConfig: invalid provider config: saml.Config.Validate: neither Metadata URL nor metadata parameters set: invalid parameter",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := require.New(t)

			got, err := saml.NewConfig(c.entityID, c.acs, c.metadata)

			if c.expectedErr != "" {
				r.ErrorContains(err, c.expectedErr)
				return
			}

			r.NoError(err)

			r.Equal("http://test.me/entity", got.EntityID)
			r.Equal("http://test.me/sso/acs", got.AssertionConsumerServiceURL)
			r.Equal("http://test.me/sso/metadata", got.MetadataURL)
			r.Equal(saml.DefaultAcceptedClockSkew, got.AcceptedClockSkew)
			r.Equal(saml.DefaultMaximumAuthenticationLifetime, got.MaximumAuthenticationLifetime)
		})
	}
}

func Test_ConfigValidate_TimingBounds(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	cfg, err := saml.NewConfig("http://test.me/entity", "http://test.me/sso/acs", "http://test.me/sso/metadata")
	r.NoError(err)

	cfg.AcceptedClockSkew = -1 * time.Second
	err = cfg.Validate()
	r.ErrorIs(err, saml.ErrInvalidParameter)
	r.ErrorContains(err, "accepted clock skew must not be negative")

	cfg.AcceptedClockSkew = saml.DefaultAcceptedClockSkew
	cfg.MaximumAuthenticationLifetime = -1 * time.Second
	err = cfg.Validate()
	r.ErrorIs(err, saml.ErrInvalidParameter)
	r.ErrorContains(err, "maximum authentication lifetime must not be negative")
}

func Test_GenerateAuthRequestID(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	id, err := saml.GenerateAuthRequestID()
	r.NoError(err)

	r.True(strings.HasPrefix(id, "_"))

	other, err := saml.GenerateAuthRequestID()
	r.NoError(err)
	r.NotEqual(id, other)
}

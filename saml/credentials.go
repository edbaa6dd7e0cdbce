// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package saml

import (
	"fmt"

	"github.com/authrelay/authrelay/saml/models/core"
)

// Credentials is the result of a successfully validated SSO response: the
// authenticated subject together with everything the relying application
// usually needs from the accepted assertion. The conditions are carried so
// callers can bound any session they derive from the credentials.
type Credentials struct {
	// Issuer is the entity ID of the identity provider that asserted the
	// subject.
	Issuer string

	// NameID identifies the authenticated subject. Nil only if the subject
	// used an alternative identifier, in which case BaseID is set.
	NameID *core.NameID

	// BaseID is the alternative subject identifier, if one was used.
	BaseID *core.BaseID

	// SessionIndex is the IDP session reference of the first authentication
	// statement, if any. It is needed to address the session in a later
	// logout exchange.
	SessionIndex string

	// AuthnContextClassRefs lists the authentication context classes of all
	// authentication statements, in document order.
	AuthnContextClassRefs []string

	// Attributes holds the asserted attributes, including any that arrived
	// encrypted and could be decrypted.
	Attributes []core.Attribute

	// Conditions are the validity conditions of the accepted assertion.
	Conditions *core.Conditions

	// RelayState is the RelayState parameter delivered alongside the
	// response, handed back untouched so callers can restore the state
	// they stashed before redirecting to the identity provider.
	RelayState string
}

// NewCredentials builds credentials from the accepted assertion of a
// validated message context.
func NewCredentials(mctx *MessageContext, a *core.Assertion, attrs []core.Attribute) (*Credentials, error) {
	const op = "saml.NewCredentials"

	switch {
	case mctx == nil:
		return nil, fmt.Errorf("%s: no message context provided: %w", op, ErrInvalidParameter)
	case a == nil:
		return nil, fmt.Errorf("%s: no assertion provided: %w", op, ErrInvalidParameter)
	case mctx.SubjectNameID == nil && mctx.BaseID == nil:
		return nil, fmt.Errorf("%s: message context carries no resolved subject: %w", op, ErrInternal)
	}

	creds := &Credentials{
		Issuer:     a.GetIssuer(),
		NameID:     mctx.SubjectNameID,
		BaseID:     mctx.BaseID,
		Attributes: attrs,
		Conditions: a.Conditions,
		RelayState: mctx.RelayState,
	}

	for i, stmt := range a.AuthnStatements {
		if i == 0 {
			creds.SessionIndex = stmt.SessionIndex
		}
		if ref := stmt.AuthnContext.AuthnContextClassRef; ref != "" {
			creds.AuthnContextClassRefs = append(creds.AuthnContextClassRefs, ref)
		}
	}

	return creds, nil
}

// Attribute returns the values of the named attribute. A missing attribute
// yields an empty slice.
func (c *Credentials) Attribute(name string) []string {
	var values []string
	for _, attr := range c.Attributes {
		if attr.Name != name && attr.FriendlyName != name {
			continue
		}
		for _, v := range attr.Values {
			values = append(values, v.Value)
		}
	}
	return values
}

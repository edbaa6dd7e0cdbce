// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package saml

import (
	"github.com/beevik/etree"

	"github.com/authrelay/authrelay/saml/models/core"
)

// MessageContext correlates everything belonging to one authentication
// round-trip: the two entity identities, the wire binding, the decoded
// protocol messages and the state the validator accumulates while checking
// the response. One context is built per authentication attempt and never
// shared; it must be discarded after credentials are extracted or
// validation fails.
type MessageContext struct {
	// SelfEntityID identifies the service provider (the audience the
	// assertion must be restricted to).
	SelfEntityID string

	// PeerEntityID identifies the identity provider (the issuer every
	// response and assertion is checked against).
	PeerEntityID string

	// AssertionConsumerURL is the endpoint Bearer confirmations must name as
	// their recipient.
	AssertionConsumerURL string

	// Binding records which service binding delivered the inbound message.
	Binding core.ServiceBinding

	// RelayState carries the opaque relay state parameter, if any.
	RelayState string

	// RequestID is the ID of the authentication request this response
	// answers, used for the InResponseTo check.
	RequestID string

	// InboundMessage is the decoded protocol response. The validator treats
	// it as immutable.
	InboundMessage *core.Response

	// InboundDocument is the DOM form of the same response; signature
	// verification and decryption operate on it.
	InboundDocument *etree.Document

	// OutboundMessage is the authentication request this context was opened
	// for, when the round-trip started locally.
	OutboundMessage *core.AuthnRequest

	// Fields below are populated by the validator.

	// PeerAuthenticated is set once a trusted signature covering the whole
	// response has been verified. It suppresses the per-assertion signature
	// requirement.
	PeerAuthenticated bool

	// SubjectNameID is the resolved subject identifier.
	SubjectNameID *core.NameID

	// BaseID is the resolved alternative subject identifier, if the subject
	// used one.
	BaseID *core.BaseID

	// SubjectConfirmations collects, in document order, the Bearer
	// confirmations that passed the confirmation data checks.
	SubjectConfirmations []core.SubjectConfirmation

	// SubjectAssertion is the single assertion accepted by the validator.
	// It stays nil until validation succeeds.
	SubjectAssertion *core.Assertion
}

// NewMessageContext creates a per-attempt context carrying the expected
// identities for the exchange.
func NewMessageContext(selfEntityID, peerEntityID, acsURL string) *MessageContext {
	return &MessageContext{
		SelfEntityID:         selfEntityID,
		PeerEntityID:         peerEntityID,
		AssertionConsumerURL: acsURL,
	}
}

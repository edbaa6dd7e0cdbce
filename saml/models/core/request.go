// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package core

import (
	"encoding/xml"
	"strings"
)

type Comparison string

const (
	ComparisonExact   Comparison = "exact"
	ComparisonMinimum Comparison = "minimum"
	ComparisonMaximum Comparison = "maximum"
	ComparisonBetter  Comparison = "better"
)

// See 3.2.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusRequestType struct {
	RequestResponseCommon
}

// AuthnRequest asks an identity provider to authenticate a principal on
// behalf of the service provider.
// See 3.4.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AuthnRequest struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol AuthnRequest"`

	StatusRequestType

	Subject               *Subject
	NameIDPolicy          *NameIDPolicy
	Conditions            *Conditions
	RequestedAuthnContext *RequestedAuthnContext
	Scoping               *Scoping

	ForceAuthn bool `xml:",attr"`
	IsPassive  bool `xml:",attr"`

	AssertionConsumerServiceIndex string `xml:",attr,omitempty"`
	AssertionConsumerServiceURL   string `xml:",attr"`

	// A URI reference that identifies a SAML protocol binding to be used
	// when returning the Response message.
	ProtocolBinding ServiceBinding `xml:",attr"`

	AttributeConsumingServiceIndex string `xml:",attr,omitempty"`
	ProviderName                   string `xml:",attr,omitempty"`
}

// NameIDPolicy specifies constraints on the name identifier to be used to
// represent the requested subject.
// See 3.4.1.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type NameIDPolicy struct {
	Format          NameIDFormat `xml:",attr,omitempty"`
	SPNameQualifier string       `xml:",attr,omitempty"`
	AllowCreate     bool         `xml:",attr"`
}

// RequestedAuthnContext specifies the authentication context requirements of
// authentication statements returned in response to this request.
// See 3.3.2.2.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type RequestedAuthnContext struct {
	AuthnContextClassRef []string
	Comparison           Comparison `xml:",attr"`
}

// Scoping specifies the identity providers trusted by the requester to
// authenticate the presenter.
// See 3.4.1.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Scoping struct {
	ProxyCount  int `xml:",attr"`
	IDPList     *IDPList
	RequesterID []string
}

// See 3.4.1.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type IDPList struct {
	IDPEntry    []*IDPEntry
	GetComplete []string
}

// See 3.4.1.3.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type IDPEntry struct {
	ProviderID string `xml:",attr"`
	Name       string
	Loc        string
}

// CreateXMLDocument serializes the request, optionally indenting the output.
func (a *AuthnRequest) CreateXMLDocument(indent int) ([]byte, error) {
	if indent <= 0 {
		return xml.Marshal(a)
	}
	return xml.MarshalIndent(a, "", strings.Repeat(" ", indent))
}

// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package core

import (
	"encoding/xml"
	"time"
)

// Response is the SAML protocol response to an authentication request. It is
// the message the web SSO profile delivers to the assertion consumer service
// endpoint.
// See 3.3.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Response struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol Response"`

	StatusResponseType

	InResponseTo string `xml:",attr,omitempty"`

	Signature *Signature

	Assertions          []Assertion          `xml:"Assertion"`
	EncryptedAssertions []EncryptedAssertion `xml:"EncryptedAssertion"`
}

// See 3.2.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusResponseType struct {
	RequestResponseCommon

	Status Status
}

// See 3.2.2.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Status struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol Status"`

	StatusCode    StatusCode     // required
	StatusMessage *StatusMessage // optional
}

// See 3.2.2.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusCode struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol StatusCode"`

	Value StatusCodeType `xml:",attr"` // required
}

// See 3.2.2.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusMessage struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol StatusMessage"`

	Value string `xml:",chardata"`
}

// Signature marks the presence of an enveloped ds:Signature. The signature
// value is never interpreted through this struct; cryptographic checks run
// on the DOM form of the same document.
type Signature struct {
	XMLName xml.Name `xml:"http://www.w3.org/2000/09/xmldsig# Signature"`

	Raw []byte `xml:",innerxml"`
}

// Assertion is a statement from the identity provider about a subject.
// See 2.3.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Assertion struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Assertion"`

	ID           string    `xml:",attr"` // required
	Version      string    `xml:",attr"` // required
	IssueInstant time.Time `xml:",attr"` // required

	Issuer    *Issuer // required
	Signature *Signature

	Subject    *Subject
	Conditions *Conditions

	AuthnStatements     []AuthnStatement     `xml:"AuthnStatement"`
	AttributeStatements []AttributeStatement `xml:"AttributeStatement"`
}

// EncryptedAssertion carries the encrypted form of an Assertion as raw XML.
// The decrypter adapter resolves it from the DOM form of the response.
// See 2.3.4 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type EncryptedAssertion struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion EncryptedAssertion"`

	Raw []byte `xml:",innerxml"`
}

// Conditions bound the validity of the enclosing assertion.
// See 2.5.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Conditions struct {
	NotBefore    *time.Time `xml:",attr,omitempty"`
	NotOnOrAfter *time.Time `xml:",attr,omitempty"`

	AudienceRestrictions []AudienceRestriction `xml:"AudienceRestriction"`
	OneTimeUse           *OneTimeUse
	ProxyRestriction     *ProxyRestriction
}

// See 2.5.1.4 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AudienceRestriction struct {
	Audiences []string `xml:"Audience"`
}

// See 2.5.1.5 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type OneTimeUse struct{}

// See 2.5.1.6 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type ProxyRestriction struct {
	Count     int      `xml:",attr,omitempty"`
	Audiences []string `xml:"Audience"`
}

// AuthnStatement describes an act of authentication performed by the
// identity provider on the subject.
// See 2.7.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AuthnStatement struct {
	AuthnInstant        time.Time  `xml:",attr"` // required
	SessionIndex        string     `xml:",attr,omitempty"`
	SessionNotOnOrAfter *time.Time `xml:",attr,omitempty"`

	AuthnContext AuthnContext
}

// See 2.7.2.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AuthnContext struct {
	AuthnContextClassRef string `xml:"AuthnContextClassRef"`
}

// AttributeStatement holds the attributes asserted about the subject.
// See 2.7.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AttributeStatement struct {
	Attributes          []Attribute          `xml:"Attribute"`
	EncryptedAttributes []EncryptedAttribute `xml:"EncryptedAttribute"`
}

// See 2.7.3.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Attribute struct {
	FriendlyName string     `xml:",attr,omitempty"`
	Name         string     `xml:",attr"`
	NameFormat   NameFormat `xml:",attr,omitempty"`

	Values []AttributeValue `xml:"AttributeValue"`
}

type AttributeValue struct {
	Type  string `xml:"http://www.w3.org/2001/XMLSchema-instance type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// EncryptedAttribute carries the encrypted form of an Attribute as raw XML.
// See 2.7.3.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type EncryptedAttribute struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion EncryptedAttribute"`

	Raw []byte `xml:",innerxml"`
}

// GetStatusCode returns the top-level status code value of the response.
func (r *Response) GetStatusCode() StatusCodeType {
	return r.Status.StatusCode.Value
}

// Success reports whether the response carries the Success status code.
func (r *Response) Success() bool {
	return r.GetStatusCode() == StatusCodeSuccess
}

// GetIssuer returns the issuer value or the empty string if the response
// carries no issuer.
func (r *Response) GetIssuer() string {
	if r.Issuer == nil {
		return ""
	}
	return r.Issuer.Value
}

// GetIssuer returns the issuer value or the empty string if the assertion
// carries no issuer.
func (a *Assertion) GetIssuer() string {
	if a.Issuer == nil {
		return ""
	}
	return a.Issuer.Value
}

// Attributes returns the plaintext attributes of all attribute statements in
// document order. Encrypted attributes are not included; the validator
// resolves those through the decrypter adapter.
func (a *Assertion) Attributes() []Attribute {
	var attrs []Attribute
	for _, stmt := range a.AttributeStatements {
		attrs = append(attrs, stmt.Attributes...)
	}
	return attrs
}

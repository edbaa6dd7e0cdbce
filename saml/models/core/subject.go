// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package core

import (
	"encoding/xml"
	"time"
)

// Subject identifies the principal that is the subject of the statements in
// an assertion. At most one of NameID, BaseID and EncryptedID is effective;
// a decrypted EncryptedID takes precedence over a cleartext NameID.
// See 2.4.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Subject struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Subject"`

	BaseID      *BaseID
	NameID      *NameID
	EncryptedID *EncryptedID

	SubjectConfirmations []SubjectConfirmation `xml:"SubjectConfirmation"`
}

// SubjectConfirmation provides the means for a relying party to verify the
// correspondence of the subject with the party presenting the assertion.
// See 2.4.1.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type SubjectConfirmation struct {
	Method ConfirmationMethod `xml:",attr"` // required

	BaseID      *BaseID
	NameID      *NameID
	EncryptedID *EncryptedID

	SubjectConfirmationData *SubjectConfirmationData // optional
}

// SubjectConfirmationData constrains the circumstances under which a subject
// confirmation may be accepted. For the Bearer method, NotOnOrAfter and
// Recipient are mandatory and NotBefore must be absent.
// See 2.4.1.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type SubjectConfirmationData struct {
	NotBefore    *time.Time `xml:",attr,omitempty"`
	NotOnOrAfter *time.Time `xml:",attr,omitempty"`
	Recipient    string     `xml:",attr,omitempty"`
	InResponseTo string     `xml:",attr,omitempty"`
	Address      string     `xml:",attr,omitempty"`
}

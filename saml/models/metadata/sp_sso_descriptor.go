// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package metadata

import (
	"encoding/xml"

	"github.com/authrelay/authrelay/saml/models/core"
)

// EntityDescriptorSPSSO defines an EntityDescriptor type
// that can accommodate an SPSSODescriptor.
// This type can be usued specifically to describe SPSSO profiles.
type EntityDescriptorSPSSO struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`

	EntityDescriptor

	SPSSODescriptor []*SPSSODescriptor
}

// SPSSODescriptor contains profiles specific to service providers.
// It extends the SSODescriptor type.
// See 2.4.4 http://docs.oasis-open.org/security/saml/v2.0/saml-metadata-2.0-os.pdf
type SPSSODescriptor struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata SPSSODescriptor"`

	SSODescriptor

	AuthnRequestsSigned       bool `xml:",attr"`
	WantAssertionsSigned      bool `xml:",attr"`
	AssertionConsumerService  []IndexedEndpoint
	AttributeConsumingService []*AttributeConsumingService
	Attribute                 []core.Attribute
}

// AttributeConsumingService (ACS) is the location where an IdP will eventually send
// the user at the SP.
// See 2.4.4.1 http://docs.oasis-open.org/security/saml/v2.0/saml-metadata-2.0-os.pdf
type AttributeConsumingService struct {
	Index              int  `xml:",attr"`
	IsDefault          bool `xml:"isDefault,attr"`
	ServiceName        []Localized
	ServiceDescription []Localized
	RequestedAttribute []RequestedAttribute
}

// RequestedAttribute specifies a service providers interest in a specific
// SAML attribute, including specific values.
// See 2.4.4.2 http://docs.oasis-open.org/security/saml/v2.0/saml-metadata-2.0-os.pdf
type RequestedAttribute struct {
	core.Attribute
	IsRequired bool `xml:"isRequired,attr"`
}

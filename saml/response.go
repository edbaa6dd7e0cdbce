// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package saml

import (
	"crypto/x509"
	"fmt"

	"github.com/beevik/etree"

	"github.com/authrelay/authrelay/saml/models/core"
)

// ParseResponse decodes a SAMLResponse delivered through the HTTP-POST
// binding and validates it, returning the credentials of the authenticated
// subject. requestID is the ID of the authentication request this response
// is expected to answer.
//
// Options:
// - WithClock
// - WithLogger
// - WithDecrypter
// - WithRelayState
// - InsecureSkipRequestIDValidation
// - InsecureSkipSignatureValidation
func (sp *ServiceProvider) ParseResponse(
	samlResp string,
	requestID string,
	opt ...Option,
) (*Credentials, error) {
	const op = "saml.ServiceProvider.ParseResponse"

	if isNil(sp) {
		return nil, fmt.Errorf("%s: missing service provider: %w", op, ErrInternal)
	}

	resp, doc, err := DecodeResponsePost(samlResp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	creds, err := sp.validateResponse(resp, doc, requestID, core.ServiceBindingHTTPPost, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return creds, nil
}

// ParseResponseRedirect decodes a SAMLResponse delivered through the
// HTTP-Redirect binding and validates it. It accepts the same options as
// ParseResponse.
func (sp *ServiceProvider) ParseResponseRedirect(
	samlResp string,
	requestID string,
	opt ...Option,
) (*Credentials, error) {
	const op = "saml.ServiceProvider.ParseResponseRedirect"

	if isNil(sp) {
		return nil, fmt.Errorf("%s: missing service provider: %w", op, ErrInternal)
	}

	resp, doc, err := DecodeResponseRedirect(samlResp, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	creds, err := sp.validateResponse(resp, doc, requestID, core.ServiceBindingHTTPRedirect, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return creds, nil
}

// validateResponse assembles the per-attempt message context and runs the
// response validator over the decoded response. Trust material is resolved
// from the IDP metadata unless signature validation is skipped.
func (sp *ServiceProvider) validateResponse(
	resp *core.Response,
	doc *etree.Document,
	requestID string,
	binding core.ServiceBinding,
	opt ...Option,
) (*Credentials, error) {
	const op = "saml.ServiceProvider.validateResponse"

	meta, err := sp.IDPMetadata()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	opts := getValidatorOptions(opt...)

	var trustEngine SignatureTrustEngine
	if !opts.skipSignatureValidation {
		certs, err := SigningCertsFromMetadata(meta)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		trustEngine, err = NewX509TrustEngine(map[string][]*x509.Certificate{
			meta.EntityID: certs,
		}, opt...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	validator, err := NewResponseValidator(sp.cfg, trustEngine, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	mctx := NewMessageContext(sp.cfg.EntityID, meta.EntityID, sp.cfg.AssertionConsumerServiceURL)
	mctx.Binding = binding
	mctx.RequestID = requestID
	mctx.RelayState = opts.relayState
	mctx.InboundMessage = resp
	mctx.InboundDocument = doc

	creds, err := validator.Validate(mctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return creds, nil
}

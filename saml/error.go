// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package saml

import "errors"

var (
	ErrInternal         = errors.New("internal error")
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrBindingUnsupported is returned for wire messages using a binding
	// the codec does not implement.
	ErrBindingUnsupported = errors.New("service binding unsupported")

	// ErrValidation is the single error kind wrapping every fatal condition
	// raised while validating a SAML response. Callers must treat any error
	// matching it as "authentication not established".
	ErrValidation = errors.New("saml response validation failed")

	// ErrDecryption wraps failures to decrypt an encrypted assertion,
	// identifier or attribute. Whether it is fatal depends on the call site:
	// a failed assertion or attribute is skipped, a failed subject
	// identifier fails the containing assertion.
	ErrDecryption = errors.New("decryption failed")

	// ErrSignatureNotTrusted is returned by the trust engine when a
	// signature is structurally valid but not trusted for the peer entity.
	ErrSignatureNotTrusted = errors.New("signature not trusted")

	// ErrSignatureProfile is returned by the trust engine when a signature
	// fails the structural profile check before any cryptography runs.
	ErrSignatureProfile = errors.New("invalid signature profile")
)

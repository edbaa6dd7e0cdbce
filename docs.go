// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

// authrelay provides SAML v2.0 web SSO support for relying applications:
// building authentication requests, decoding responses delivered over the
// HTTP-POST and HTTP-Redirect bindings and validating them down to the
// credentials of the authenticated subject.
//
// See README.md
package authrelay

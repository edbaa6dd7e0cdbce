// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"fmt"
	"net/http"

	"github.com/authrelay/authrelay/saml"
)

// PostBindingHandlerFunc creates a handler function that starts an
// authentication round-trip over the HTTP-POST binding by serving a
// self-submitting form carrying the authentication request.
func PostBindingHandlerFunc(sp *saml.ServiceProvider, opt ...saml.Option) (http.HandlerFunc, error) {
	const op = "handler.PostBindingHandlerFunc"
	if sp == nil {
		return nil, fmt.Errorf("%s: missing service provider", op)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		templ, _, err := sp.AuthnRequestPost("", opt...)
		if err != nil {
			http.Error(w, "failed to create SAML Authn Request", http.StatusInternalServerError)
			return
		}

		saml.WritePostBindingRequestHeader(w)

		if _, err := w.Write(templ); err != nil {
			http.Error(w, "failed to serve post binding request", http.StatusInternalServerError)
			return
		}
	}, nil
}

// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"fmt"
	"net/http"

	"github.com/authrelay/authrelay/saml"
)

// RedirectBindingHandlerFunc creates a handler function that starts an
// authentication round-trip over the HTTP-Redirect binding.
func RedirectBindingHandlerFunc(sp *saml.ServiceProvider, opt ...saml.Option) (http.HandlerFunc, error) {
	const op = "handler.RedirectBindingHandlerFunc"
	if sp == nil {
		return nil, fmt.Errorf("%s: missing service provider", op)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		redirectURL, _, err := sp.AuthnRequestRedirect(r.URL.Query().Get("RelayState"), opt...)
		if err != nil {
			http.Error(
				w,
				"failed to create SAML Authn Request",
				http.StatusInternalServerError,
			)
			return
		}

		http.Redirect(w, r, redirectURL.String(), http.StatusFound)
	}, nil
}

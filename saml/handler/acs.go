// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"fmt"
	"net/http"

	"github.com/authrelay/authrelay/saml"
)

// CredentialsFunc is called with the credentials of a successfully
// validated response. It is responsible for establishing the session and
// writing the response.
type CredentialsFunc func(w http.ResponseWriter, r *http.Request, creds *saml.Credentials)

// RequestIDFunc resolves the ID of the authentication request the inbound
// response is expected to answer, usually from a session cookie set when
// the request was issued.
type RequestIDFunc func(r *http.Request) string

// ACSHandlerFunc creates a handler function serving the assertion consumer
// endpoint for the HTTP-POST binding. Validation failures are answered with
// 401 without detail; the reason is wrapped in the error returned by the
// service provider and should be logged by the caller through the
// saml.WithLogger option.
func ACSHandlerFunc(sp *saml.ServiceProvider, requestID RequestIDFunc, onCredentials CredentialsFunc, opt ...saml.Option) (http.HandlerFunc, error) {
	const op = "handler.ACSHandlerFunc"
	switch {
	case sp == nil:
		return nil, fmt.Errorf("%s: missing service provider", op)
	case requestID == nil:
		return nil, fmt.Errorf("%s: missing request ID func", op)
	case onCredentials == nil:
		return nil, fmt.Errorf("%s: missing credentials func", op)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "failed to parse form data", http.StatusBadRequest)
			return
		}
		samlResp := r.PostForm.Get("SAMLResponse")

		// The option slice is rebuilt per request so concurrent requests
		// never append into a shared backing array.
		parseOpts := make([]saml.Option, 0, len(opt)+1)
		parseOpts = append(parseOpts, opt...)
		parseOpts = append(parseOpts, saml.WithRelayState(r.PostForm.Get("RelayState")))

		creds, err := sp.ParseResponse(samlResp, requestID(r), parseOpts...)
		if err != nil {
			http.Error(w, "failed to handle SAML response", http.StatusUnauthorized)
			return
		}

		onCredentials(w, r, creds)
	}, nil
}

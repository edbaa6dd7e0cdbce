// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"encoding/xml"
	"fmt"
	"net/http"

	"github.com/authrelay/authrelay/saml"
)

// MetadataHandlerFunc creates a handler function serving the service
// provider's metadata document.
func MetadataHandlerFunc(sp *saml.ServiceProvider, opt ...saml.Option) (http.HandlerFunc, error) {
	const op = "handler.MetadataHandlerFunc"
	if sp == nil {
		return nil, fmt.Errorf("%s: missing service provider", op)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		meta := sp.CreateMetadata(opt...)

		w.Header().Set("Content-Type", "application/samlmetadata+xml")
		if err := xml.NewEncoder(w).Encode(meta); err != nil {
			http.Error(w, "failed to serve metadata", http.StatusInternalServerError)
			return
		}
	}, nil
}

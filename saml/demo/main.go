// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"html/template"
	"net/http"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/authrelay/authrelay/saml"
	"github.com/authrelay/authrelay/saml/handler"
)

func main() {
	cfg, err := saml.NewConfig(
		os.Getenv("AUTHRELAY_SAML_ENTITY_ID"),
		os.Getenv("AUTHRELAY_SAML_ACS"),
		os.Getenv("AUTHRELAY_SAML_METADATA"),
	)
	exitOnError(err)

	sp, err := saml.NewServiceProvider(cfg)
	exitOnError(err)

	logger := hclog.New(&hclog.LoggerOptions{Name: "authrelay-demo"})

	acsHandler, err := handler.ACSHandlerFunc(sp,
		func(r *http.Request) string { return "" },
		func(w http.ResponseWriter, _ *http.Request, creds *saml.Credentials) {
			fmt.Fprintf(w, "Authenticated! Subject: %s", creds.NameID.Value)
		},
		saml.InsecureSkipRequestIDValidation(),
		saml.WithLogger(logger),
	)
	exitOnError(err)

	authHandler, err := handler.RedirectBindingHandlerFunc(sp)
	exitOnError(err)

	metaHandler, err := handler.MetadataHandlerFunc(sp)
	exitOnError(err)

	http.HandleFunc("/saml/acs", acsHandler)
	http.HandleFunc("/saml/auth", authHandler)
	http.HandleFunc("/metadata", metaHandler)

	http.HandleFunc("/login", func(w http.ResponseWriter, _ *http.Request) {
		ts, _ := template.New("sso").Parse(
			`<html><form method="GET" action="/saml/auth"><button type="submit">Submit</button></form></html>`,
		)

		ts.Execute(w, nil)
	})

	fmt.Println("Visit http://localhost:8000/login")

	err = http.ListenAndServe(":8000", nil)
	exitOnError(err)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Printf("failed to run demo: %s", err.Error())
		os.Exit(1)
	}
}

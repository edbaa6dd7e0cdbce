// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package saml

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/beevik/etree"
	"github.com/hashicorp/go-hclog"

	"github.com/authrelay/authrelay/saml/models/core"
)

type decodeOptions struct {
	logger hclog.Logger
}

func decodeOptionsDefault() decodeOptions {
	return decodeOptions{
		logger: hclog.NewNullLogger(),
	}
}

func getDecodeOptions(opt ...Option) decodeOptions {
	opts := decodeOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

// DecodeResponsePost decodes the SAMLResponse form value of an HTTP-POST
// binding delivery. The payload is base64 without compression.
//
// The response is returned in both of its representations: the typed model
// the validator reads and the DOM document signature verification and
// decryption run on. Both are built from the same decoded bytes.
func DecodeResponsePost(samlResp string) (*core.Response, *etree.Document, error) {
	const op = "saml.DecodeResponsePost"

	raw, err := base64.StdEncoding.DecodeString(samlResp)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: cannot base64 decode payload: %s: %w", op, err, ErrInvalidParameter)
	}

	resp, doc, err := parseResponseXML(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return resp, doc, nil
}

// DecodeResponseRedirect decodes the SAMLResponse query value of an
// HTTP-Redirect binding delivery. The payload is base64 over a raw deflate
// stream. Some providers deviate and send zlib-wrapped or entirely
// uncompressed payloads; both are accepted, the latter with a logged
// warning.
//
// Options:
// - WithLogger
func DecodeResponseRedirect(samlResp string, opt ...Option) (*core.Response, *etree.Document, error) {
	const op = "saml.DecodeResponseRedirect"

	opts := getDecodeOptions(opt...)

	deflated, err := base64.StdEncoding.DecodeString(samlResp)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: cannot base64 decode payload: %s: %w", op, err, ErrInvalidParameter)
	}

	raw, err := inflate(deflated)
	if err != nil {
		opts.logger.Warn("redirect payload is not deflate compressed, using it as is", "error", err)
		raw = deflated
	}

	resp, doc, err := parseResponseXML(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return resp, doc, nil
}

// inflate decompresses a raw deflate stream, falling back to zlib for
// providers that include the zlib header.
func inflate(data []byte) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()

	out, err := io.ReadAll(fr)
	if err == nil {
		return out, nil
	}

	zr, zlibErr := zlib.NewReader(bytes.NewReader(data))
	if zlibErr != nil {
		return nil, err
	}
	defer zr.Close()

	return io.ReadAll(zr)
}

// parseResponseXML builds the typed and the DOM representation of a decoded
// response from the same bytes.
func parseResponseXML(raw []byte) (*core.Response, *etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, nil, fmt.Errorf("cannot parse response XML: %s: %w", err, ErrInvalidParameter)
	}
	if doc.Root() == nil {
		return nil, nil, fmt.Errorf("response document is empty: %w", ErrInvalidParameter)
	}

	var resp core.Response
	if err := xml.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("cannot parse response XML: %s: %w", err, ErrInvalidParameter)
	}

	return &resp, doc, nil
}

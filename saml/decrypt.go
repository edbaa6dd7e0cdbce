// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package saml

import (
	"crypto/rsa"
	"fmt"

	"github.com/beevik/etree"
	"github.com/crewjam/saml/xmlenc"
)

// Decrypter decrypts the encrypted variants of SAML elements:
// EncryptedAssertion, EncryptedID and EncryptedAttribute.
type Decrypter interface {
	// Decrypt takes the encrypted wrapper element and returns the decrypted
	// element it carried. The input element is not modified.
	Decrypt(encrypted *etree.Element) (*etree.Element, error)
}

// XMLEncDecrypter is a Decrypter backed by the service provider's RSA
// decryption key. It handles the common XML Encryption layouts where the
// EncryptedKey either sits inside the EncryptedData's KeyInfo or next to it
// inside the wrapper element.
type XMLEncDecrypter struct {
	key *rsa.PrivateKey
}

// NewDecrypter creates a decrypter around the given private key.
func NewDecrypter(key *rsa.PrivateKey) (*XMLEncDecrypter, error) {
	const op = "saml.NewDecrypter"

	if key == nil {
		return nil, fmt.Errorf("%s: no decryption key provided: %w", op, ErrInvalidParameter)
	}

	return &XMLEncDecrypter{key: key}, nil
}

// Decrypt decrypts the EncryptedData carried by the given wrapper element and
// parses the plaintext back into an element.
func (d *XMLEncDecrypter) Decrypt(encrypted *etree.Element) (*etree.Element, error) {
	const op = "saml.XMLEncDecrypter.Decrypt"

	if encrypted == nil {
		return nil, fmt.Errorf("%s: no encrypted element provided: %w", op, ErrInvalidParameter)
	}

	data := encrypted
	if data.Tag != "EncryptedData" {
		if data = childElement(encrypted, "EncryptedData"); data == nil {
			return nil, fmt.Errorf("%s: element carries no EncryptedData: %w", op, ErrDecryption)
		}
	}

	plaintext, err := xmlenc.Decrypt(d.key, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err, ErrDecryption)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(plaintext); err != nil {
		return nil, fmt.Errorf("%s: cannot parse decrypted element: %s: %w", op, err, ErrDecryption)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%s: decrypted document is empty: %w", op, ErrDecryption)
	}

	return root, nil
}

// Copyright (c) Authrelay Authors
// SPDX-License-Identifier: MPL-2.0

package saml

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"

	"github.com/authrelay/authrelay/saml/models/core"
)

type validatorOptions struct {
	clock                   clockwork.Clock
	logger                  hclog.Logger
	decrypter               Decrypter
	relayState              string
	skipSignatureValidation bool
	skipRequestIDValidation bool
}

func validatorOptionsDefault() validatorOptions {
	return validatorOptions{
		clock:  clockwork.NewRealClock(),
		logger: hclog.NewNullLogger(),
	}
}

func getValidatorOptions(opt ...Option) validatorOptions {
	opts := validatorOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithClock changes the clock used when generating requests and when
// comparing timestamps during validation. Tests pass a fake clock to pin
// both to a known instant.
func WithClock(clock clockwork.Clock) Option {
	return func(o interface{}) {
		switch o := o.(type) {
		case *validatorOptions:
			o.clock = clock
		case *trustEngineOptions:
			o.clock = clock
		case *authnRequestOptions:
			o.clock = clock
		}
	}
}

// WithLogger sets the logger recoverable validation skips and codec
// degradations are reported to.
func WithLogger(logger hclog.Logger) Option {
	return func(o interface{}) {
		switch o := o.(type) {
		case *validatorOptions:
			o.logger = logger
		case *decodeOptions:
			o.logger = logger
		}
	}
}

// WithRelayState records the RelayState parameter that was delivered
// alongside the response. It is handed back untouched on the issued
// credentials so callers can restore their pre-login state.
func WithRelayState(relayState string) Option {
	return func(o interface{}) {
		if o, ok := o.(*validatorOptions); ok {
			o.relayState = relayState
		}
	}
}

// WithDecrypter overrides the decrypter built from the configured
// encryption key.
func WithDecrypter(decrypter Decrypter) Option {
	return func(o interface{}) {
		if o, ok := o.(*validatorOptions); ok {
			o.decrypter = decrypter
		}
	}
}

// InsecureSkipSignatureValidation disables all signature checks on the
// response and its assertions.
//
// Insecure! This option must only be used in test environments.
func InsecureSkipSignatureValidation() Option {
	return func(o interface{}) {
		if o, ok := o.(*validatorOptions); ok {
			o.skipSignatureValidation = true
		}
	}
}

// InsecureSkipRequestIDValidation disables the check that the response
// answers a previously issued authentication request.
//
// Insecure! This option must only be used in test environments.
func InsecureSkipRequestIDValidation() Option {
	return func(o interface{}) {
		if o, ok := o.(*validatorOptions); ok {
			o.skipRequestIDValidation = true
		}
	}
}

// ResponseValidator checks an inbound SSO response against the web SSO
// profile rules and extracts the authenticated subject from the first
// assertion that passes all checks. A validator is immutable after
// construction and safe for concurrent use; all per-attempt state lives in
// the MessageContext.
type ResponseValidator struct {
	acceptedClockSkew    time.Duration
	maxAuthLifetime      time.Duration
	wantAssertionsSigned bool

	trustEngine SignatureTrustEngine
	decrypter   Decrypter

	clock  clockwork.Clock
	logger hclog.Logger

	skipSignatureValidation bool
	skipRequestIDValidation bool
}

// NewResponseValidator creates a validator enforcing the timing and trust
// settings of the given configuration. The trust engine is required unless
// signature validation is explicitly skipped.
//
// Options:
// - WithClock
// - WithLogger
// - WithDecrypter
// - InsecureSkipSignatureValidation
// - InsecureSkipRequestIDValidation
func NewResponseValidator(cfg *Config, trustEngine SignatureTrustEngine, opt ...Option) (*ResponseValidator, error) {
	const op = "saml.NewResponseValidator"

	if cfg == nil {
		return nil, fmt.Errorf("%s: no config provided: %w", op, ErrInvalidParameter)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	opts := getValidatorOptions(opt...)

	if isNil(trustEngine) && !opts.skipSignatureValidation {
		return nil, fmt.Errorf("%s: no trust engine provided: %w", op, ErrInvalidParameter)
	}

	decrypter := opts.decrypter
	if decrypter == nil && cfg.EncryptionKey != nil {
		var err error
		decrypter, err = NewDecrypter(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return &ResponseValidator{
		acceptedClockSkew:    cfg.AcceptedClockSkew,
		maxAuthLifetime:      cfg.MaximumAuthenticationLifetime,
		wantAssertionsSigned: cfg.WantAssertionsSigned,

		trustEngine: trustEngine,
		decrypter:   decrypter,

		clock:  opts.clock,
		logger: opts.logger,

		skipSignatureValidation: opts.skipSignatureValidation,
		skipRequestIDValidation: opts.skipRequestIDValidation,
	}, nil
}

// candidateAssertion pairs a typed assertion with its DOM element so
// signature verification and decryption can run on the exact bytes the
// assertion arrived as.
type candidateAssertion struct {
	assertion *core.Assertion
	el        *etree.Element
	decrypted bool
}

// resolvedSubject carries the outcome of subject validation for one
// candidate assertion. It is committed to the MessageContext only once the
// whole assertion passed.
type resolvedSubject struct {
	nameID        *core.NameID
	baseID        *core.BaseID
	confirmations []core.SubjectConfirmation
}

// Validate runs the full web SSO validation sequence over the inbound
// response held by the context: protocol-level checks first, then decryption
// of encrypted assertions, then per-assertion validation until one assertion
// passes everything. On success the accepted assertion and its subject are
// recorded on the context and the extracted credentials are returned. Any
// returned error matches ErrValidation unless the context itself was
// unusable.
func (v *ResponseValidator) Validate(mctx *MessageContext) (*Credentials, error) {
	const op = "saml.ResponseValidator.Validate"

	switch {
	case mctx == nil:
		return nil, fmt.Errorf("%s: no message context provided: %w", op, ErrInvalidParameter)
	case mctx.InboundMessage == nil:
		return nil, fmt.Errorf("%s: message context carries no inbound message: %w", op, ErrInvalidParameter)
	case mctx.InboundDocument == nil || mctx.InboundDocument.Root() == nil:
		return nil, fmt.Errorf("%s: message context carries no inbound document: %w", op, ErrInvalidParameter)
	}

	if err := v.validateProtocol(mctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	candidates, err := v.assertionCandidates(mctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%s: response carries no assertion: %w", op, ErrValidation)
	}

	accepted, err := v.selectAssertion(mctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	creds, err := v.buildCredentials(mctx, accepted)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return creds, nil
}

// validateProtocol covers the checks that concern the response envelope:
// the response-level signature first, then version, status, issue instant,
// InResponseTo, destination and issuer. The signature check runs first so
// every later check reads content the signature covers.
func (v *ResponseValidator) validateProtocol(mctx *MessageContext) error {
	const op = "saml.ResponseValidator.validateProtocol"

	if err := v.validateResponseSignature(mctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp := mctx.InboundMessage

	if resp.Version != core.SAMLVersion2 {
		return fmt.Errorf("%s: unsupported SAML version %q: %w", op, resp.Version, ErrValidation)
	}

	if !resp.Success() {
		msg := ""
		if resp.Status.StatusMessage != nil {
			msg = resp.Status.StatusMessage.Value
		}
		return fmt.Errorf(
			"%s: response status is not success: %s %s: %w",
			op, resp.GetStatusCode(), msg, ErrValidation,
		)
	}

	if !v.isDateValid(resp.IssueInstant, 0) {
		return fmt.Errorf(
			"%s: response issue instant %s is too old or in the future: %w",
			op, resp.IssueInstant.Format(time.RFC3339), ErrValidation,
		)
	}

	if !v.skipRequestIDValidation && mctx.RequestID != "" {
		if resp.InResponseTo != mctx.RequestID {
			return fmt.Errorf(
				"%s: response InResponseTo %q does not match the request ID %q: %w",
				op, resp.InResponseTo, mctx.RequestID, ErrValidation,
			)
		}
	}

	if resp.Destination != "" && resp.Destination != mctx.AssertionConsumerURL {
		return fmt.Errorf(
			"%s: response destination %q does not match the ACS URL: %w",
			op, resp.Destination, ErrValidation,
		)
	}

	if resp.Issuer != nil {
		if err := v.validateIssuer(resp.Issuer, mctx.PeerEntityID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return nil
}

// validateIssuer checks an issuer against the expected peer entity. Only the
// entity name ID format is acceptable for issuers.
func (v *ResponseValidator) validateIssuer(issuer *core.Issuer, peerEntityID string) error {
	if issuer.Format != "" && issuer.Format != core.NameIDFormatEntity {
		return fmt.Errorf("issuer has an unsupported format %q: %w", issuer.Format, ErrValidation)
	}
	if issuer.Value != peerEntityID {
		return fmt.Errorf(
			"issuer %q does not match the expected identity provider %q: %w",
			issuer.Value, peerEntityID, ErrValidation,
		)
	}
	return nil
}

// validateResponseSignature checks the enveloped signature of the response
// element, if one is present. A trusted response signature authenticates the
// peer for the rest of the validation. On success the context is rebound to
// the validated subtree, so everything downstream reads the exact content
// the signature covers.
func (v *ResponseValidator) validateResponseSignature(mctx *MessageContext) error {
	if v.skipSignatureValidation {
		mctx.PeerAuthenticated = true
		return nil
	}

	if mctx.InboundMessage.Signature == nil {
		return nil
	}

	validated, err := v.trustEngine.ValidateSignature(mctx.InboundDocument.Root(), mctx.PeerEntityID)
	if err != nil {
		return fmt.Errorf("response signature rejected: %w", err)
	}

	var resp core.Response
	if err := unmarshalElement(validated, &resp); err != nil {
		return fmt.Errorf("cannot parse validated response: %s: %w", err, ErrValidation)
	}

	doc := etree.NewDocument()
	doc.SetRoot(validated)

	mctx.InboundMessage = &resp
	mctx.InboundDocument = doc
	mctx.PeerAuthenticated = true

	return nil
}

// assertionCandidates collects the assertions to consider, in document
// order: plaintext assertions first, then whatever encrypted assertions
// could be decrypted. Typed assertions and their DOM elements are paired by
// position, and duplicated assertion IDs are fatal: resolving elements by ID
// would let an injected copy of a signed assertion desync what is verified
// from what is read. The inbound message itself is never modified.
func (v *ResponseValidator) assertionCandidates(mctx *MessageContext) ([]candidateAssertion, error) {
	const op = "saml.ResponseValidator.assertionCandidates"

	root := mctx.InboundDocument.Root()

	var els []*etree.Element
	seen := map[string]bool{}
	for _, child := range root.ChildElements() {
		if child.Tag != "Assertion" {
			continue
		}
		if id := child.SelectAttrValue("ID", ""); id != "" {
			if seen[id] {
				return nil, fmt.Errorf("%s: response carries more than one assertion with ID %q: %w", op, id, ErrValidation)
			}
			seen[id] = true
		}
		els = append(els, child)
	}

	if len(els) != len(mctx.InboundMessage.Assertions) {
		return nil, fmt.Errorf("%s: assertion count differs between document and message: %w", op, ErrValidation)
	}

	var candidates []candidateAssertion
	for i := range mctx.InboundMessage.Assertions {
		candidates = append(candidates, candidateAssertion{
			assertion: &mctx.InboundMessage.Assertions[i],
			el:        els[i],
		})
	}

	if len(mctx.InboundMessage.EncryptedAssertions) == 0 {
		return candidates, nil
	}

	if v.decrypter == nil {
		v.logger.Warn("response carries encrypted assertions but no decryption key is configured, skipping them")
		return candidates, nil
	}

	for _, encrypted := range root.ChildElements() {
		if encrypted.Tag != "EncryptedAssertion" {
			continue
		}

		decrypted, err := v.decrypter.Decrypt(encrypted)
		if err != nil {
			v.logger.Warn("decryption of an encrypted assertion failed, continuing with the next one", "error", err)
			continue
		}

		var a core.Assertion
		if err := unmarshalElement(decrypted, &a); err != nil {
			v.logger.Warn("decrypted assertion cannot be parsed, continuing with the next one", "error", err)
			continue
		}

		if a.ID != "" {
			if seen[a.ID] {
				return nil, fmt.Errorf("%s: response carries more than one assertion with ID %q: %w", op, a.ID, ErrValidation)
			}
			seen[a.ID] = true
		}

		candidates = append(candidates, candidateAssertion{
			assertion: &a,
			el:        decrypted,
			decrypted: true,
		})
	}

	return candidates, nil
}

// selectAssertion tries the candidate assertions in order and returns the
// first one that passes the full per-assertion validation. Failures of
// individual assertions are logged and skipped; only the exhaustion of all
// candidates is fatal.
func (v *ResponseValidator) selectAssertion(mctx *MessageContext, candidates []candidateAssertion) (candidateAssertion, error) {
	const op = "saml.ResponseValidator.selectAssertion"

	for _, cand := range candidates {
		if cand.assertion.Subject == nil {
			v.logger.Debug("assertion carries no subject, continuing with the next one", "assertion_id", cand.assertion.ID)
			continue
		}

		validated, subject, err := v.validateAssertion(mctx, cand)
		if err != nil {
			v.logger.Debug(
				"assertion validation failed, continuing with the next one",
				"assertion_id", cand.assertion.ID,
				"error", err,
			)
			continue
		}

		mctx.SubjectAssertion = validated.assertion
		mctx.SubjectNameID = subject.nameID
		mctx.BaseID = subject.baseID
		mctx.SubjectConfirmations = subject.confirmations

		return validated, nil
	}

	return candidateAssertion{}, fmt.Errorf("%s: no valid subject assertion found in response: %w", op, ErrValidation)
}

// validateAssertion runs every per-assertion check: signature first, then
// issue instant, issuer, subject and Bearer confirmation, conditions and
// audience restriction, authentication statements. After a trusted signature
// the candidate is replaced by the validated subtree, so every later check
// reads the content the signature covers. The possibly-replaced candidate is
// returned alongside the resolved subject.
func (v *ResponseValidator) validateAssertion(mctx *MessageContext, cand candidateAssertion) (candidateAssertion, *resolvedSubject, error) {
	const op = "saml.ResponseValidator.validateAssertion"

	cand, err := v.validateAssertionSignature(mctx, cand)
	if err != nil {
		return cand, nil, fmt.Errorf("%s: %w", op, err)
	}

	a := cand.assertion

	if a.Version != "" && a.Version != core.SAMLVersion2 {
		return cand, nil, fmt.Errorf("%s: unsupported assertion version %q: %w", op, a.Version, ErrValidation)
	}

	if !v.isDateValid(a.IssueInstant, 0) {
		return cand, nil, fmt.Errorf(
			"%s: assertion issue instant %s is too old or in the future: %w",
			op, a.IssueInstant.Format(time.RFC3339), ErrValidation,
		)
	}

	if a.Issuer == nil {
		return cand, nil, fmt.Errorf("%s: assertion carries no issuer: %w", op, ErrValidation)
	}
	if err := v.validateIssuer(a.Issuer, mctx.PeerEntityID); err != nil {
		return cand, nil, fmt.Errorf("%s: %w", op, err)
	}

	if a.Subject == nil {
		return cand, nil, fmt.Errorf("%s: assertion carries no subject: %w", op, ErrValidation)
	}
	subject, err := v.validateSubject(mctx, cand)
	if err != nil {
		return cand, nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := v.validateConditions(mctx, a.Conditions); err != nil {
		return cand, nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := v.validateAuthnStatements(a); err != nil {
		return cand, nil, fmt.Errorf("%s: %w", op, err)
	}

	return cand, subject, nil
}

// validateSubject resolves the subject identity and requires at least one
// Bearer subject confirmation whose confirmation data holds up. An identity
// may come from the subject itself or, failing that, from a confirmed
// Bearer confirmation.
func (v *ResponseValidator) validateSubject(mctx *MessageContext, cand candidateAssertion) (*resolvedSubject, error) {
	const op = "saml.ResponseValidator.validateSubject"

	subject := cand.assertion.Subject

	nameID, baseID, err := v.resolveIdentity(subject.NameID, subject.BaseID, subject.EncryptedID, cand.el, "./Subject/EncryptedID")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var confirmed []core.SubjectConfirmation
	for i, sc := range subject.SubjectConfirmations {
		if sc.Method != core.ConfirmationMethodBearer {
			v.logger.Debug("ignoring subject confirmation with non-Bearer method", "method", sc.Method)
			continue
		}

		if !v.isValidBearerConfirmationData(mctx, sc.SubjectConfirmationData) {
			continue
		}

		if nameID == nil && baseID == nil {
			path := fmt.Sprintf("./Subject/SubjectConfirmation[%d]/EncryptedID", i+1)
			nameID, baseID, err = v.resolveIdentity(sc.NameID, sc.BaseID, sc.EncryptedID, cand.el, path)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}

		confirmed = append(confirmed, sc)
	}

	if len(confirmed) == 0 {
		return nil, fmt.Errorf("%s: subject carries no valid Bearer confirmation: %w", op, ErrValidation)
	}

	if nameID == nil && baseID == nil {
		return nil, fmt.Errorf("%s: subject carries no identifier: %w", op, ErrValidation)
	}

	return &resolvedSubject{
		nameID:        nameID,
		baseID:        baseID,
		confirmations: confirmed,
	}, nil
}

// resolveIdentity picks the subject identifier with decrypted identifiers
// taking precedence over cleartext ones. Failure to decrypt a present
// EncryptedID is fatal for the containing assertion.
func (v *ResponseValidator) resolveIdentity(
	nameID *core.NameID,
	baseID *core.BaseID,
	encryptedID *core.EncryptedID,
	el *etree.Element,
	encryptedIDPath string,
) (*core.NameID, *core.BaseID, error) {
	if encryptedID == nil {
		return nameID, baseID, nil
	}

	if v.decrypter == nil {
		return nil, nil, fmt.Errorf("subject identifier is encrypted but no decryption key is configured: %w", ErrValidation)
	}

	encryptedEl := el.FindElement(encryptedIDPath)
	if encryptedEl == nil {
		return nil, nil, fmt.Errorf("encrypted subject identifier not found in document: %w", ErrValidation)
	}

	decrypted, err := v.decrypter.Decrypt(encryptedEl)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot decrypt subject identifier: %s: %w", err, ErrValidation)
	}

	var decryptedNameID core.NameIDType
	if err := unmarshalElement(decrypted, &decryptedNameID); err != nil {
		return nil, nil, fmt.Errorf("cannot parse decrypted subject identifier: %s: %w", err, ErrValidation)
	}

	return &decryptedNameID, nil, nil
}

// isValidBearerConfirmationData applies the Bearer confirmation rules:
// confirmation data with a NotOnOrAfter still in the window, no NotBefore,
// a recipient naming our ACS endpoint and, when known, an InResponseTo
// matching the request. Invalid data only disqualifies this confirmation.
func (v *ResponseValidator) isValidBearerConfirmationData(mctx *MessageContext, data *core.SubjectConfirmationData) bool {
	if data == nil {
		v.logger.Debug("Bearer confirmation carries no confirmation data")
		return false
	}

	if data.NotBefore != nil {
		v.logger.Debug("Bearer confirmation data must not carry NotBefore")
		return false
	}

	if data.NotOnOrAfter == nil {
		v.logger.Debug("Bearer confirmation data carries no NotOnOrAfter")
		return false
	}
	if !v.clock.Now().Before(data.NotOnOrAfter.Add(v.acceptedClockSkew)) {
		v.logger.Debug("Bearer confirmation data expired", "not_on_or_after", data.NotOnOrAfter)
		return false
	}

	if data.Recipient == "" {
		v.logger.Debug("Bearer confirmation data carries no recipient")
		return false
	}
	if data.Recipient != mctx.AssertionConsumerURL {
		v.logger.Debug(
			"Bearer confirmation data recipient does not match the ACS URL",
			"recipient", data.Recipient,
		)
		return false
	}

	if !v.skipRequestIDValidation && mctx.RequestID != "" && data.InResponseTo != "" {
		if data.InResponseTo != mctx.RequestID {
			v.logger.Debug(
				"Bearer confirmation data InResponseTo does not match the request ID",
				"in_response_to", data.InResponseTo,
			)
			return false
		}
	}

	return true
}

// validateConditions enforces the assertion validity window and the
// audience restrictions. Conditions and at least one audience restriction
// naming this service provider are mandatory.
func (v *ResponseValidator) validateConditions(mctx *MessageContext, conditions *core.Conditions) error {
	const op = "saml.ResponseValidator.validateConditions"

	if conditions == nil {
		return fmt.Errorf("%s: assertion carries no conditions: %w", op, ErrValidation)
	}

	now := v.clock.Now()

	if conditions.NotBefore != nil && now.Before(conditions.NotBefore.Add(-v.acceptedClockSkew)) {
		return fmt.Errorf(
			"%s: assertion is not yet valid, NotBefore is %s: %w",
			op, conditions.NotBefore.Format(time.RFC3339), ErrValidation,
		)
	}

	if conditions.NotOnOrAfter != nil && !now.Before(conditions.NotOnOrAfter.Add(v.acceptedClockSkew)) {
		return fmt.Errorf(
			"%s: assertion expired, NotOnOrAfter is %s: %w",
			op, conditions.NotOnOrAfter.Format(time.RFC3339), ErrValidation,
		)
	}

	if len(conditions.AudienceRestrictions) == 0 {
		return fmt.Errorf("%s: assertion carries no audience restriction: %w", op, ErrValidation)
	}

	// The assertion is acceptable when this service provider appears in
	// any of the restrictions.
	for _, restriction := range conditions.AudienceRestrictions {
		if containsAudience(restriction, mctx.SelfEntityID) {
			return nil
		}
	}

	return fmt.Errorf(
		"%s: no audience restriction includes this service provider %q: %w",
		op, mctx.SelfEntityID, ErrValidation,
	)
}

// containsAudience reports whether the restriction names the given entity.
// Within one restriction the audiences are alternatives.
func containsAudience(restriction core.AudienceRestriction, entityID string) bool {
	for _, audience := range restriction.Audiences {
		if audience == entityID {
			return true
		}
	}
	return false
}

// validateAuthnStatements requires at least one authentication statement
// and bounds both the age of the authentication act and any session expiry.
func (v *ResponseValidator) validateAuthnStatements(a *core.Assertion) error {
	const op = "saml.ResponseValidator.validateAuthnStatements"

	if len(a.AuthnStatements) == 0 {
		return fmt.Errorf("%s: assertion carries no authentication statement: %w", op, ErrValidation)
	}

	for _, stmt := range a.AuthnStatements {
		if !v.isDateValid(stmt.AuthnInstant, v.maxAuthLifetime) {
			return fmt.Errorf(
				"%s: authentication instant %s is too old or in the future: %w",
				op, stmt.AuthnInstant.Format(time.RFC3339), ErrValidation,
			)
		}

		// Session expiry is enforced as stated, with no skew: the IDP
		// already chose the session bound deliberately.
		if stmt.SessionNotOnOrAfter != nil && !v.clock.Now().Before(*stmt.SessionNotOnOrAfter) {
			return fmt.Errorf(
				"%s: authenticated session expired at %s: %w",
				op, stmt.SessionNotOnOrAfter.Format(time.RFC3339), ErrValidation,
			)
		}
	}

	return nil
}

// validateAssertionSignature checks the assertion's own signature, if it
// carries one, and on success returns the candidate rebound to the validated
// subtree. An unsigned assertion is acceptable only if the response itself
// was signed and trusted, or assertions were not required to be signed.
func (v *ResponseValidator) validateAssertionSignature(mctx *MessageContext, cand candidateAssertion) (candidateAssertion, error) {
	const op = "saml.ResponseValidator.validateAssertionSignature"

	if v.skipSignatureValidation {
		return cand, nil
	}

	if cand.assertion.Signature == nil {
		if v.wantAssertionsSigned && !mctx.PeerAuthenticated {
			return cand, fmt.Errorf("%s: assertion or response must be signed: %w", op, ErrValidation)
		}
		return cand, nil
	}

	if cand.el == nil {
		return cand, fmt.Errorf("%s: signed assertion not found in document: %w", op, ErrValidation)
	}

	validated, err := v.trustEngine.ValidateSignature(cand.el, mctx.PeerEntityID)
	if err != nil {
		return cand, fmt.Errorf("%s: assertion signature rejected: %w", op, err)
	}

	var a core.Assertion
	if err := unmarshalElement(validated, &a); err != nil {
		return cand, fmt.Errorf("%s: cannot parse validated assertion: %s: %w", op, err, ErrValidation)
	}

	cand.assertion = &a
	cand.el = validated

	return cand, nil
}

// buildCredentials extracts the credentials from the accepted assertion,
// resolving encrypted attributes where possible. A failed attribute
// decryption drops that attribute only.
func (v *ResponseValidator) buildCredentials(mctx *MessageContext, cand candidateAssertion) (*Credentials, error) {
	const op = "saml.ResponseValidator.buildCredentials"

	a := cand.assertion

	attrs := a.Attributes()
	attrs = append(attrs, v.decryptAttributes(cand)...)

	creds, err := NewCredentials(mctx, a, attrs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return creds, nil
}

// decryptAttributes resolves the encrypted attributes of the accepted
// assertion. Undecryptable attributes are logged and skipped.
func (v *ResponseValidator) decryptAttributes(cand candidateAssertion) []core.Attribute {
	encrypted := countEncryptedAttributes(cand.assertion)
	if encrypted == 0 {
		return nil
	}

	if v.decrypter == nil {
		v.logger.Warn("assertion carries encrypted attributes but no decryption key is configured, skipping them")
		return nil
	}
	if cand.el == nil {
		v.logger.Warn("assertion element not found in document, skipping encrypted attributes")
		return nil
	}

	var attrs []core.Attribute
	for _, encryptedEl := range cand.el.FindElements(".//EncryptedAttribute") {
		decrypted, err := v.decrypter.Decrypt(encryptedEl)
		if err != nil {
			v.logger.Warn("decryption of an attribute failed, skipping it", "error", err)
			continue
		}

		var attr core.Attribute
		if err := unmarshalElement(decrypted, &attr); err != nil {
			v.logger.Warn("decrypted attribute cannot be parsed, skipping it", "error", err)
			continue
		}

		attrs = append(attrs, attr)
	}

	return attrs
}

func countEncryptedAttributes(a *core.Assertion) int {
	n := 0
	for _, stmt := range a.AttributeStatements {
		n += len(stmt.EncryptedAttributes)
	}
	return n
}

// isDateValid reports whether an instant is acceptable now: it must not lie
// further in the future than the accepted clock skew and not further in the
// past than the accepted clock skew plus the given extra window.
func (v *ResponseValidator) isDateValid(instant time.Time, extra time.Duration) bool {
	now := v.clock.Now()
	return instant.Before(now.Add(v.acceptedClockSkew)) &&
		instant.After(now.Add(-(v.acceptedClockSkew + extra)))
}

// unmarshalElement serializes a DOM element and parses it into the given
// typed model.
func unmarshalElement(el *etree.Element, out interface{}) error {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())

	raw, err := doc.WriteToBytes()
	if err != nil {
		return err
	}

	return xml.Unmarshal(raw, out)
}

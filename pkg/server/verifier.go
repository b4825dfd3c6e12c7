/*
2024 © Postgres.ai
*/

package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"gitlab.com/postgres-ai/database-lab/v2/pkg/log"
)

// VerificationSignatureKey is the header carrying the request body signature.
const VerificationSignatureKey = "Verification-Signature"

// Signature scheme version: the header value is "v0=" followed by the hex HMAC-SHA256 of "v0:" + body.
const (
	schemeHeaderPrefix = "v0="
	schemeBodyPrefix   = "v0:"
)

// Verifier admits only requests signed with the shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the shared secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Handler rejects unsigned or wrongly signed lock analysis requests with 403 before they reach h.
func (v *Verifier) Handler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.checkSignature(r); err != nil {
			log.Dbg("Lock probe request rejected:", err.Error())
			w.WriteHeader(http.StatusForbidden)

			return
		}

		h.ServeHTTP(w, r)
	})
}

// checkSignature compares the signature header with the signature of the body.
// The body is restored so the handler can decode it.
func (v *Verifier) checkSignature(r *http.Request) error {
	header := r.Header.Get(VerificationSignatureKey)
	if header == "" {
		return errors.Errorf("missing %s header", VerificationSignatureKey)
	}

	given, err := hex.DecodeString(strings.TrimPrefix(header, schemeHeaderPrefix))
	if err != nil {
		return errors.Wrap(err, "malformed signature")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read the request body")
	}

	r.Body = io.NopCloser(bytes.NewReader(body))

	if !hmac.Equal(given, Sign(v.secret, body)) {
		return errors.New("signature does not match the request body")
	}

	return nil
}

// Sign returns the raw HMAC-SHA256 signature of a request body.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(schemeBodyPrefix)) // nolint: errcheck
	mac.Write(body)                     // nolint: errcheck

	return mac.Sum(nil)
}

// SignatureHeader returns the value of the signature header for a request body.
func SignatureHeader(secret, body []byte) string {
	return schemeHeaderPrefix + hex.EncodeToString(Sign(secret, body))
}

// Package httpsig signs and verifies API requests with the session key of a
// completed SRP handshake.
//
// Every signed request carries three headers:
//
//	Authorization: Signature keyId="<handshake id>",algorithm="hmac-sha256",headers="(request-target) x-sent-at digest",signature="<base64>"
//	Digest: SHA-256=<base64 of body hash>
//	X-Sent-At: <RFC 3339 timestamp>
//
// The signature is HMAC-SHA256 over the draft-cavage signing string:
//
//	(request-target): post /api/secrets?x=1
//	x-sent-at: 2024-05-01T12:00:00.000Z
//	digest: SHA-256=...
//
// Digest, the signing string and the MAC come from github.com/go-fed/httpsig.
// This package pins the parameter set and adds the freshness window.
package httpsig

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
	gofed "github.com/go-fed/httpsig"
)

const (
	// Algorithm is the only accepted signature algorithm.
	Algorithm = "hmac-sha256"
	// SignedHeaders is the exact ordered list of signed components.
	SignedHeaders = "(request-target) x-sent-at digest"

	scheme       = "Signature"
	digestPrefix = string(gofed.DigestSha256) + "="

	// TimeFormat is used by the signer for X-Sent-At.
	TimeFormat = "2006-01-02T15:04:05.000Z07:00"
)

// Failure causes. They are logged by the server but all match
// common.ErrAuthFailed or common.ErrMalformedRequest for the client.
var (
	ErrMalformedAuthorization = fmt.Errorf("%w: malformed authorization header", common.ErrMalformedRequest)
	ErrMalformedDigest        = fmt.Errorf("%w: malformed digest header", common.ErrMalformedRequest)
	ErrMalformedSentAt        = fmt.Errorf("%w: malformed x-sent-at header", common.ErrMalformedRequest)
	ErrMissingHeaders         = fmt.Errorf("%w: incomplete signature headers", common.ErrMalformedRequest)

	ErrDigestMismatch    = fmt.Errorf("%w: digest mismatch", common.ErrAuthFailed)
	ErrFromFuture        = fmt.Errorf("%w: timestamp too far in the future", common.ErrAuthFailed)
	ErrExpired           = fmt.Errorf("%w: timestamp too old", common.ErrAuthFailed)
	ErrUnknownSession    = fmt.Errorf("%w: unknown or incomplete handshake", common.ErrAuthFailed)
	ErrSessionExpired    = fmt.Errorf("%w: session expired", common.ErrAuthFailed)
	ErrSignatureMismatch = fmt.Errorf("%w: signature mismatch", common.ErrAuthFailed)
)

// signedHeaders is SignedHeaders in the form go-fed takes.
var signedHeaders = strings.Fields(SignedHeaders)

// Identity is the authenticated caller of a request.
type Identity struct {
	AccountID   string
	HandshakeID string
}

// Digest returns the Digest header value for body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return digestPrefix + base64.StdEncoding.EncodeToString(sum[:])
}

// Authorization is a parsed Authorization header.
type Authorization struct {
	KeyID     string
	Signature []byte
}

// ParseAuthorization parses and validates the Authorization header. The
// algorithm and header list must match exactly.
func ParseAuthorization(value string) (*Authorization, error) {
	rest, ok := strings.CutPrefix(value, scheme+" ")
	if !ok {
		return nil, ErrMalformedAuthorization
	}

	params := make(map[string]string, 4)
	for rest != "" {
		name, after, ok := strings.Cut(rest, `="`)
		if !ok {
			return nil, ErrMalformedAuthorization
		}
		val, after, ok := strings.Cut(after, `"`)
		if !ok {
			return nil, ErrMalformedAuthorization
		}
		name = strings.TrimSpace(name)
		if _, dup := params[name]; dup || name == "" {
			return nil, ErrMalformedAuthorization
		}
		params[name] = val

		after = strings.TrimSpace(after)
		if after == "" {
			break
		}
		rest, ok = strings.CutPrefix(after, ",")
		if !ok {
			return nil, ErrMalformedAuthorization
		}
	}

	if len(params) != 4 || params["keyId"] == "" ||
		params["algorithm"] != Algorithm || params["headers"] != SignedHeaders {
		return nil, ErrMalformedAuthorization
	}
	sig, err := base64.StdEncoding.DecodeString(params["signature"])
	if err != nil || len(sig) != sha256.Size {
		return nil, ErrMalformedAuthorization
	}
	return &Authorization{KeyID: params["keyId"], Signature: sig}, nil
}

// ParseSentAt parses an X-Sent-At value. The value must be ISO-8601 with a
// literal "T" separator and an offset.
func ParseSentAt(value string) (time.Time, error) {
	if !strings.Contains(value, "T") {
		return time.Time{}, ErrMalformedSentAt
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, ErrMalformedSentAt
	}
	return t, nil
}

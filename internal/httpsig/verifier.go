package httpsig

import (
	"bytes"
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
	gofed "github.com/go-fed/httpsig"
)

// Session is what the verifier needs to know about a completed handshake.
type Session struct {
	AccountID   string
	Key         []byte
	CompletedAt time.Time
}

// SessionStore resolves a handshake id to its session. Implementations return
// common.ErrNotFound when the handshake is missing or not completed.
type SessionStore interface {
	Session(ctx context.Context, handshakeID string) (*Session, error)
}

// Config bounds request freshness and session lifetime.
type Config struct {
	// MaxClockAhead is how far in the future X-Sent-At may be.
	MaxClockAhead time.Duration
	// MaxClockBehind is how far in the past X-Sent-At may be.
	MaxClockBehind time.Duration
	// SessionTTL limits session age; zero disables the check.
	SessionTTL time.Duration
}

// DefaultConfig is the stock freshness window.
var DefaultConfig = Config{
	MaxClockAhead:  15 * time.Minute,
	MaxClockBehind: 30 * time.Second,
}

// Verifier authenticates incoming requests.
type Verifier struct {
	store SessionStore
	cfg   Config
	now   func() time.Time
}

// NewVerifier returns a verifier backed by store.
func NewVerifier(store SessionStore, cfg Config) *Verifier {
	return &Verifier{store: store, cfg: cfg, now: time.Now}
}

// Verify checks the signature headers of r. It returns (nil, nil) when the
// request carries none of them. The body is read and replaced so handlers
// can read it again.
func (v *Verifier) Verify(r *http.Request) (*Identity, error) {
	authz := r.Header.Get(common.AuthorizationHeader)
	digest := r.Header.Get(common.DigestHeader)
	sentAtRaw := r.Header.Get(common.SentAtHeader)

	if authz == "" && digest == "" && sentAtRaw == "" {
		return nil, nil
	}
	if authz == "" || digest == "" || sentAtRaw == "" {
		return nil, ErrMissingHeaders
	}

	auth, err := ParseAuthorization(authz)
	if err != nil {
		return nil, err
	}
	if len(digest) <= len(digestPrefix) || digest[:len(digestPrefix)] != digestPrefix {
		return nil, ErrMalformedDigest
	}
	sentAt, err := ParseSentAt(sentAtRaw)
	if err != nil {
		return nil, err
	}

	body, err := readBody(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrMalformedRequest, err)
	}
	if !hmac.Equal([]byte(Digest(body)), []byte(digest)) {
		return nil, ErrDigestMismatch
	}

	now := v.now()
	if sentAt.After(now.Add(v.cfg.MaxClockAhead)) {
		return nil, ErrFromFuture
	}
	if sentAt.Before(now.Add(-v.cfg.MaxClockBehind)) {
		return nil, ErrExpired
	}

	sess, err := v.store.Session(r.Context(), auth.KeyID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, ErrUnknownSession
		}
		return nil, err
	}
	if len(sess.Key) == 0 {
		return nil, ErrUnknownSession
	}
	if v.cfg.SessionTTL > 0 && now.Sub(sess.CompletedAt) > v.cfg.SessionTTL {
		return nil, ErrSessionExpired
	}

	if err := verifyMAC(r, auth.KeyID, sess.Key); err != nil {
		return nil, err
	}

	return &Identity{AccountID: sess.AccountID, HandshakeID: auth.KeyID}, nil
}

// verifyMAC checks the HMAC over the signing string rebuilt from r.
func verifyMAC(r *http.Request, keyID string, key []byte) error {
	gv, err := gofed.NewVerifier(r)
	if err != nil || gv.KeyId() != keyID {
		return ErrMalformedAuthorization
	}
	if err := gv.Verify(key, gofed.HMAC_SHA256); err != nil {
		return ErrSignatureMismatch
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

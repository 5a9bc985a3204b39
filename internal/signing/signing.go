// Package signing signs and verifies the scheduler's trigger requests with an
// HMAC over the request target and an expiry.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Header names carrying the signature on trigger requests.
const (
	HeaderExpires   = "X-Cron-Expires"
	HeaderSignature = "X-Cron-Signature"
)

// Target is the signed part of a request URL: the path plus the raw query
// when one is present.
func Target(u *url.URL) string {
	if u.RawQuery == "" {
		return u.Path
	}
	return u.Path + "?" + u.RawQuery
}

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex signature for a path expiring at expiresUnix.
func (s *Signer) Sign(path string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	payload := fmt.Sprintf("%s:%d", path, expiresUnix)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignFor signs path for ttl from now and returns the expiry header value and
// the signature.
func (s *Signer) SignFor(path string, ttl time.Duration) (expires, signature string) {
	exp := s.now().Add(ttl).Unix()
	return strconv.FormatInt(exp, 10), s.Sign(path, exp)
}

// Validate checks signature for path and rejects expired requests.
func (s *Signer) Validate(path, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	if s.now().Unix() > exp {
		return false
	}
	expected := s.Sign(path, exp)
	// constant-time comparison
	return hmac.Equal([]byte(expected), []byte(signature))
}

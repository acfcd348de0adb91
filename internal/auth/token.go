// Package auth signs the short-lived tokens that bind a browser websocket to
// one dialogue session.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenFormat = errors.New("invalid token format")
	ErrTokenSig    = errors.New("invalid token signature")
	ErrTokenExp    = errors.New("token expired")
	ErrTokenSID    = errors.New("session id mismatch")
	ErrNoSecret    = errors.New("token secret not configured")
)

// GenerateSessionToken builds a token for sessionID valid until expUnix.
// Format: base64url(session_id + "." + exp_unix + "." + hex(hmac_sha256(secret, session_id+"."+exp)))
func GenerateSessionToken(secret, sessionID string, expUnix int64) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	msg := sessionID + "." + strconv.FormatInt(expUnix, 10)
	raw := msg + "." + hex.EncodeToString(sign(secret, msg))
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// ValidateSessionToken checks signature, session and expiry (with skew
// tolerance) and returns the embedded session id and expiry.
func ValidateSessionToken(secret, token, expectSessionID string, now time.Time, skew time.Duration) (string, int64, error) {
	if secret == "" {
		return "", 0, ErrNoSecret
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	// Session ids never contain dots, so the last two dots split the fields.
	parts := strings.Split(string(b), ".")
	if len(parts) != 3 {
		return "", 0, ErrTokenFormat
	}
	sid, expStr, sigHex := parts[0], parts[1], parts[2]
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	if !hmac.Equal(sign(secret, sid+"."+expStr), got) {
		return "", 0, ErrTokenSig
	}
	if expectSessionID != "" && sid != expectSessionID {
		return "", 0, ErrTokenSID
	}
	if now.After(time.Unix(exp, 0).Add(skew)) {
		return "", 0, ErrTokenExp
	}
	return sid, exp, nil
}

func sign(secret, msg string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

// Signer issues and verifies tokens with fixed settings.
type Signer struct {
	secret string
	ttl    time.Duration
	skew   time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl, skew time.Duration) *Signer {
	return &Signer{secret: secret, ttl: ttl, skew: skew, now: time.Now}
}

func (s *Signer) Enabled() bool { return s != nil && s.secret != "" }

func (s *Signer) Issue(sessionID string) (string, time.Time, error) {
	exp := s.now().Add(s.ttl).Truncate(time.Second)
	tok, err := GenerateSessionToken(s.secret, sessionID, exp.Unix())
	return tok, exp, err
}

func (s *Signer) Verify(token, sessionID string) error {
	_, _, err := ValidateSessionToken(s.secret, token, sessionID, s.now(), s.skew)
	return err
}

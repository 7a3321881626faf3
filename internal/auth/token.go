// Package auth mints and validates the short-lived tokens that gate
// the voice stream. Optional: with no secret configured the stream is
// open, which is the local development default.
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
)

// GenerateSessionToken builds a stream token bound to a session id.
// Format: base64url(session_id + "." + exp_unix + "." + hex(hmac_sha256(secret, session_id+"."+exp)))
func GenerateSessionToken(secret, sessionID string, expUnix int64) string {
	msg := sessionID + "." + strconv.FormatInt(expUnix, 10)
	raw := msg + "." + signature(secret, msg)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ValidateSessionToken checks signature and expiry. When
// expectSessionID is empty the embedded session id is accepted as-is
// and returned, letting the caller adopt it.
func ValidateSessionToken(secret, token, expectSessionID string, now time.Time, skewSeconds int) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrTokenFormat
	}
	parts := strings.Split(string(b), ".")
	if len(parts) != 3 {
		return "", ErrTokenFormat
	}
	sid, expStr, sigHex := parts[0], parts[1], parts[2]

	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", ErrTokenFormat
	}
	if expectSessionID != "" && sid != expectSessionID {
		return "", ErrTokenSID
	}

	want := signature(secret, sid+"."+expStr)
	wantRaw, _ := hex.DecodeString(want)
	gotRaw, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", ErrTokenFormat
	}
	if !hmac.Equal(wantRaw, gotRaw) {
		return "", ErrTokenSig
	}

	if now.Unix() > exp+int64(skewSeconds) {
		return "", ErrTokenExp
	}
	return sid, nil
}

func signature(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

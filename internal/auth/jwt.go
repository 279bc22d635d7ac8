package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// ParseJWTClaims decodes the payload segment of a JWT without verifying the signature.
func ParseJWTClaims(token string) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidJWT
	}
	payload := parts[1]
	// Add base64url padding
	if m := len(payload) % 4; m != 0 {
		payload += strings.Repeat("=", 4-m)
	}
	data, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	var claims map[string]any
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// JWTExpiry returns the exp claim of token as a time.
func JWTExpiry(token string) (time.Time, error) {
	claims, err := ParseJWTClaims(token)
	if err != nil {
		return time.Time{}, err
	}
	switch v := claims["exp"].(type) {
	case float64:
		return time.Unix(int64(v), 0), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, ErrNoExpiry
		}
		return time.Unix(n, 0), nil
	default:
		return time.Time{}, ErrNoExpiry
	}
}

// CheckJWT reports whether token looks like a JWT that has not expired at now.
// Qwen web tokens are JWTs, but the upstream is the final authority, so callers
// only warn on failure.
func CheckJWT(token string, now time.Time) error {
	exp, err := JWTExpiry(token)
	if err != nil {
		return err
	}
	if !exp.After(now) {
		return ErrTokenExpire
	}
	return nil
}

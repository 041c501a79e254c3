package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrAuth reports a missing, unverifiable or expired identity proof. The
// connection or request carrying it is terminated without retry.
var ErrAuth = errors.New("authentication failed")

// ErrForbidden reports a valid identity that is not a participant of the
// target chat.
var ErrForbidden = errors.New("not a participant")

// Token format: <userID>.<expiresUnix>.<hex hmac-sha256(userID.expiresUnix)>.
// The same HMAC construction the REST signature headers use, folded into a
// single opaque bearer string so websocket handshakes can carry it in one
// query parameter.

// MintToken signs a token for userID valid for ttl using the first secret.
func MintToken(userID string, ttl time.Duration, secrets []string) (string, error) {
	if userID == "" || strings.Contains(userID, ".") {
		return "", fmt.Errorf("invalid user id for token")
	}
	if len(secrets) == 0 || secrets[0] == "" {
		return "", fmt.Errorf("no signing secret configured")
	}
	exp := time.Now().Add(ttl).Unix()
	payload := userID + "." + strconv.FormatInt(exp, 10)
	return payload + "." + sign(payload, secrets[0]), nil
}

// VerifyToken validates the token against every configured secret and
// returns the embedded user id. All failures map to ErrAuth.
func VerifyToken(token string, secrets []string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: malformed token", ErrAuth)
	}
	userID, expStr, sig := parts[0], parts[1], parts[2]
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: malformed expiry", ErrAuth)
	}
	if time.Now().Unix() >= exp {
		return "", fmt.Errorf("%w: token expired", ErrAuth)
	}
	payload := userID + "." + expStr
	for _, s := range secrets {
		if s == "" {
			continue
		}
		if hmac.Equal([]byte(sign(payload, s)), []byte(sig)) {
			return userID, nil
		}
	}
	return "", fmt.Errorf("%w: invalid signature", ErrAuth)
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

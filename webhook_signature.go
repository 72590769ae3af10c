package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignWebhook returns the hex HMAC-SHA256 of body
func SignWebhook(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature compares signature with the HMAC of body in
// constant time. A "sha256=" prefix is accepted.
func VerifyWebhookSignature(secret, body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return ErrWebhookSignature
	}

	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return ErrWebhookSignature
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrWebhookSignature
	}
	return nil
}

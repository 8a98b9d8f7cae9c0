package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Sign returns the hex-encoded HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}
	return hex.EncodeToString(mac(secret, payload)), nil
}

// Verify checks that signature is the hex HMAC-SHA256 of payload under secret.
func Verify(secret string, payload []byte, signature string) error {
	if secret == "" {
		return ErrMissingSecret
	}
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}

	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return errors.Join(ErrMalformedEncoding, err)
	}

	if !hmac.Equal(mac(secret, payload), got) {
		return ErrInvalidSignature
	}
	return nil
}

func mac(secret string, payload []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return h.Sum(nil)
}

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the raw request
// body, keyed with the shared webhook secret.
const SignatureHeader = "X-Veilmail-Signature"

// rawBodyCtxKey is the gin context key under which the middleware stores
// the verified request body for the handler.
const rawBodyCtxKey = "raw_body"

// maxPayloadBytes bounds the webhook body read.
const maxPayloadBytes = 1 << 20

// Sign computes the hex-encoded HMAC-SHA256 signature senders must place
// in the signature header. It is the inverse of Verify.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signatureHex is a valid HMAC-SHA256 signature of
// payload under secret. It returns false, never panics, for empty inputs,
// non-hex signatures, or length mismatches, and compares the decoded
// bytes in constant time so the check leaks nothing about where a forged
// signature first diverges.
func Verify(payload []byte, signatureHex, secret string) bool {
	if len(payload) == 0 || secret == "" {
		return false
	}

	signatureHex = strings.ToLower(strings.TrimSpace(signatureHex))
	if signatureHex == "" {
		return false
	}

	provided, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	if len(provided) != len(expected) {
		return false
	}
	return hmac.Equal(expected, provided)
}

// SignatureMiddleware reads the request body, verifies the signature
// header against it, and stashes the raw bytes in the context for the
// handler. A missing header and an invalid signature produce the same
// 401 so callers cannot probe which check failed.
func SignatureMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}

		if !Verify(body, c.GetHeader(SignatureHeader), secret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(rawBodyCtxKey, body)
		c.Next()
	}
}

// RawBody returns the verified request body stored by SignatureMiddleware.
func RawBody(c *gin.Context) []byte {
	v, _ := c.Get(rawBodyCtxKey)
	b, _ := v.([]byte)
	return b
}

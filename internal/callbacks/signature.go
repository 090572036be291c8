package callbacks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Headers attached to every status report callback.
const (
	HeaderSignature         = "X-Callback-Signature"
	HeaderTimestamp         = "X-Callback-Timestamp"
	HeaderUETR              = "X-UETR"
	HeaderMessageType       = "X-Message-Type"
	HeaderTransactionStatus = "X-Transaction-Status"
	HeaderVersion           = "X-Callback-Version"
)

// SignatureVersion is the value of X-Callback-Version for this scheme.
const SignatureVersion = "1"

// Sign computes the callback signature for the given secret and signed
// fields. The signed string is "<timestamp>:<uetr>:<body>" and the result
// is the base64 encoding of its HMAC-SHA256 digest.
func Sign(secret, timestamp, uetr string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(":"))
	mac.Write([]byte(uetr))
	mac.Write([]byte(":"))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the digest a receiver
// should expect for the given secret and signed fields. The comparison is
// constant time.
func VerifySignature(secret, timestamp, uetr string, body []byte, signature string) bool {
	expected := Sign(secret, timestamp, uetr, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"sort"
	"strings"
)

// Signer implements the canonical-string HMAC scheme both providers use:
// drop empty values, sort keys bytewise, join as k=v&k=v, hex HMAC.
type Signer struct {
	newHash func() hash.Hash
	// encode is applied to keys and values before joining.
	encode func(string) string
}

func NewSHA256Signer() Signer {
	return Signer{newHash: sha256.New, encode: identity}
}

func NewSHA512Signer(encode func(string) string) Signer {
	if encode == nil {
		encode = identity
	}
	return Signer{newHash: sha512.New, encode: encode}
}

func identity(s string) string { return s }

// Canonical returns the string that gets signed.
func (s Signer) Canonical(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(s.encode(k))
		b.WriteByte('=')
		b.WriteString(s.encode(params[k]))
	}
	return b.String()
}

func (s Signer) Sign(params map[string]string, secret string) string {
	return s.SignString(s.Canonical(params), secret)
}

func (s Signer) SignString(data, secret string) string {
	mac := hmac.New(s.newHash, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over params and compares it in constant
// time. Hex case is ignored.
func (s Signer) Verify(params map[string]string, secret, signature string) bool {
	if signature == "" {
		return false
	}
	expected := s.Sign(params, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

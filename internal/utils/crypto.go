// internal/utils/crypto.go
package utils

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// GenerateRedeemToken returns 24 random bytes as lowercase hex.
func GenerateRedeemToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func HashString(input string) string {
	hasher := sha256.New()
	hasher.Write([]byte(input))
	return hex.EncodeToString(hasher.Sum(nil))
}

// Fingerprint is a short, non-reversible identifier for a secret.
func Fingerprint(secret string) string {
	return HashString(secret)[:16]
}

func SignHMAC(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature accepts a hex HMAC-SHA256 computed either over the
// key-sorted canonical JSON of body or over the raw bytes.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	incoming := strings.ToLower(strings.TrimSpace(signature))
	if secret == "" || incoming == "" {
		return false
	}

	rawMatch := safeEqualHex(incoming, SignHMAC(secret, body))

	sortedMatch := false
	if canonical, err := StableStringify(body); err == nil {
		sortedMatch = safeEqualHex(incoming, SignHMAC(secret, []byte(canonical)))
	}

	return rawMatch || sortedMatch
}

func safeEqualHex(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StableStringify re-serializes a JSON document with object keys sorted and
// ", " / ": " separators.
func StableStringify(body []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := writeStable(&sb, value); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writeStable(sb *strings.Builder, value interface{}) error {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			if err := writeJSONString(sb, k); err != nil {
				return err
			}
			sb.WriteString(": ")
			if err := writeStable(sb, v[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case []interface{}:
		sb.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				sb.WriteString(", ")
			}
			if err := writeStable(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return err
		}
		sb.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	case string:
		return writeJSONString(sb, v)
	case bool:
		sb.WriteString(strconv.FormatBool(v))
	case nil:
		sb.WriteString("null")
	}
	return nil
}

func writeJSONString(sb *strings.Builder, s string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	sb.Write(bytes.TrimRight(buf.Bytes(), "\n"))
	return nil
}

package activation

import (
	"encoding/json"
	"strings"

	"github.com/javajoker/keyshop-backend/internal/utils"
)

// Token kinds recorded alongside the fingerprint.
const (
	KindRaw          = "raw"
	KindSessionToken = "json_sessionToken"
	KindAccessToken  = "json_accessToken"
	KindToken        = "json_token"
	KindJSONUnknown  = "json_unknown"
)

// Credential is a normalized customer token. Value must never be logged or
// persisted; only Fingerprint is.
type Credential struct {
	Value       string
	Kind        string
	Fingerprint string
}

// NormalizeToken accepts either a raw token or a JSON session blob. For JSON,
// sessionToken wins over accessToken, which wins over token. JSON without any
// of them is passed through as is.
func NormalizeToken(input string, maxLength int) (*Credential, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return nil, utils.Validation("Token is required")
	}

	value, kind := raw, KindRaw
	if strings.HasPrefix(raw, "{") {
		value, kind = raw, KindJSONUnknown

		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			for _, field := range []struct{ name, kind string }{
				{"sessionToken", KindSessionToken},
				{"accessToken", KindAccessToken},
				{"token", KindToken},
			} {
				if s, ok := parsed[field.name].(string); ok && strings.TrimSpace(s) != "" {
					value, kind = strings.TrimSpace(s), field.kind
					break
				}
			}
		}
	}

	if maxLength > 0 && len(value) > maxLength {
		return nil, utils.Validation("Token is too long")
	}

	return &Credential{
		Value:       value,
		Kind:        kind,
		Fingerprint: utils.Fingerprint(value),
	}, nil
}

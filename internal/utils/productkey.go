// internal/utils/productkey.go
package utils

import (
	"regexp"
	"strings"
)

var (
	nonPoolChars = regexp.MustCompile(`[^a-z0-9-]`)
	dashRuns     = regexp.MustCompile(`-+`)
	codeSplitter = regexp.MustCompile(`[\r\n,;\s]+`)
)

// pool families, longest prefix first
var poolFamilies = []string{"chatgpt-plus", "chatgpt-go", "chatgpt"}

func normalizeProductKey(value string) string {
	key := strings.ToLower(strings.TrimSpace(value))
	key = nonPoolChars.ReplaceAllString(key, "-")
	key = dashRuns.ReplaceAllString(key, "-")
	return strings.Trim(key, "-")
}

// CanonicalProductKey maps a product slug onto the pool it draws keys from,
// e.g. "chatgpt-plus-1m" draws from "chatgpt-plus".
func CanonicalProductKey(value string) string {
	key := normalizeProductKey(value)
	if key == "" {
		return ""
	}
	for _, family := range poolFamilies {
		if key == family || strings.HasPrefix(key, family+"-") {
			return family
		}
	}
	return key
}

func NormalizeKeyCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeKeyCodes normalizes and deduplicates codes, preserving first-seen order.
func NormalizeKeyCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		normalized := NormalizeKeyCode(code)
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

// SplitKeyCodes splits bulk import text on newlines, commas, semicolons and whitespace.
func SplitKeyCodes(text string) []string {
	var out []string
	for _, part := range codeSplitter.Split(text, -1) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

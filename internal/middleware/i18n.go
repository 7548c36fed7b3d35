// internal/middleware/i18n.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/keyshop-backend/internal/i18n"
)

// I18nMiddleware picks the response language from ?lang= or Accept-Language.
func I18nMiddleware(defaultLang string) gin.HandlerFunc {
	if defaultLang == "" {
		defaultLang = "en"
	}
	return func(c *gin.Context) {
		lang := c.Query("lang")
		if lang == "" {
			lang = c.GetHeader("Accept-Language")
		}
		c.Set("lang", resolveLang(lang, defaultLang))
		c.Next()
	}
}

func resolveLang(header, defaultLang string) string {
	if header == "" {
		return defaultLang
	}

	// Handle cases like "ru-RU,ru;q=0.9,en;q=0.8"
	for _, part := range strings.Split(header, ",") {
		tag := strings.ToLower(strings.TrimSpace(strings.Split(part, ";")[0]))
		if tag == "" {
			continue
		}
		base := strings.SplitN(strings.ReplaceAll(tag, "_", "-"), "-", 2)[0]
		if i18n.IsSupported(base) {
			return base
		}
	}
	return defaultLang
}

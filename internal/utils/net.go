// internal/utils/net.go
package utils

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientIP is gin's client address with the IPv4-mapped prefix removed.
// Forwarding headers count only when the peer is a trusted proxy of the engine.
func ClientIP(c *gin.Context) string {
	return strings.TrimPrefix(c.ClientIP(), "::ffff:")
}

func IsLoopback(ip string) bool {
	switch ip {
	case "127.0.0.1", "::1", "localhost":
		return true
	}
	return false
}

func MaskEmail(email string) string {
	value := strings.TrimSpace(email)
	at := strings.Index(value, "@")
	if at <= 0 {
		return "***"
	}
	local, domain := value[:at], value[at:]
	if len(local) <= 2 {
		return local[:1] + "***" + domain
	}
	return local[:1] + "***" + local[len(local)-1:] + domain
}

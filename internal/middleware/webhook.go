// internal/middleware/webhook.go
package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

const maxWebhookBody = 1 << 20

// signature headers tried after the configured one
var fallbackSignatureHeaders = []string{
	"x-api-sha256-signature",
	"x-signature",
	"x-webhook-signature",
}

// WebhookIPAllowlist admits only listed client IPs. With an empty list,
// production rejects everything and other environments let traffic through.
func WebhookIPAllowlist(cfg config.PaymentConfig, production bool) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(cfg.WebhookIPAllowlist))
	for _, ip := range cfg.WebhookIPAllowlist {
		allowed[strings.TrimPrefix(strings.TrimSpace(ip), "::ffff:")] = struct{}{}
	}

	return func(c *gin.Context) {
		ip := utils.ClientIP(c)
		if len(allowed) == 0 {
			if production {
				logrus.WithField("ip", ip).Warn("Webhook rejected: no IP allowlist configured")
				abortAuth(c, "Webhook source is not allowed")
				return
			}
			c.Next()
			return
		}
		if _, ok := allowed[ip]; !ok {
			logrus.WithField("ip", ip).Warn("Webhook rejected: IP not allowlisted")
			abortAuth(c, "Webhook source is not allowed")
			return
		}
		c.Next()
	}
}

// WebhookSignature checks the HMAC-SHA256 signature over the raw body and
// puts the body back for the handler.
func WebhookSignature(cfg config.PaymentConfig, production bool) gin.HandlerFunc {
	headers := []string{cfg.SignatureHeader}
	for _, h := range fallbackSignatureHeaders {
		if !strings.EqualFold(h, cfg.SignatureHeader) {
			headers = append(headers, h)
		}
	}

	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
		if err != nil {
			utils.RespondError(c, utils.Validation("Unable to read webhook body"))
			c.Abort()
			return
		}
		if len(body) > maxWebhookBody {
			utils.ErrorResponse(c, http.StatusRequestEntityTooLarge, string(utils.KindValidation), "Webhook body is too large", nil)
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if cfg.WebhookSecret == "" {
			if production {
				abortAuth(c, "Webhook signature cannot be verified")
				return
			}
			logrus.Warn("Webhook secret is not configured, skipping signature check")
			c.Next()
			return
		}

		signature := ""
		for _, h := range headers {
			if signature = strings.TrimSpace(c.GetHeader(h)); signature != "" {
				break
			}
		}
		if signature == "" {
			abortAuth(c, "Missing webhook signature")
			return
		}
		if !utils.VerifyWebhookSignature(cfg.WebhookSecret, body, signature) {
			logrus.WithField("ip", utils.ClientIP(c)).Warn("Webhook rejected: invalid signature")
			abortAuth(c, "Invalid webhook signature")
			return
		}

		c.Next()
	}
}

func abortAuth(c *gin.Context, message string) {
	utils.RespondError(c, utils.Auth(message))
	c.Abort()
}

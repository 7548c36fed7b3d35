package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/i18n"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

const webhookSecret = "whsec_test"

func init() {
	gin.SetMode(gin.TestMode)
}

func webhookRouter(cfg config.PaymentConfig, production bool, trusted ...string) *gin.Engine {
	r := gin.New()
	if len(trusted) == 0 {
		trusted = nil
	}
	if err := r.SetTrustedProxies(trusted); err != nil {
		panic(err)
	}
	r.POST("/hook", WebhookIPAllowlist(cfg, production), WebhookSignature(cfg, production), func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.Data(http.StatusOK, "application/json", body)
	})
	return r
}

func postHook(r *gin.Engine, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.7:5555"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp utils.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestWebhookSignatureRawBody(t *testing.T) {
	cfg := config.PaymentConfig{WebhookSecret: webhookSecret, SignatureHeader: "x-api-sha256-signature"}
	r := webhookRouter(cfg, false)
	body := []byte(`{"status":"success","order_id":"o-1","amount":19.99}`)

	w := postHook(r, body, map[string]string{"x-api-sha256-signature": utils.SignHMAC(webhookSecret, body)})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, w.Body.Bytes())
}

func TestWebhookSignatureCanonicalJSON(t *testing.T) {
	cfg := config.PaymentConfig{WebhookSecret: webhookSecret, SignatureHeader: "x-api-sha256-signature"}
	r := webhookRouter(cfg, false)
	body := []byte(`{"status":"success","amount":19.99,"order_id":"o-1"}`)
	canonical, err := utils.StableStringify(body)
	require.NoError(t, err)

	w := postHook(r, body, map[string]string{"X-Signature": utils.SignHMAC(webhookSecret, []byte(canonical))})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookSignatureRejected(t *testing.T) {
	cfg := config.PaymentConfig{WebhookSecret: webhookSecret, SignatureHeader: "x-api-sha256-signature"}
	r := webhookRouter(cfg, false)
	body := []byte(`{"status":"success"}`)

	w := postHook(r, body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_ERROR", errorCode(t, w))

	w = postHook(r, body, map[string]string{"x-api-sha256-signature": utils.SignHMAC("other", body)})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookWithoutSecret(t *testing.T) {
	body := []byte(`{"status":"success"}`)

	w := postHook(webhookRouter(config.PaymentConfig{}, false), body, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = postHook(webhookRouter(config.PaymentConfig{WebhookIPAllowlist: []string{"203.0.113.7"}}, true), body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookIPAllowlist(t *testing.T) {
	body := []byte(`{"status":"success"}`)
	sig := map[string]string{"x-api-sha256-signature": utils.SignHMAC(webhookSecret, body)}

	allowed := config.PaymentConfig{
		WebhookSecret:      webhookSecret,
		SignatureHeader:    "x-api-sha256-signature",
		WebhookIPAllowlist: []string{"203.0.113.7"},
	}
	assert.Equal(t, http.StatusOK, postHook(webhookRouter(allowed, true), body, sig).Code)

	other := allowed
	other.WebhookIPAllowlist = []string{"198.51.100.1"}
	assert.Equal(t, http.StatusUnauthorized, postHook(webhookRouter(other, true), body, sig).Code)

	forwarded := map[string]string{
		"x-api-sha256-signature": sig["x-api-sha256-signature"],
		"X-Forwarded-For":        "::ffff:198.51.100.1, 10.0.0.1",
	}
	behindProxy := webhookRouter(other, true, "203.0.113.7", "10.0.0.1")
	assert.Equal(t, http.StatusOK, postHook(behindProxy, body, forwarded).Code)
}

func TestWebhookIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	body := []byte(`{"status":"success"}`)
	cfg := config.PaymentConfig{
		WebhookSecret:      webhookSecret,
		SignatureHeader:    "x-api-sha256-signature",
		WebhookIPAllowlist: []string{"198.51.100.10"},
	}
	forged := map[string]string{
		"x-api-sha256-signature": utils.SignHMAC(webhookSecret, body),
		"X-Forwarded-For":        "198.51.100.10",
	}

	w := postHook(webhookRouter(cfg, true), body, forged)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_ERROR", errorCode(t, w))

	// trusting other proxies does not extend to this peer
	w = postHook(webhookRouter(cfg, true, "10.0.0.0/8"), body, forged)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookFailsClosedInProduction(t *testing.T) {
	body := []byte(`{"status":"success"}`)
	cfg := config.PaymentConfig{WebhookSecret: webhookSecret, SignatureHeader: "x-api-sha256-signature"}
	sig := map[string]string{"x-api-sha256-signature": utils.SignHMAC(webhookSecret, body)}

	assert.Equal(t, http.StatusUnauthorized, postHook(webhookRouter(cfg, true), body, sig).Code)
	assert.Equal(t, http.StatusOK, postHook(webhookRouter(cfg, false), body, sig).Code)
}

func TestAdminAuth(t *testing.T) {
	require.NoError(t, i18n.Initialize("", "en"))
	utils.SetJWTSecret("middleware-test-secret")

	r := gin.New()
	r.Use(I18nMiddleware("en"))
	r.GET("/admin", AuthRequired(), AdminRequired(), func(c *gin.Context) {
		id, _ := utils.GetUserIDFromContext(c)
		c.String(http.StatusOK, id)
	})

	call := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Token abc").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer not-a-jwt").Code)

	support, err := utils.GenerateJWT("u-2", "support@example.com", "support", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, call("Bearer "+support).Code)

	admin, err := utils.GenerateJWT("u-1", "admin@example.com", utils.RoleAdmin, time.Hour)
	require.NoError(t, err)
	w := call("Bearer " + admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-1", w.Body.String())
}

func TestResolveLang(t *testing.T) {
	require.NoError(t, i18n.Initialize("", "en"))

	assert.Equal(t, "ru", resolveLang("ru-RU,ru;q=0.9,en;q=0.8", "en"))
	assert.Equal(t, "en", resolveLang("de-DE,en;q=0.5", "ru"))
	assert.Equal(t, "ru", resolveLang("", "ru"))
	assert.Equal(t, "en", resolveLang("zh-TW", "en"))
}

func TestRateLimiter(t *testing.T) {
	r := gin.New()
	r.GET("/limited", NewRateLimiter(0, 2).Middleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/limited", nil)
		req.RemoteAddr = "198.51.100.9:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "198.51.100.10:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

// internal/services/notification_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/i18n"
	"github.com/javajoker/keyshop-backend/internal/models"
)

type NotificationService struct {
	config   *config.Config
	telegram *resty.Client
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

type EmailTemplate struct {
	Subject string
	Body    string
}

func NewNotificationService(config *config.Config) *NotificationService {
	apiURL := config.Telegram.APIURL
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}

	return &NotificationService{
		config: config,
		telegram: resty.New().
			SetBaseURL(strings.TrimRight(apiURL, "/")).
			SetTimeout(5 * time.Second),
		sendMail: smtp.SendMail,
	}
}

// NotifyOrderPaid mails the buyer a link to the activation page.
func (s *NotificationService) NotifyOrderPaid(ctx context.Context, order *models.Order) error {
	lang := s.config.I18n.DefaultLocale
	tmpl := s.getEmailTemplate("order_paid")

	data := map[string]interface{}{
		"OrderID":       order.ID.String(),
		"Amount":        fmt.Sprintf("%.2f %s", order.TotalAmount, order.Currency),
		"ActivationURL": s.pageURL("/redeem-start.html", order.ID.String()),
		"StatusURL":     s.pageURL("/success.html", order.ID.String()),
		"SupportEmail":  s.config.Email.SupportEmail,
	}

	body, err := s.renderTemplate(tmpl.Body, data)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	subject := i18n.T(lang, i18n.KeyEmailPaidSubject, order.ID.String())
	return s.sendEmail(order.Email, subject, body)
}

// NotifyOperator posts a message to the operator chat.
func (s *NotificationService) NotifyOperator(ctx context.Context, text string) error {
	if s.config.Telegram.BotToken == "" || s.config.Telegram.ChatID == "" {
		return nil
	}

	resp, err := s.telegram.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id": s.config.Telegram.ChatID,
			"text":    text,
		}).
		Post("/bot" + s.config.Telegram.BotToken + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram notification failed with status %d", resp.StatusCode())
	}
	return nil
}

func (s *NotificationService) pageURL(path, orderID string) string {
	base := strings.TrimRight(s.config.Frontend.BaseURL, "/")
	return base + path + "?order_id=" + url.QueryEscape(orderID)
}

// Helper methods
func (s *NotificationService) sendEmail(to, subject, body string) error {
	if s.config.Email.SMTPHost == "" {
		logrus.WithField("subject", subject).Debug("SMTP not configured, email skipped")
		return nil
	}

	auth := smtp.PlainAuth("", s.config.Email.SMTPUsername, s.config.Email.SMTPPassword, s.config.Email.SMTPHost)

	from := s.config.Email.FromEmail
	if s.config.Email.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.Email.FromName, s.config.Email.FromEmail)
	}
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s",
		from, to, subject, body))

	addr := fmt.Sprintf("%s:%s", s.config.Email.SMTPHost, s.config.Email.SMTPPort)
	return s.sendMail(addr, auth, s.config.Email.FromEmail, []string{to}, msg)
}

func (s *NotificationService) renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("email").Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (s *NotificationService) getEmailTemplate(templateType string) EmailTemplate {
	templates := map[string]EmailTemplate{
		"order_paid": {
			Subject: "Payment confirmed",
			Body: `
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color:#1f2937; line-height:1.5;">
	<h2>Payment confirmed</h2>
	<p><strong>Order:</strong> {{.OrderID}}</p>
	<p><strong>Amount:</strong> {{.Amount}}</p>
	<p><a href="{{.ActivationURL}}">Enter your token and activate</a></p>
	<p>Payment status: <a href="{{.StatusURL}}">{{.StatusURL}}</a></p>
	{{if .SupportEmail}}<p>Support: <a href="mailto:{{.SupportEmail}}">{{.SupportEmail}}</a></p>{{end}}
</body>
</html>`,
		},
	}

	if template, exists := templates[templateType]; exists {
		return template
	}

	return EmailTemplate{
		Subject: "Notification",
		Body:    "<p>{{.Message}}</p>",
	}
}

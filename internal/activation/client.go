// Package activation is the client side of the upstream "outstock" API that
// turns a license key plus a customer credential into an activated
// subscription.
package activation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

const outstockPath = "/stocks/public/outstock"

// TaskStatus is the upstream view of one activation task.
type TaskStatus struct {
	Pending bool   `json:"pending"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

// Client submits keys for activation and polls the resulting tasks.
type Client interface {
	Submit(ctx context.Context, key, credential, deviceID string) (string, error)
	Poll(ctx context.Context, taskID string) (*TaskStatus, error)
}

type HTTPClient struct {
	client *resty.Client
	cfg    config.ActivationConfig
}

func NewHTTPClient(cfg config.ActivationConfig) *HTTPClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json")

	return &HTTPClient{client: client, cfg: cfg}
}

// submitShapes lists the request bodies the upstream has been seen to
// accept, in the order they are tried.
func submitShapes(key, credential string) []map[string]interface{} {
	return []map[string]interface{}{
		{"cdk": key, "user": credential},
		{"cdk": key, "user": map[string]string{"accessToken": credential}},
		{"cdk": key, "token": credential},
	}
}

// retryableRejection is a client-side rejection that another body shape
// might get past. Throttling is not.
func retryableRejection(status int) bool {
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}

// Submit returns the opaque task id. Upstream bodies are not echoed into
// errors since they may repeat the key.
func (c *HTTPClient) Submit(ctx context.Context, key, credential, deviceID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	shapes := submitShapes(key, credential)
	for i, body := range shapes {
		resp, err := c.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetHeader("X-Device-Id", deviceID).
			SetBody(body).
			Post(outstockPath)
		if err != nil {
			return "", utils.Upstream(err, "Activation start failed")
		}

		if resp.IsSuccess() {
			taskID := strings.TrimSpace(resp.String())
			taskID = strings.Trim(taskID, `"`)
			if taskID == "" {
				return "", utils.Upstream(nil, "Activation task id is empty")
			}
			return taskID, nil
		}

		if !retryableRejection(resp.StatusCode()) || i == len(shapes)-1 {
			return "", utils.Upstream(fmt.Errorf("status %d", resp.StatusCode()),
				"Activation start failed")
		}

		logrus.WithFields(logrus.Fields{
			"status":  resp.StatusCode(),
			"attempt": i + 1,
		}).Warn("Activation submit rejected, retrying with alternate payload")
	}

	return "", utils.Upstream(nil, "Activation start failed")
}

func (c *HTTPClient) Poll(ctx context.Context, taskID string) (*TaskStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	resp, err := c.client.R().
		SetContext(ctx).
		Get(outstockPath + "/" + url.PathEscape(taskID))
	if err != nil {
		return nil, utils.Upstream(err, "Activation status request failed")
	}
	if resp.IsError() {
		return nil, utils.Upstream(fmt.Errorf("status %d", resp.StatusCode()), "Activation status request failed")
	}

	var status TaskStatus
	if err := json.Unmarshal(resp.Body(), &status); err != nil {
		return nil, utils.Upstream(err, "Activation status response is invalid")
	}
	if status.TaskID == "" {
		status.TaskID = taskID
	}
	return &status, nil
}

package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/keyshop-backend/internal/activation"
	"github.com/javajoker/keyshop-backend/internal/events"
	"github.com/javajoker/keyshop-backend/internal/models"
	"github.com/javajoker/keyshop-backend/internal/services"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

const customerToken = "eyJhbGciOi.session.token"

func paidOrder(h *harness) uuid.UUID {
	return h.store.AddOrder("buyer@example.com", "chatgpt-plus-1m", 100, "RUB", models.OrderStatusPaid).ID
}

func TestDeliverIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111", "BBBB-2222")
	orderID := paidOrder(h)

	first, err := h.activation.Deliver(context.Background(), orderID)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, models.ActivationStatusIssued, first.Status)
	assert.Equal(t, models.VerificationUnknown, first.Verification)
	assert.Equal(t, "chatgpt-plus", first.ProductKey)
	assert.Equal(t, "web", first.DeviceID)

	second, err := h.activation.Deliver(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, first.KeyValue, second.KeyValue)
	assert.Len(t, h.store.KeysFor(orderID, models.KeyStatusUsed), 1)
	assert.Equal(t, []string{events.EventKeyClaimed}, h.publisher.Types())
}

func TestDeliverAfterRestock(t *testing.T) {
	h := newHarness(t)
	orderID := paidOrder(h)

	record, err := h.activation.Deliver(context.Background(), orderID)
	require.NoError(t, err)
	assert.Nil(t, record)
	_, ok := h.store.Record(orderID)
	assert.False(t, ok)

	_, err = h.keys.Import(context.Background(), services.ImportKeysRequest{
		ProductKey: "chatgpt-plus",
		Codes:      []string{"cccc-3333"},
	}, services.Actor{UserID: "admin-1"})
	require.NoError(t, err)

	record, err = h.activation.Deliver(context.Background(), orderID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "CCCC-3333", record.KeyValue)
}

func TestDeliverRequiresPaidOrder(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	order := h.store.AddOrder("buyer@example.com", "chatgpt-plus-1m", 100, "RUB", models.OrderStatusPending)

	_, err := h.activation.Deliver(context.Background(), order.ID)
	requireKind(t, err, utils.KindConflict)
	assert.Equal(t, 1, h.store.CountKeys("chatgpt-plus", models.KeyStatusAvailable))
}

func TestViewDeliversOnDemand(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	orderID := paidOrder(h)

	view, err := h.activation.View(context.Background(), orderID, "")
	require.NoError(t, err)
	assert.Equal(t, "issued", view.Status)
	assert.Equal(t, "chatgpt-plus", view.Product)
}

func TestViewWithEmptyPool(t *testing.T) {
	h := newHarness(t)
	orderID := paidOrder(h)

	_, err := h.activation.View(context.Background(), orderID, "")
	requireKind(t, err, utils.KindConflict)
	assert.Contains(t, err.Error(), "not issued yet")
}

func TestViewRequiresPayment(t *testing.T) {
	h := newHarness(t)
	resp := h.placeOrder(t, "chatgpt-plus-1m", 100, "")

	_, err := h.activation.View(context.Background(), mustUUID(t, resp.OrderID), resp.RedeemToken)
	requireKind(t, err, utils.KindConflict)
	assert.Contains(t, err.Error(), "not paid")
}

func TestViewReconcilesPendingOrder(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	resp := h.placeOrder(t, "chatgpt-plus-1m", 100, "")
	h.confirmWithProvider(resp, 100)

	view, err := h.activation.View(context.Background(), mustUUID(t, resp.OrderID), resp.RedeemToken)
	require.NoError(t, err)
	assert.Equal(t, "issued", view.Status)
}

func TestRedeemTokenIsChecked(t *testing.T) {
	h := newHarness(t)
	h.provider.CreateStatus = "success"
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	resp := h.placeOrder(t, "chatgpt-plus-1m", 100, "")
	orderID := mustUUID(t, resp.OrderID)

	_, err := h.activation.View(context.Background(), orderID, "")
	requireKind(t, err, utils.KindAuth)

	_, err = h.activation.View(context.Background(), orderID, "deadbeef")
	requireKind(t, err, utils.KindForbidden)

	_, err = h.activation.View(context.Background(), orderID, resp.RedeemToken)
	require.NoError(t, err)
}

func TestStartSubmitsKey(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	orderID := paidOrder(h)

	view, err := h.activation.Start(context.Background(), orderID, `{"user":{"id":"u1"},"accessToken":"`+customerToken+`"}`, "")
	require.NoError(t, err)
	assert.Equal(t, "processing", view.Status)
	assert.Equal(t, "pending", view.VerificationState)
	assert.Equal(t, "task-1", view.TaskID)
	assert.Equal(t, 1, view.Attempts)

	submits := h.client.Submissions()
	require.Len(t, submits, 1)
	assert.Equal(t, "AAAA-1111", submits[0].Key)
	assert.Equal(t, customerToken, submits[0].Credential)
	assert.Equal(t, "web", submits[0].DeviceID)

	record, _ := h.store.Record(orderID)
	assert.Equal(t, "json_accessToken", record.TokenKind)
	assert.NotEmpty(t, record.TokenFingerprint)
	assert.NotContains(t, record.TokenFingerprint, customerToken)

	_, err = h.activation.Start(context.Background(), orderID, customerToken, "")
	requireKind(t, err, utils.KindConflict)
	assert.Len(t, h.client.Submissions(), 1)
}

func TestStartRejectsBadTokens(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	orderID := paidOrder(h)

	_, err := h.activation.Start(context.Background(), orderID, "   ", "")
	requireKind(t, err, utils.KindValidation)

	long := make([]byte, h.cfg.Activation.MaxTokenLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = h.activation.Start(context.Background(), orderID, string(long), "")
	requireKind(t, err, utils.KindValidation)
	assert.Empty(t, h.client.Submissions())
}

func TestStartUpstreamFailureRestoresRecord(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	orderID := paidOrder(h)
	h.client.SubmitErr = utils.Upstream(errors.New("timeout"), "Activation service timeout")

	_, err := h.activation.Start(context.Background(), orderID, customerToken, "")
	requireKind(t, err, utils.KindUpstream)
	assert.NotContains(t, err.Error(), "AAAA-1111")
	assert.NotContains(t, err.Error(), customerToken)

	record, ok := h.store.Record(orderID)
	require.True(t, ok)
	assert.Equal(t, models.ActivationStatusIssued, record.Status)
	assert.Equal(t, models.VerificationUnknown, record.Verification)
	assert.Equal(t, 0, record.Attempts)
}

func TestPollMapsTaskStatus(t *testing.T) {
	cases := []struct {
		name         string
		status       activation.TaskStatus
		wantStatus   string
		wantVerified string
	}{
		{"pending", activation.TaskStatus{Pending: true, Message: "queued"}, "processing", "pending"},
		{"success", activation.TaskStatus{Success: true, Message: "done"}, "success", "success"},
		{"failed", activation.TaskStatus{Message: "token expired"}, "failed", "failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.store.AddKeys("chatgpt-plus", "AAAA-1111")
			orderID := paidOrder(h)
			view, err := h.activation.Start(context.Background(), orderID, customerToken, "")
			require.NoError(t, err)

			h.client.SetStatus(tc.status)
			view, err = h.activation.Poll(context.Background(), orderID, view.TaskID, "")
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, view.Status)
			assert.Equal(t, tc.wantVerified, view.VerificationState)
			assert.Equal(t, tc.status.Message, view.LastMessage)
			assert.NotNil(t, view.LastCheckedAt)
		})
	}
}

func TestPollUnknownTask(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	orderID := paidOrder(h)
	_, err := h.activation.Start(context.Background(), orderID, customerToken, "")
	require.NoError(t, err)

	_, err = h.activation.Poll(context.Background(), orderID, "task-999", "")
	requireKind(t, err, utils.KindNotFound)
	assert.Equal(t, 0, h.client.PollCount())
}

func TestPollFailureChangesNothing(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	orderID := paidOrder(h)
	view, err := h.activation.Start(context.Background(), orderID, customerToken, "")
	require.NoError(t, err)
	h.client.PollErr = utils.Upstream(context.DeadlineExceeded, "Activation service timeout")

	_, err = h.activation.Poll(context.Background(), orderID, view.TaskID, "")
	requireKind(t, err, utils.KindUpstream)

	record, _ := h.store.Record(orderID)
	assert.Equal(t, models.ActivationStatusProcessing, record.Status)
	assert.Equal(t, "Activation request sent", record.LastMessage)
}

func TestRestartIssuesNewKey(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111", "BBBB-2222", "CCCC-3333")
	orderID := paidOrder(h)
	_, err := h.activation.View(context.Background(), orderID, "")
	require.NoError(t, err)
	h.store.Backdate(orderID, time.Minute)

	view, err := h.activation.Restart(context.Background(), orderID, customerToken, "")
	require.NoError(t, err)
	assert.Equal(t, "processing", view.Status)

	record, _ := h.store.Record(orderID)
	assert.Equal(t, "BBBB-2222", record.KeyValue)
	used := h.store.KeysFor(orderID, models.KeyStatusUsed)
	require.Len(t, used, 1)
	assert.Equal(t, "BBBB-2222", used[0].KeyValue)
	assert.Len(t, h.store.KeysFor(orderID, models.KeyStatusRevoked), 1)

	submits := h.client.Submissions()
	require.Len(t, submits, 1)
	assert.Equal(t, "BBBB-2222", submits[0].Key)
	assert.Contains(t, h.publisher.Types(), events.EventKeyReplaced)
}

func TestRestartCooldown(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111", "BBBB-2222", "CCCC-3333")
	orderID := paidOrder(h)
	_, err := h.activation.View(context.Background(), orderID, "")
	require.NoError(t, err)
	h.store.Backdate(orderID, time.Minute)

	_, err = h.activation.Restart(context.Background(), orderID, customerToken, "")
	require.NoError(t, err)
	bound, _ := h.store.Record(orderID)

	_, err = h.activation.Restart(context.Background(), orderID, customerToken, "")
	requireKind(t, err, utils.KindConflict)
	assert.Contains(t, err.Error(), "once every 20 seconds")

	var appErr *utils.AppError
	require.True(t, errors.As(err, &appErr))
	details, ok := appErr.Details.(map[string]int)
	require.True(t, ok)
	assert.Greater(t, details["retry_after_seconds"], 0)

	record, _ := h.store.Record(orderID)
	assert.Equal(t, bound.KeyValue, record.KeyValue)
	assert.Equal(t, 1, h.store.CountKeys("chatgpt-plus", models.KeyStatusAvailable))
}

func TestRestartWithExhaustedPool(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	orderID := paidOrder(h)
	_, err := h.activation.View(context.Background(), orderID, "")
	require.NoError(t, err)
	h.store.Backdate(orderID, time.Minute)

	_, err = h.activation.Restart(context.Background(), orderID, customerToken, "")
	requireKind(t, err, utils.KindConflict)
	assert.Contains(t, err.Error(), "No unused key available")

	record, _ := h.store.Record(orderID)
	assert.Equal(t, "AAAA-1111", record.KeyValue)
	assert.Len(t, h.store.KeysFor(orderID, models.KeyStatusUsed), 1)
}

func TestRestartAfterSuccessIsRejected(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111", "BBBB-2222")
	orderID := paidOrder(h)
	view, err := h.activation.Start(context.Background(), orderID, customerToken, "")
	require.NoError(t, err)
	h.client.SetStatus(activation.TaskStatus{Success: true})
	_, err = h.activation.Poll(context.Background(), orderID, view.TaskID, "")
	require.NoError(t, err)
	h.store.Backdate(orderID, time.Minute)

	_, err = h.activation.Restart(context.Background(), orderID, customerToken, "")
	requireKind(t, err, utils.KindConflict)
	assert.Contains(t, err.Error(), "already completed")
}

func TestProofCertainty(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")

	pending := h.store.AddOrder("buyer@example.com", "chatgpt-plus-1m", 100, "RUB", models.OrderStatusPending)
	proof, err := h.activation.Proof(context.Background(), pending.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.CertaintyOrderNotPaid, proof.Certainty)

	orderID := paidOrder(h)
	proof, err = h.activation.Proof(context.Background(), orderID, false)
	require.NoError(t, err)
	assert.Equal(t, models.CertaintyUnconfirmed, proof.Certainty)

	_, err = h.activation.Start(context.Background(), orderID, customerToken, "")
	require.NoError(t, err)
	proof, err = h.activation.Proof(context.Background(), orderID, false)
	require.NoError(t, err)
	assert.Equal(t, models.CertaintyInProgress, proof.Certainty)
	assert.Equal(t, 0, h.client.PollCount())

	h.client.SetStatus(activation.TaskStatus{Success: true, Message: "activated"})
	proof, err = h.activation.Proof(context.Background(), orderID, true)
	require.NoError(t, err)
	assert.Equal(t, models.CertaintyConfirmedByProvider, proof.Certainty)
	assert.Equal(t, "activated", proof.LastMessage)
	assert.Equal(t, 1, h.client.PollCount())
	assert.Equal(t, "Confirmed by the activation provider", services.CertaintyLabel("en", proof.Certainty))
}

func TestProofWithoutKey(t *testing.T) {
	h := newHarness(t)
	orderID := paidOrder(h)

	proof, err := h.activation.Proof(context.Background(), orderID, true)
	require.NoError(t, err)
	assert.Equal(t, models.CertaintyKeyNotIssued, proof.Certainty)
	assert.Equal(t, "CDK еще не выдан", services.CertaintyLabel("ru", proof.Certainty))
}

func TestProofPollFailureKeepsStoredState(t *testing.T) {
	h := newHarness(t)
	h.store.AddKeys("chatgpt-plus", "AAAA-1111")
	orderID := paidOrder(h)
	_, err := h.activation.Start(context.Background(), orderID, customerToken, "")
	require.NoError(t, err)
	h.client.PollErr = errors.New("unreachable")

	proof, err := h.activation.Proof(context.Background(), orderID, true)
	require.NoError(t, err)
	assert.Equal(t, models.CertaintyInProgress, proof.Certainty)
}

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beegy-labs/notification-service/internal/config"
	"github.com/beegy-labs/notification-service/internal/infrastructure/audit"
	"github.com/beegy-labs/notification-service/internal/infrastructure/channels"
	"github.com/beegy-labs/notification-service/internal/infrastructure/repository"
	"github.com/beegy-labs/notification-service/internal/usecases"
)

const testJWTSecret = "test-secret"

func newTestApp(t *testing.T, authEnabled bool) *fiber.App {
	t.Helper()
	logger := zap.NewNop()

	repo := repository.NewMemoryNotificationRepository()
	inApp := channels.NewInAppAdapter(repo, logger)
	registry := channels.NewRegistry(inApp)
	prefStore := repository.NewMemoryPreferenceStore()
	deviceRegistry := repository.NewMemoryDeviceRegistry()

	router := usecases.NewChannelRouter(registry, prefStore, nil, logger)
	dispatch := usecases.NewDispatchService(repo, router, inApp, audit.NewNopRecorder(logger), nil, logger)
	prefService := usecases.NewPreferenceService(prefStore, logger)
	deviceService := usecases.NewDeviceService(deviceRegistry, logger)

	cfg := &config.Config{}
	cfg.Auth.Enabled = authEnabled
	cfg.Auth.JWTSecret = testJWTSecret

	handlers := NewHandlers(dispatch, prefService, deviceService, logger)
	srv := NewServer(cfg, handlers, prometheus.NewRegistry(), logger)
	return srv.App()
}

func doJSON(t *testing.T, app *fiber.App, method, target string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t, false)
	status, body := doJSON(t, app, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t, false)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSendEndpoint(t *testing.T) {
	app := newTestApp(t, false)

	t.Run("delivers in-app", func(t *testing.T) {
		status, body := doJSON(t, app, http.MethodPost, "/v1/notifications/send", map[string]interface{}{
			"tenant_id":  "t1",
			"account_id": "a1",
			"title":      "maintenance tonight",
			"channels":   []string{"in_app"},
		})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])
		assert.NotEmpty(t, body["notification_id"])
		assert.Equal(t, "Sent to 1 channel(s)", body["message"])
	})

	t.Run("missing title is a 400", func(t *testing.T) {
		status, body := doJSON(t, app, http.MethodPost, "/v1/notifications/send", map[string]interface{}{
			"tenant_id":  "t1",
			"account_id": "a1",
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, false, body["success"])
	})

	t.Run("malformed body is a 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/notifications/send", strings.NewReader("{not json"))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body := map[string]interface{}{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "malformed request body", body["error"])
	})

	t.Run("unknown channel is a 400", func(t *testing.T) {
		status, _ := doJSON(t, app, http.MethodPost, "/v1/notifications/send", map[string]interface{}{
			"tenant_id":  "t1",
			"account_id": "a1",
			"title":      "x",
			"channels":   []string{"fax"},
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestSendBulkEndpoint(t *testing.T) {
	app := newTestApp(t, false)

	status, body := doJSON(t, app, http.MethodPost, "/v1/notifications/send-bulk", map[string]interface{}{
		"tenant_id": "t1",
		"notifications": []map[string]interface{}{
			{"account_id": "a1", "title": "hello", "channels": []string{"in_app"}},
			{"account_id": "a2", "title": "hi", "channels": []string{"in_app"}},
		},
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 2, body["sent_count"])
	assert.EqualValues(t, 0, body["failed_count"])

	status, _ = doJSON(t, app, http.MethodPost, "/v1/notifications/send-bulk", map[string]interface{}{
		"tenant_id": "t1",
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestListMarkReadStatusFlow(t *testing.T) {
	app := newTestApp(t, false)

	_, sent := doJSON(t, app, http.MethodPost, "/v1/notifications/send", map[string]interface{}{
		"tenant_id":  "t1",
		"account_id": "a1",
		"title":      "hello",
		"channels":   []string{"in_app"},
	})
	id, _ := sent["notification_id"].(string)
	require.NotEmpty(t, id)

	t.Run("list shows the unread row", func(t *testing.T) {
		status, body := doJSON(t, app, http.MethodGet, "/v1/notifications?tenant_id=t1&account_id=a1", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.EqualValues(t, 1, body["total_count"])
		assert.EqualValues(t, 1, body["unread_count"])
		assert.EqualValues(t, 1, body["page"])
		assert.EqualValues(t, 20, body["page_size"])
	})

	t.Run("status reports delivered", func(t *testing.T) {
		status, body := doJSON(t, app, http.MethodGet, "/v1/notifications/"+id+"/status", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "delivered", body["status"])
		assert.Equal(t, "in_app", body["channel"])
	})

	t.Run("mark read clears the counter", func(t *testing.T) {
		status, body := doJSON(t, app, http.MethodPost, "/v1/notifications/mark-read", map[string]interface{}{
			"tenant_id":        "t1",
			"account_id":       "a1",
			"notification_ids": []string{id},
		})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])
		assert.EqualValues(t, 1, body["updated_count"])

		_, listBody := doJSON(t, app, http.MethodGet, "/v1/notifications?tenant_id=t1&account_id=a1", nil)
		assert.EqualValues(t, 0, listBody["unread_count"])
	})

	t.Run("unknown id is answered, not erred", func(t *testing.T) {
		status, body := doJSON(t, app, http.MethodGet, "/v1/notifications/ghost/status", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "unspecified", body["status"])
		assert.Equal(t, "Notification not found", body["error"])
	})

	t.Run("missing account is a 400", func(t *testing.T) {
		status, _ := doJSON(t, app, http.MethodGet, "/v1/notifications?tenant_id=t1", nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestPreferencesEndpoints(t *testing.T) {
	app := newTestApp(t, false)

	t.Run("update then read back", func(t *testing.T) {
		status, body := doJSON(t, app, http.MethodPut, "/v1/preferences", map[string]interface{}{
			"tenant_id":  "t1",
			"account_id": "a1",
			"channel_preferences": []map[string]interface{}{
				{"channel": "push", "enabled": false},
			},
		})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "preferences updated", body["message"])

		status, got := doJSON(t, app, http.MethodGet, "/v1/preferences?tenant_id=t1&account_id=a1", nil)
		assert.Equal(t, http.StatusOK, status)
		rows, ok := got["channel_preferences"].([]interface{})
		require.True(t, ok)
		seenPush := false
		for _, raw := range rows {
			row := raw.(map[string]interface{})
			if row["channel"] == "push" {
				seenPush = true
				assert.Equal(t, false, row["enabled"])
			}
		}
		assert.True(t, seenPush)
	})

	t.Run("unknown channel is a 400", func(t *testing.T) {
		status, _ := doJSON(t, app, http.MethodPut, "/v1/preferences", map[string]interface{}{
			"tenant_id":  "t1",
			"account_id": "a1",
			"channel_preferences": []map[string]interface{}{
				{"channel": "fax", "enabled": false},
			},
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("quiet hours round trip", func(t *testing.T) {
		status, body := doJSON(t, app, http.MethodPut, "/v1/preferences/quiet-hours", map[string]interface{}{
			"tenant_id":  "t1",
			"account_id": "a1",
			"enabled":    true,
			"start_time": "22:00",
			"end_time":   "07:00",
			"timezone":   "Europe/Berlin",
		})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])

		status, got := doJSON(t, app, http.MethodGet, "/v1/preferences/quiet-hours?tenant_id=t1&account_id=a1", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, got["enabled"])
		assert.Equal(t, "22:00", got["start_time"])
		assert.Equal(t, "Europe/Berlin", got["timezone"])
	})

	t.Run("bad timezone is a 400", func(t *testing.T) {
		status, _ := doJSON(t, app, http.MethodPut, "/v1/preferences/quiet-hours", map[string]interface{}{
			"tenant_id":  "t1",
			"account_id": "a1",
			"start_time": "22:00",
			"end_time":   "07:00",
			"timezone":   "Mars/Olympus",
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestDeviceEndpoints(t *testing.T) {
	app := newTestApp(t, false)

	status, body := doJSON(t, app, http.MethodPost, "/v1/devices/register", map[string]interface{}{
		"tenant_id":  "t1",
		"account_id": "a1",
		"token":      "fcm-token-1",
		"platform":   "android",
		"device_id":  "pixel-8",
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["device_token_id"])

	status, listBody := doJSON(t, app, http.MethodGet, "/v1/devices?tenant_id=t1&account_id=a1", nil)
	assert.Equal(t, http.StatusOK, status)
	tokens, ok := listBody["tokens"].([]interface{})
	require.True(t, ok)
	require.Len(t, tokens, 1)
	first := tokens[0].(map[string]interface{})
	assert.Equal(t, "fcm-token-1", first["token"])
	assert.Equal(t, "android", first["platform"])

	status, unreg := doJSON(t, app, http.MethodPost, "/v1/devices/unregister", map[string]interface{}{
		"tenant_id":  "t1",
		"account_id": "a1",
		"token":      "fcm-token-1",
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, unreg["success"])
	assert.Equal(t, "device token removed", unreg["message"])

	status, again := doJSON(t, app, http.MethodPost, "/v1/devices/unregister", map[string]interface{}{
		"tenant_id":  "t1",
		"account_id": "a1",
		"token":      "fcm-token-1",
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, again["success"])
	assert.Equal(t, "device token not found", again["message"])

	t.Run("missing platform is a 400", func(t *testing.T) {
		status, _ := doJSON(t, app, http.MethodPost, "/v1/devices/register", map[string]interface{}{
			"tenant_id":  "t1",
			"account_id": "a1",
			"token":      "x",
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func signToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "account-service",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTAuth(t *testing.T) {
	app := newTestApp(t, true)
	target := "/v1/notifications?tenant_id=t1&account_id=a1"

	request := func(authorization string) int {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		if authorization != "" {
			req.Header.Set(fiber.HeaderAuthorization, authorization)
		}
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	t.Run("missing token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, request(""))
	})

	t.Run("wrong scheme", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, request("Basic abc"))
	})

	t.Run("wrong secret", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, request("Bearer "+signToken(t, "other-secret")))
	})

	t.Run("valid token", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, request(fmt.Sprintf("Bearer %s", signToken(t, testJWTSecret))))
	})

	t.Run("health stays open", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

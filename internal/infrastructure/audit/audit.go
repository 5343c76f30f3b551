// Package audit forwards security events to the central audit service.
// Recording is best effort: dispatch never fails because auditing did.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/beegy-labs/notification-service/internal/domain/notification"
)

// EventType mirrors the audit service's auth event taxonomy.
type EventType string

const (
	EventUnspecified     EventType = "UNSPECIFIED"
	EventPasswordChanged EventType = "PASSWORD_CHANGED"
	EventMFAVerified     EventType = "MFA_VERIFIED"
	EventAccountLocked   EventType = "ACCOUNT_LOCKED"
	EventLoginSuccess    EventType = "LOGIN_SUCCESS"
)

// EventTypeFor maps a notification type onto the audit taxonomy. Types
// outside the mapping table record as unspecified.
func EventTypeFor(t notification.Type) EventType {
	switch t {
	case notification.TypePasswordReset:
		return EventPasswordChanged
	case notification.TypeMFACode:
		return EventMFAVerified
	case notification.TypeAccountLocked:
		return EventAccountLocked
	case notification.TypeLoginAlert:
		return EventLoginSuccess
	default:
		return EventUnspecified
	}
}

type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Event is one logAuthEvent record.
type Event struct {
	EventType   EventType         `json:"event_type"`
	AccountType string            `json:"account_type"`
	AccountID   string            `json:"account_id"`
	IPAddress   string            `json:"ip_address"`
	UserAgent   string            `json:"user_agent"`
	Result      Result            `json:"result"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Response struct {
	Success bool   `json:"success"`
	EventID string `json:"event_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Recorder delivers audit events.
type Recorder interface {
	Record(ctx context.Context, ev *Event) (*Response, error)
}

// HTTPRecorder posts events to the audit service endpoint.
type HTTPRecorder struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPRecorder(endpoint, token string, timeout time.Duration) *HTTPRecorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPRecorder{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRecorder) Record(ctx context.Context, ev *Event) (*Response, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal audit event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post audit event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("audit service status %d", resp.StatusCode)
	}
	out := &Response{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode audit response: %w", err)
	}
	return out, nil
}

// NopRecorder is used when auditing is disabled. It reports success and
// leaves a debug trail.
type NopRecorder struct {
	logger *zap.Logger
}

func NewNopRecorder(logger *zap.Logger) *NopRecorder {
	return &NopRecorder{logger: logger}
}

func (r *NopRecorder) Record(_ context.Context, ev *Event) (*Response, error) {
	r.logger.Debug("audit disabled, dropping event",
		zap.String("event_type", string(ev.EventType)),
		zap.String("account_id", ev.AccountID))
	return &Response{Success: true}, nil
}

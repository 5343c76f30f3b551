package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beegy-labs/notification-service/internal/domain/notification"
)

// ErrNotFound is returned when no token row matches.
var ErrNotFound = errors.New("device token not found")

// Token is one registered push credential tied to a single app install.
// The raw token string is globally unique across tenants.
type Token struct {
	ID         string                `json:"id"`
	TenantID   string                `json:"tenant_id"`
	AccountID  string                `json:"account_id"`
	Token      string                `json:"token"`
	Platform   notification.Platform `json:"platform"`
	DeviceID   string                `json:"device_id,omitempty"`
	DeviceInfo map[string]string     `json:"device_info,omitempty"`
	LastUsedAt time.Time             `json:"last_used_at"`
	CreatedAt  time.Time             `json:"created_at"`
}

// Clone returns a deep copy safe for concurrent readers.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	out := *t
	if t.DeviceInfo != nil {
		out.DeviceInfo = make(map[string]string, len(t.DeviceInfo))
		for k, v := range t.DeviceInfo {
			out.DeviceInfo[k] = v
		}
	}
	return &out
}

// Registry persists device tokens. Register upserts: the key is
// (tenant, account, deviceId) when a deviceId is present, the raw token
// otherwise. A token registered under a different account moves to the
// new one. EvictByToken is the remediation path for provider-reported
// invalid tokens and spans all tenants.
type Registry interface {
	Register(ctx context.Context, t *Token) (string, error)
	Unregister(ctx context.Context, tenantID, accountID, token string) (bool, error)
	ListForAccount(ctx context.Context, tenantID, accountID string) ([]*Token, error)
	ActiveTokens(ctx context.Context, tenantID, accountID string) ([]string, error)
	EvictByToken(ctx context.Context, token string) error
	DeleteStale(ctx context.Context, olderThan time.Time) (int64, error)
}

type RegisterRequest struct {
	TenantID   string                `json:"tenant_id" validate:"required"`
	AccountID  string                `json:"account_id" validate:"required"`
	Token      string                `json:"token" validate:"required"`
	Platform   notification.Platform `json:"platform" validate:"required"`
	DeviceID   string                `json:"device_id"`
	DeviceInfo map[string]string     `json:"device_info"`
}

func (r *RegisterRequest) Validate() error {
	r.TenantID = strings.TrimSpace(r.TenantID)
	r.AccountID = strings.TrimSpace(r.AccountID)
	r.Token = strings.TrimSpace(r.Token)
	if r.TenantID == "" {
		return notification.ErrMissingTenant
	}
	if r.AccountID == "" {
		return notification.ErrMissingAccount
	}
	if r.Token == "" {
		return fmt.Errorf("%w: token is required", notification.ErrValidation)
	}
	if !r.Platform.Valid() {
		return fmt.Errorf("%w: unknown platform %q", notification.ErrValidation, r.Platform)
	}
	return nil
}

// Service is the administrative surface over the registry.
type Service interface {
	Register(ctx context.Context, req *RegisterRequest) (string, error)
	Unregister(ctx context.Context, tenantID, accountID, token string) (bool, error)
	Tokens(ctx context.Context, tenantID, accountID string) ([]*Token, error)
	CleanupStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

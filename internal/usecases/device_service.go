package usecases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/beegy-labs/notification-service/internal/domain/device"
	"github.com/beegy-labs/notification-service/internal/domain/notification"
)

// DefaultTokenMaxAge is how long an untouched device token survives
// before the sweeper removes it.
const DefaultTokenMaxAge = 90 * 24 * time.Hour

// DeviceService is the admin surface over the device token registry.
type DeviceService struct {
	registry device.Registry
	logger   *zap.Logger
	clock    func() time.Time
}

func NewDeviceService(registry device.Registry, logger *zap.Logger) device.Service {
	return &DeviceService{registry: registry, logger: logger, clock: time.Now}
}

func (s *DeviceService) Register(ctx context.Context, req *device.RegisterRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	id, err := s.registry.Register(ctx, &device.Token{
		TenantID:   req.TenantID,
		AccountID:  req.AccountID,
		Token:      req.Token,
		Platform:   req.Platform,
		DeviceID:   strings.TrimSpace(req.DeviceID),
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		return "", fmt.Errorf("register device token: %w", err)
	}
	s.logger.Info("device token registered",
		zap.String("tenant_id", req.TenantID),
		zap.String("account_id", req.AccountID),
		zap.String("platform", string(req.Platform)),
		zap.String("device_token_id", id))
	return id, nil
}

func (s *DeviceService) Unregister(ctx context.Context, tenantID, accountID, token string) (bool, error) {
	tenantID = strings.TrimSpace(tenantID)
	accountID = strings.TrimSpace(accountID)
	token = strings.TrimSpace(token)
	if tenantID == "" {
		return false, notification.ErrMissingTenant
	}
	if accountID == "" {
		return false, notification.ErrMissingAccount
	}
	if token == "" {
		return false, fmt.Errorf("%w: token is required", notification.ErrValidation)
	}
	removed, err := s.registry.Unregister(ctx, tenantID, accountID, token)
	if err != nil {
		return false, fmt.Errorf("unregister device token: %w", err)
	}
	return removed, nil
}

func (s *DeviceService) Tokens(ctx context.Context, tenantID, accountID string) ([]*device.Token, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, notification.ErrMissingTenant
	}
	if strings.TrimSpace(accountID) == "" {
		return nil, notification.ErrMissingAccount
	}
	rows, err := s.registry.ListForAccount(ctx, tenantID, accountID)
	if err != nil {
		return nil, fmt.Errorf("list device tokens: %w", err)
	}
	return rows, nil
}

// CleanupStale removes tokens not used within maxAge. Zero or negative
// maxAge falls back to the default retention.
func (s *DeviceService) CleanupStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = DefaultTokenMaxAge
	}
	cutoff := s.clock().UTC().Add(-maxAge)
	removed, err := s.registry.DeleteStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale tokens: %w", err)
	}
	if removed > 0 {
		s.logger.Info("removed stale device tokens",
			zap.Int64("count", removed),
			zap.Time("cutoff", cutoff))
	}
	return removed, nil
}

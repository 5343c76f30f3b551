package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/beegy-labs/notification-service/internal/domain/notification"
	"github.com/beegy-labs/notification-service/internal/domain/preference"
)

// PreferenceService is the admin surface over preferences and quiet
// hours. Reads merge explicit rows over the documented defaults so
// callers always see a complete picture; writes validate and pass
// through.
type PreferenceService struct {
	store  preference.Store
	logger *zap.Logger
}

func NewPreferenceService(store preference.Store, logger *zap.Logger) preference.Service {
	return &PreferenceService{store: store, logger: logger}
}

func (s *PreferenceService) GetPreferences(ctx context.Context, tenantID, accountID string) (*preference.Preferences, error) {
	if err := requireAccount(tenantID, accountID); err != nil {
		return nil, err
	}
	explicit, err := s.store.Get(ctx, tenantID, accountID)
	if err != nil {
		s.logger.Warn("preference read failed, returning defaults",
			zap.String("tenant_id", tenantID),
			zap.String("account_id", accountID),
			zap.Error(err))
		merged := preference.DefaultPreferences()
		merged.FallbackUsed = true
		return merged, nil
	}
	return mergePreferences(explicit), nil
}

func (s *PreferenceService) UpdatePreferences(ctx context.Context, tenantID, accountID string, prefs *preference.Preferences) error {
	if err := requireAccount(tenantID, accountID); err != nil {
		return err
	}
	if prefs == nil || (len(prefs.Channels) == 0 && len(prefs.Types) == 0) {
		return fmt.Errorf("%w: no preference rows given", notification.ErrValidation)
	}
	for _, cp := range prefs.Channels {
		if !cp.Channel.Valid() {
			return fmt.Errorf("%w: unknown channel %q", notification.ErrValidation, cp.Channel)
		}
	}
	for _, tp := range prefs.Types {
		if !tp.Type.Valid() {
			return fmt.Errorf("%w: unknown type %q", notification.ErrValidation, tp.Type)
		}
		for _, c := range tp.EnabledChannels {
			if !c.Valid() {
				return fmt.Errorf("%w: unknown channel %q", notification.ErrValidation, c)
			}
		}
	}
	if err := s.store.Update(ctx, tenantID, accountID, prefs); err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	return nil
}

func (s *PreferenceService) GetQuietHours(ctx context.Context, tenantID, accountID string) (*preference.QuietHours, error) {
	if err := requireAccount(tenantID, accountID); err != nil {
		return nil, err
	}
	q, err := s.store.GetQuietHours(ctx, tenantID, accountID)
	if err == nil {
		return q, nil
	}
	def := preference.DefaultQuietHours()
	if !errors.Is(err, preference.ErrNotFound) {
		s.logger.Warn("quiet hours read failed, returning defaults",
			zap.String("tenant_id", tenantID),
			zap.String("account_id", accountID),
			zap.Error(err))
		def.FallbackUsed = true
	}
	return &def, nil
}

func (s *PreferenceService) UpdateQuietHours(ctx context.Context, tenantID, accountID string, q preference.QuietHours) error {
	if err := requireAccount(tenantID, accountID); err != nil {
		return err
	}
	if err := q.Validate(); err != nil {
		return err
	}
	if err := s.store.UpdateQuietHours(ctx, tenantID, accountID, q); err != nil {
		return fmt.Errorf("update quiet hours: %w", err)
	}
	return nil
}

func requireAccount(tenantID, accountID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return notification.ErrMissingTenant
	}
	if strings.TrimSpace(accountID) == "" {
		return notification.ErrMissingAccount
	}
	return nil
}

// mergePreferences lays the explicit rows over the defaults. Types with
// neither an explicit nor a default row stay absent, which readers
// interpret as all channels enabled.
func mergePreferences(explicit *preference.Preferences) *preference.Preferences {
	channelRows := make(map[notification.Channel]bool, len(explicit.Channels))
	for _, cp := range explicit.Channels {
		channelRows[cp.Channel] = cp.Enabled
	}
	typeRows := make(map[notification.Type][]notification.Channel, len(explicit.Types))
	for _, tp := range explicit.Types {
		typeRows[tp.Type] = tp.EnabledChannels
	}
	defaults := preference.DefaultPreferences()
	defaultTypes := make(map[notification.Type][]notification.Channel, len(defaults.Types))
	for _, tp := range defaults.Types {
		defaultTypes[tp.Type] = tp.EnabledChannels
	}

	merged := &preference.Preferences{}
	for _, cp := range defaults.Channels {
		if enabled, ok := channelRows[cp.Channel]; ok {
			cp.Enabled = enabled
		}
		merged.Channels = append(merged.Channels, cp)
	}
	for _, t := range notification.AllTypes {
		if chs, ok := typeRows[t]; ok {
			merged.Types = append(merged.Types, preference.TypePreference{Type: t, EnabledChannels: chs})
			continue
		}
		if chs, ok := defaultTypes[t]; ok {
			merged.Types = append(merged.Types, preference.TypePreference{Type: t, EnabledChannels: chs})
		}
	}
	return merged
}

package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/beegy-labs/notification-service/internal/domain/notification"
	"github.com/beegy-labs/notification-service/internal/domain/preference"
)

// RedisPreferenceStore persists explicit preference rows as Redis
// hashes. Three hashes per account:
//
//	prefs:{tenant}:{account}:channels  channel -> "1"/"0"
//	prefs:{tenant}:{account}:types     type    -> csv of channels
//	prefs:{tenant}:{account}:quiet     enabled/start/end/timezone
//
// Absent hashes mean the account has no explicit rows and callers fall
// back to defaults.
type RedisPreferenceStore struct {
	client *redis.Client
}

func NewRedisPreferenceStore(client *redis.Client) *RedisPreferenceStore {
	return &RedisPreferenceStore{client: client}
}

func prefsKey(tenantID, accountID, section string) string {
	return fmt.Sprintf("prefs:%s:%s:%s", tenantID, accountID, section)
}

func (s *RedisPreferenceStore) Get(ctx context.Context, tenantID, accountID string) (*preference.Preferences, error) {
	channels, err := s.client.HGetAll(ctx, prefsKey(tenantID, accountID, "channels")).Result()
	if err != nil {
		return nil, fmt.Errorf("read channel preferences: %w", err)
	}
	types, err := s.client.HGetAll(ctx, prefsKey(tenantID, accountID, "types")).Result()
	if err != nil {
		return nil, fmt.Errorf("read type preferences: %w", err)
	}

	out := &preference.Preferences{}
	for _, c := range notification.AllChannels {
		if v, ok := channels[string(c)]; ok {
			out.Channels = append(out.Channels, preference.ChannelPreference{
				Channel: c,
				Enabled: v == "1",
			})
		}
	}
	for _, t := range notification.AllTypes {
		if csv, ok := types[string(t)]; ok {
			out.Types = append(out.Types, preference.TypePreference{
				Type:            t,
				EnabledChannels: channelsFromCSV(csv),
			})
		}
	}
	return out, nil
}

func (s *RedisPreferenceStore) Update(ctx context.Context, tenantID, accountID string, prefs *preference.Preferences) error {
	pipe := s.client.TxPipeline()
	for _, cp := range prefs.Channels {
		v := "0"
		if cp.Enabled {
			v = "1"
		}
		pipe.HSet(ctx, prefsKey(tenantID, accountID, "channels"), string(cp.Channel), v)
	}
	for _, tp := range prefs.Types {
		pipe.HSet(ctx, prefsKey(tenantID, accountID, "types"), string(tp.Type), channelsToCSV(tp.EnabledChannels))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}

func (s *RedisPreferenceStore) GetQuietHours(ctx context.Context, tenantID, accountID string) (*preference.QuietHours, error) {
	fields, err := s.client.HGetAll(ctx, prefsKey(tenantID, accountID, "quiet")).Result()
	if err != nil {
		return nil, fmt.Errorf("read quiet hours: %w", err)
	}
	if len(fields) == 0 {
		return nil, preference.ErrNotFound
	}
	return &preference.QuietHours{
		Enabled:   fields["enabled"] == "1",
		StartTime: fields["start"],
		EndTime:   fields["end"],
		Timezone:  fields["timezone"],
	}, nil
}

func (s *RedisPreferenceStore) UpdateQuietHours(ctx context.Context, tenantID, accountID string, q preference.QuietHours) error {
	enabled := "0"
	if q.Enabled {
		enabled = "1"
	}
	err := s.client.HSet(ctx, prefsKey(tenantID, accountID, "quiet"), map[string]interface{}{
		"enabled":  enabled,
		"start":    q.StartTime,
		"end":      q.EndTime,
		"timezone": q.Timezone,
	}).Err()
	if err != nil {
		return fmt.Errorf("write quiet hours: %w", err)
	}
	return nil
}

func channelsToCSV(channels []notification.Channel) string {
	parts := make([]string, 0, len(channels))
	for _, c := range channels {
		parts = append(parts, string(c))
	}
	return strings.Join(parts, ",")
}

func channelsFromCSV(csv string) []notification.Channel {
	// An empty csv is an explicit "no channels" row, not an absent one.
	out := []notification.Channel{}
	if csv == "" {
		return out
	}
	for _, part := range strings.Split(csv, ",") {
		if c, err := notification.ParseChannel(part); err == nil {
			out = append(out, c)
		}
	}
	return out
}

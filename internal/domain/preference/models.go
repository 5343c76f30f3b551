package preference

import (
	"context"
	"errors"

	"github.com/beegy-labs/notification-service/internal/domain/notification"
)

// ErrNotFound is returned by stores when an account has no stored row.
var ErrNotFound = errors.New("preferences not found")

// ChannelPreference enables or disables one delivery channel for an
// account. Absence of a row means enabled.
type ChannelPreference struct {
	Channel notification.Channel `json:"channel"`
	Enabled bool                 `json:"enabled"`
}

// TypePreference whitelists the channels a notification type may use.
// Absence of a row means every channel, except marketing which defaults
// to email only.
type TypePreference struct {
	Type            notification.Type      `json:"type"`
	EnabledChannels []notification.Channel `json:"enabled_channels"`
}

type Preferences struct {
	Channels []ChannelPreference `json:"channel_preferences"`
	Types    []TypePreference    `json:"type_preferences"`
	// FallbackUsed is set when a storage read failed and defaults were
	// substituted. Never serialized.
	FallbackUsed bool `json:"-"`
}

// QuietHours is the per-account suppression window. Start and end are
// HH:MM wall-clock strings evaluated in the account's IANA timezone.
type QuietHours struct {
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Timezone  string `json:"timezone"`
	// FallbackUsed mirrors Preferences.FallbackUsed for failed reads.
	FallbackUsed bool `json:"-"`
}

// DefaultQuietHours is the window reported for accounts that never
// configured one.
func DefaultQuietHours() QuietHours {
	return QuietHours{
		Enabled:   false,
		StartTime: "22:00",
		EndTime:   "08:00",
		Timezone:  "UTC",
	}
}

// DefaultPreferences is the view returned when an account has no stored
// rows: every channel on, interactive channels for system and security
// traffic, email only for marketing.
func DefaultPreferences() *Preferences {
	interactive := []notification.Channel{
		notification.ChannelInApp,
		notification.ChannelPush,
		notification.ChannelEmail,
	}
	p := &Preferences{}
	for _, c := range notification.AllChannels {
		p.Channels = append(p.Channels, ChannelPreference{Channel: c, Enabled: true})
	}
	p.Types = []TypePreference{
		{Type: notification.TypeSystem, EnabledChannels: interactive},
		{Type: notification.TypeSecurityAlert, EnabledChannels: interactive},
		{Type: notification.TypeLoginAlert, EnabledChannels: interactive},
		{Type: notification.TypeMarketing, EnabledChannels: []notification.Channel{notification.ChannelEmail}},
	}
	return p
}

// Store persists explicit preference rows. Get returns only what was
// written; defaulting is the caller's concern. Update must apply the
// whole batch atomically.
type Store interface {
	Get(ctx context.Context, tenantID, accountID string) (*Preferences, error)
	Update(ctx context.Context, tenantID, accountID string, prefs *Preferences) error
	GetQuietHours(ctx context.Context, tenantID, accountID string) (*QuietHours, error)
	UpdateQuietHours(ctx context.Context, tenantID, accountID string, q QuietHours) error
}

// Service is the administrative surface over preferences and quiet hours.
type Service interface {
	GetPreferences(ctx context.Context, tenantID, accountID string) (*Preferences, error)
	UpdatePreferences(ctx context.Context, tenantID, accountID string, prefs *Preferences) error
	GetQuietHours(ctx context.Context, tenantID, accountID string) (*QuietHours, error)
	UpdateQuietHours(ctx context.Context, tenantID, accountID string, q QuietHours) error
}

// Snapshot is an immutable view of one account's explicit preference rows,
// used by the channel filter. Missing rows resolve permissively.
type Snapshot struct {
	channels map[notification.Channel]bool
	types    map[notification.Type][]notification.Channel
	// FallbackUsed records that the snapshot was built from defaults
	// because the store read failed.
	FallbackUsed bool
}

// NewSnapshot indexes explicit rows for filtering. A nil prefs value
// yields a snapshot with no rows.
func NewSnapshot(prefs *Preferences, fallbackUsed bool) *Snapshot {
	s := &Snapshot{
		channels:     make(map[notification.Channel]bool),
		types:        make(map[notification.Type][]notification.Channel),
		FallbackUsed: fallbackUsed,
	}
	if prefs == nil {
		return s
	}
	for _, cp := range prefs.Channels {
		s.channels[cp.Channel] = cp.Enabled
	}
	for _, tp := range prefs.Types {
		s.types[tp.Type] = append([]notification.Channel(nil), tp.EnabledChannels...)
	}
	return s
}

// ChannelEnabled reports whether the channel is enabled. Missing row
// means enabled.
func (s *Snapshot) ChannelEnabled(c notification.Channel) bool {
	enabled, ok := s.channels[c]
	if !ok {
		return true
	}
	return enabled
}

// TypeEnabledForChannel reports whether the type may use the channel.
// A missing row permits everything except marketing, which stays on
// email until the account opts in.
func (s *Snapshot) TypeEnabledForChannel(t notification.Type, c notification.Channel) bool {
	allowed, ok := s.types[t]
	if !ok {
		if t == notification.TypeMarketing {
			return c == notification.ChannelEmail
		}
		return true
	}
	for _, a := range allowed {
		if a == c {
			return true
		}
	}
	return false
}

// EnabledChannelsForType intersects the requested channels with the
// channel and type rows, preserving the requested order.
func (s *Snapshot) EnabledChannelsForType(t notification.Type, requested []notification.Channel) []notification.Channel {
	out := make([]notification.Channel, 0, len(requested))
	for _, c := range requested {
		if s.ChannelEnabled(c) && s.TypeEnabledForChannel(t, c) {
			out = append(out, c)
		}
	}
	return out
}

// Resolve loads the account's explicit rows and builds a Snapshot.
// Storage failures fail open: the returned snapshot has no rows, carries
// FallbackUsed, and the error is returned for logging only.
func Resolve(ctx context.Context, store Store, tenantID, accountID string) (*Snapshot, error) {
	prefs, err := store.Get(ctx, tenantID, accountID)
	if err != nil {
		return NewSnapshot(nil, true), err
	}
	return NewSnapshot(prefs, false), nil
}

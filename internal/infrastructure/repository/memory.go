// Package repository provides the persistence implementations: mutex
// guarded in-memory stores for tests and local runs, Elasticsearch for
// notifications, and Redis for preferences and device tokens.
package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beegy-labs/notification-service/internal/domain/device"
	"github.com/beegy-labs/notification-service/internal/domain/notification"
	"github.com/beegy-labs/notification-service/internal/domain/preference"
)

func acctKey(tenantID, accountID string) string {
	return tenantID + "/" + accountID
}

// MemoryNotificationRepository keeps notification rows in a map keyed by
// id. Create is exclusive on the id, matching the idempotency contract.
type MemoryNotificationRepository struct {
	mu    sync.RWMutex
	rows  map[string]*notification.Notification
	order map[string]uint64
	seq   uint64
}

func NewMemoryNotificationRepository() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{
		rows:  make(map[string]*notification.Notification),
		order: make(map[string]uint64),
	}
}

func (r *MemoryNotificationRepository) Create(_ context.Context, n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[n.ID]; ok {
		return notification.ErrAlreadyExists
	}
	r.seq++
	r.order[n.ID] = r.seq
	r.rows[n.ID] = n.Clone()
	return nil
}

func (r *MemoryNotificationRepository) GetByID(_ context.Context, id string) (*notification.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.rows[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	return n.Clone(), nil
}

func (r *MemoryNotificationRepository) Update(_ context.Context, n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[n.ID]; !ok {
		return notification.ErrNotFound
	}
	r.rows[n.ID] = n.Clone()
	return nil
}

func (r *MemoryNotificationRepository) List(_ context.Context, f notification.Filter) (*notification.Page, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*notification.Notification, 0)
	var unread int64
	for _, n := range r.rows {
		if n.TenantID != f.TenantID || n.AccountID != f.AccountID {
			continue
		}
		if n.ReadAt == nil {
			unread++
		}
		if f.Channel != "" && n.Channel != f.Channel {
			continue
		}
		if f.UnreadOnly && n.ReadAt != nil {
			continue
		}
		matched = append(matched, n)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return r.order[matched[i].ID] > r.order[matched[j].ID]
	})

	page := &notification.Page{
		TotalCount:  int64(len(matched)),
		UnreadCount: unread,
	}
	start := (f.Page - 1) * f.PageSize
	if start >= len(matched) {
		page.Items = []*notification.Notification{}
		return page, nil
	}
	end := start + f.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	page.Items = make([]*notification.Notification, 0, end-start)
	for _, n := range matched[start:end] {
		page.Items = append(page.Items, n.Clone())
	}
	return page, nil
}

func (r *MemoryNotificationRepository) MarkRead(_ context.Context, tenantID, accountID string, ids []string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var updated int64
	for _, id := range ids {
		n, ok := r.rows[id]
		if !ok || n.TenantID != tenantID || n.AccountID != accountID || n.ReadAt != nil {
			continue
		}
		readAt := at
		n.Status = notification.StatusRead
		n.ReadAt = &readAt
		n.UpdatedAt = at
		updated++
	}
	return updated, nil
}

// MemoryPreferenceStore keeps explicit preference rows per account.
type MemoryPreferenceStore struct {
	mu       sync.RWMutex
	channels map[string]map[notification.Channel]bool
	types    map[string]map[notification.Type][]notification.Channel
	quiet    map[string]preference.QuietHours
}

func NewMemoryPreferenceStore() *MemoryPreferenceStore {
	return &MemoryPreferenceStore{
		channels: make(map[string]map[notification.Channel]bool),
		types:    make(map[string]map[notification.Type][]notification.Channel),
		quiet:    make(map[string]preference.QuietHours),
	}
}

func (s *MemoryPreferenceStore) Get(_ context.Context, tenantID, accountID string) (*preference.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := acctKey(tenantID, accountID)
	out := &preference.Preferences{}
	if rows, ok := s.channels[key]; ok {
		for _, c := range notification.AllChannels {
			if enabled, found := rows[c]; found {
				out.Channels = append(out.Channels, preference.ChannelPreference{Channel: c, Enabled: enabled})
			}
		}
	}
	if rows, ok := s.types[key]; ok {
		for _, t := range notification.AllTypes {
			if chs, found := rows[t]; found {
				out.Types = append(out.Types, preference.TypePreference{
					Type:            t,
					EnabledChannels: append([]notification.Channel(nil), chs...),
				})
			}
		}
	}
	return out, nil
}

func (s *MemoryPreferenceStore) Update(_ context.Context, tenantID, accountID string, prefs *preference.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := acctKey(tenantID, accountID)
	if s.channels[key] == nil {
		s.channels[key] = make(map[notification.Channel]bool)
	}
	if s.types[key] == nil {
		s.types[key] = make(map[notification.Type][]notification.Channel)
	}
	for _, cp := range prefs.Channels {
		s.channels[key][cp.Channel] = cp.Enabled
	}
	for _, tp := range prefs.Types {
		s.types[key][tp.Type] = append([]notification.Channel(nil), tp.EnabledChannels...)
	}
	return nil
}

func (s *MemoryPreferenceStore) GetQuietHours(_ context.Context, tenantID, accountID string) (*preference.QuietHours, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quiet[acctKey(tenantID, accountID)]
	if !ok {
		return nil, preference.ErrNotFound
	}
	return &q, nil
}

func (s *MemoryPreferenceStore) UpdateQuietHours(_ context.Context, tenantID, accountID string, q preference.QuietHours) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quiet[acctKey(tenantID, accountID)] = q
	return nil
}

// MemoryDeviceRegistry keeps token rows with the same uniqueness rules
// as the Redis registry: one row per raw token globally, one row per
// (tenant, account, deviceId).
type MemoryDeviceRegistry struct {
	mu       sync.Mutex
	rows     map[string]*device.Token
	byToken  map[string]string
	byDevice map[string]string
	now      func() time.Time
}

func NewMemoryDeviceRegistry() *MemoryDeviceRegistry {
	return &MemoryDeviceRegistry{
		rows:     make(map[string]*device.Token),
		byToken:  make(map[string]string),
		byDevice: make(map[string]string),
		now:      time.Now,
	}
}

func deviceKey(tenantID, accountID, deviceID string) string {
	return tenantID + "/" + accountID + "/" + deviceID
}

func (r *MemoryDeviceRegistry) Register(_ context.Context, t *device.Token) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()

	// Upsert target: the account's row for this deviceId, else the
	// account's row already holding this token.
	var row *device.Token
	if t.DeviceID != "" {
		if id, ok := r.byDevice[deviceKey(t.TenantID, t.AccountID, t.DeviceID)]; ok {
			row = r.rows[id]
		}
	}
	if row == nil {
		if id, ok := r.byToken[t.Token]; ok {
			cand := r.rows[id]
			if cand.TenantID == t.TenantID && cand.AccountID == t.AccountID &&
				(t.DeviceID == "" || cand.DeviceID == "") {
				row = cand
			}
		}
	}

	// Any other row still holding this token loses it. That includes
	// rows under a different account: re-registering a token moves it.
	if id, ok := r.byToken[t.Token]; ok {
		if other := r.rows[id]; row == nil || other.ID != row.ID {
			r.deleteLocked(other)
		}
	}

	if row == nil {
		row = &device.Token{
			ID:        uuid.New().String(),
			TenantID:  t.TenantID,
			AccountID: t.AccountID,
			CreatedAt: now,
		}
		r.rows[row.ID] = row
	}
	if row.Token != "" && row.Token != t.Token {
		delete(r.byToken, row.Token)
	}
	if t.DeviceID != "" && row.DeviceID != t.DeviceID {
		if row.DeviceID != "" {
			delete(r.byDevice, deviceKey(row.TenantID, row.AccountID, row.DeviceID))
		}
		row.DeviceID = t.DeviceID
	}
	row.Token = t.Token
	row.Platform = t.Platform
	row.DeviceInfo = t.DeviceInfo
	row.LastUsedAt = now

	r.byToken[row.Token] = row.ID
	if row.DeviceID != "" {
		r.byDevice[deviceKey(row.TenantID, row.AccountID, row.DeviceID)] = row.ID
	}
	return row.ID, nil
}

func (r *MemoryDeviceRegistry) deleteLocked(row *device.Token) {
	delete(r.rows, row.ID)
	delete(r.byToken, row.Token)
	if row.DeviceID != "" {
		delete(r.byDevice, deviceKey(row.TenantID, row.AccountID, row.DeviceID))
	}
}

func (r *MemoryDeviceRegistry) Unregister(_ context.Context, tenantID, accountID, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byToken[token]
	if !ok {
		return false, nil
	}
	row := r.rows[id]
	if row.TenantID != tenantID || row.AccountID != accountID {
		return false, nil
	}
	r.deleteLocked(row)
	return true, nil
}

func (r *MemoryDeviceRegistry) ListForAccount(_ context.Context, tenantID, accountID string) ([]*device.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*device.Token, 0)
	for _, row := range r.rows {
		if row.TenantID == tenantID && row.AccountID == accountID {
			out = append(out, row.Clone())
		}
	}
	sortTokensByLastUsed(out)
	return out, nil
}

// sortTokensByLastUsed orders most recently used first, id as tiebreak
// so listings are stable.
func sortTokensByLastUsed(rows []*device.Token) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].LastUsedAt.Equal(rows[j].LastUsedAt) {
			return rows[i].LastUsedAt.After(rows[j].LastUsedAt)
		}
		return rows[i].ID < rows[j].ID
	})
}

func (r *MemoryDeviceRegistry) ActiveTokens(ctx context.Context, tenantID, accountID string) ([]string, error) {
	rows, err := r.ListForAccount(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}
	tokens := make([]string, 0, len(rows))
	for _, row := range rows {
		tokens = append(tokens, row.Token)
	}
	return tokens, nil
}

func (r *MemoryDeviceRegistry) EvictByToken(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byToken[token]; ok {
		r.deleteLocked(r.rows[id])
	}
	return nil
}

func (r *MemoryDeviceRegistry) DeleteStale(_ context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for _, row := range r.rows {
		if row.LastUsedAt.Before(olderThan) {
			r.deleteLocked(row)
			removed++
		}
	}
	return removed, nil
}
